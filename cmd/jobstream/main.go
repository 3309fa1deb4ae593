package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	serverrun "github.com/rzbill/jobstream/internal/cmd/server"
	cfgpkg "github.com/rzbill/jobstream/internal/config"
	"github.com/rzbill/jobstream/internal/queue"
	logpkg "github.com/rzbill/jobstream/pkg/log"
	"github.com/spf13/cobra"
)

func main() {
	level := os.Getenv("JOBSTREAM_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "jobstream",
		Short: "Jobstream CLI",
		Long:  "Jobstream is an asynchronous job queue with priority scheduling and event streaming. This CLI manages the server and basic operations.",
	}

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start jobstream server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			httpAddr, _ := cmd.Flags().GetString("http")
			redisAddr, _ := cmd.Flags().GetString("redis")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfgpkg.FromEnv(&cfg)
			if httpAddr != "" {
				cfg.HTTP.Addr = httpAddr
			}
			if redisAddr != "" {
				cfg.Redis.Addr = redisAddr
			}
			if logLevel != "" {
				_ = os.Setenv("JOBSTREAM_LOG_LEVEL", logLevel)
			}
			if logFormat != "" {
				_ = os.Setenv("JOBSTREAM_LOG_FORMAT", logFormat)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{
				Config:   cfg,
				Registry: queue.NewRegistry(),
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serverStartCmd.Flags().String("config", os.Getenv("JOBSTREAM_CONFIG"), "Path to JSON config file")
	serverStartCmd.Flags().String("http", "", "HTTP listen address (overrides config)")
	serverStartCmd.Flags().String("redis", "", "Redis address (overrides config)")
	serverStartCmd.Flags().String("log-level", os.Getenv("JOBSTREAM_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("JOBSTREAM_LOG_FORMAT"), "Log format: text|json (default text)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	// queue commands
	queueCmd := &cobra.Command{Use: "queue", Short: "Queue operations"}

	queueStatusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show lengths of all registered queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(apiURL() + "/v1/queue/status")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, body, "", "  "); err != nil {
				fmt.Println(string(body))
				return nil
			}
			fmt.Println(pretty.String())
			return nil
		},
	}
	queueCmd.AddCommand(queueStatusCmd)

	queuePurgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Purge one module/priority queue (destructive)",
		RunE: func(cmd *cobra.Command, args []string) error {
			module, _ := cmd.Flags().GetString("module")
			priority, _ := cmd.Flags().GetString("priority")
			b, _ := json.Marshal(map[string]string{"module": module, "priority": priority})
			resp, err := http.Post(apiURL()+"/v1/queue/purge", "application/json", bytes.NewReader(b))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			fmt.Println(string(body))
			return nil
		},
	}
	queuePurgeCmd.Flags().String("module", "", "Module whose queue to purge")
	queuePurgeCmd.Flags().String("priority", "normal", "Priority tier: high|normal|low")
	queueCmd.AddCommand(queuePurgeCmd)

	queueEnqueueCmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a job from a JSON entity",
		RunE: func(cmd *cobra.Command, args []string) error {
			processor, _ := cmd.Flags().GetString("processor")
			entity, _ := cmd.Flags().GetString("entity")
			priority, _ := cmd.Flags().GetString("priority")
			payload := map[string]any{
				"processor": processor,
				"entity":    json.RawMessage(entity),
				"priority":  priority,
			}
			b, err := json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("invalid entity JSON: %w", err)
			}
			resp, err := http.Post(apiURL()+"/v1/queue/enqueue", "application/json", bytes.NewReader(b))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			fmt.Println(string(body))
			return nil
		},
	}
	queueEnqueueCmd.Flags().String("processor", "", "Processor reference (module.name)")
	queueEnqueueCmd.Flags().String("entity", "{}", "Entity JSON payload")
	queueEnqueueCmd.Flags().String("priority", "normal", "Priority tier: high|normal|low")
	queueCmd.AddCommand(queueEnqueueCmd)
	rootCmd.AddCommand(queueCmd)

	// job status
	jobCmd := &cobra.Command{Use: "job", Short: "Job operations"}
	jobStatusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of one operation",
		RunE: func(cmd *cobra.Command, args []string) error {
			opID, _ := cmd.Flags().GetString("operation-id")
			resp, err := http.Get(apiURL() + "/v1/jobs/status?operation_id=" + opID)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			fmt.Println(string(body))
			return nil
		},
	}
	jobStatusCmd.Flags().String("operation-id", "", "Operation id returned by enqueue")
	jobCmd.AddCommand(jobStatusCmd)
	rootCmd.AddCommand(jobCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("JOBSTREAM_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
