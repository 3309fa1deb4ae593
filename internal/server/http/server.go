package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rzbill/jobstream/internal/queue"
	"github.com/rzbill/jobstream/internal/streaming"
	"github.com/rzbill/jobstream/pkg/log"
)

// Server is the HTTP surface over the queue manager and stream subscriber.
type Server struct {
	manager    *queue.Manager
	status     *queue.StatusStore
	subscriber *streaming.Subscriber
	lifecycle  *streaming.Lifecycle
	logger     log.Logger
	srv        *http.Server
	lis        net.Listener
}

// New wires the HTTP routes.
func New(manager *queue.Manager, status *queue.StatusStore, subscriber *streaming.Subscriber, lifecycle *streaming.Lifecycle, logger log.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{
		manager:    manager,
		status:     status,
		subscriber: subscriber,
		lifecycle:  lifecycle,
		logger:     logger.With(log.Component("http")),
		srv:        &http.Server{Handler: cors(mux)},
	}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/queue/enqueue", s.handleEnqueue)
	mux.HandleFunc("/v1/queue/status", s.handleQueueStatus)
	mux.HandleFunc("/v1/queue/purge", s.handlePurge)
	mux.HandleFunc("/v1/jobs/status", s.handleJobStatus)
	mux.HandleFunc("/v1/stream/subscribe", s.handleSubscribeSSE)
	return s
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("http listening", log.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases the listener.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

type enqueueReq struct {
	Processor   string            `json:"processor"`
	Entity      json.RawMessage   `json:"entity,omitempty"`
	Entities    []json.RawMessage `json:"entities,omitempty"`
	Priority    string            `json:"priority,omitempty"`
	OperationID string            `json:"operation_id,omitempty"`
	MaxAttempts int               `json:"max_attempts,omitempty"`
	Delays      []float64         `json:"delays,omitempty"`
	Timeout     float64           `json:"timeout,omitempty"`
	OnSuccess   string            `json:"on_success,omitempty"`
	OnFailure   string            `json:"on_failure,omitempty"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req enqueueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Processor == "" {
		writeError(w, http.StatusBadRequest, "processor required")
		return
	}
	opts := queue.EnqueueOptions{
		Priority:    queue.Priority(req.Priority),
		OperationID: req.OperationID,
		MaxAttempts: req.MaxAttempts,
		Delays:      req.Delays,
		TimeoutSec:  req.Timeout,
		OnSuccess:   req.OnSuccess,
		OnFailure:   req.OnFailure,
	}
	if len(req.Entities) > 0 {
		results, err := s.manager.EnqueueBatch(r.Context(), req.Processor, req.Entities, opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]any{"results": results})
		return
	}
	if len(req.Entity) == 0 {
		writeError(w, http.StatusBadRequest, "entity or entities required")
		return
	}
	result, err := s.manager.Enqueue(r.Context(), req.Processor, req.Entity, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, result)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.manager.GetQueueStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, st)
}

type purgeReq struct {
	Module   string `json:"module"`
	Priority string `json:"priority"`
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req purgeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	n, err := s.manager.PurgeQueue(r.Context(), req.Module, queue.Priority(req.Priority))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]int64{"purged": n})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	opID := r.URL.Query().Get("operation_id")
	if opID == "" {
		writeError(w, http.StatusBadRequest, "operation_id required")
		return
	}
	st, ok, err := s.status.Get(r.Context(), opID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "unknown operation")
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleSubscribeSSE(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channel_id")
	if channelID == "" {
		writeError(w, http.StatusBadRequest, "channel_id required")
		return
	}
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID required")
		return
	}
	filter, err := streaming.NewEventFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid filter expression")
		return
	}

	err = s.lifecycle.WithStreamLease(r.Context(), userID, func(ctx context.Context) error {
		events, err := s.subscriber.Subscribe(ctx, channelID)
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for event := range events {
			if !filter.Match(event) {
				continue
			}
			frame, err := event.EncodeSSE()
			if err != nil {
				continue
			}
			if _, err := w.Write(frame); err != nil {
				return nil // client went away
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		return nil
	})
	if err != nil {
		var limitErr *streaming.LimitExceededError
		if errors.As(err, &limitErr) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":  "stream limit exceeded",
				"limit":  limitErr.Limit,
				"active": limitErr.Active,
			})
			return
		}
		// headers may already be written; log and drop
		s.logger.Warn("stream subscription failed",
			log.Str("channel_id", channelID), log.Err(err))
	}
}
