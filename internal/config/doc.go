// Package config defines jobstream's injected configuration object.
//
// Configuration is loaded from a JSON file and overlaid with JOBSTREAM_*
// environment variables. Components never read the environment themselves;
// they receive the relevant sub-config at construction time.
package config
