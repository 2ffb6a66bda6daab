// Package config loads engine-level configuration (deferral queue
// endpoint, re-fetch endpoint, default batch size) from a YAML document,
// the same way the teacher's pkg/file loads declarative state, and builds
// the components that configuration actually drives.
package config

import (
	"fmt"

	"github.com/rogerchi/ddb-stream-router-sub001/internal/queue"
	"github.com/rogerchi/ddb-stream-router-sub001/internal/refetch"
	"github.com/rogerchi/ddb-stream-router-sub001/registry"
	"github.com/rogerchi/ddb-stream-router-sub001/report"
	"sigs.k8s.io/yaml"
)

// Config is the engine-level configuration that sits above the registry
// and predicate/middleware wiring: where the deferral queue and re-fetch
// endpoints live, and process-wide defaults.
type Config struct {
	// DeferralQueueEndpoint is the HTTP(S) endpoint the default deferral
	// queue client posts to (§4.6, §6).
	DeferralQueueEndpoint string `json:"deferralQueueEndpoint"`
	// RefetchEndpoint is the HTTP(S) endpoint used to re-fetch an item's
	// current image by key on deferral re-injection (§9).
	RefetchEndpoint string `json:"refetchEndpoint"`
	// DefaultMaxBatchSize applies to batch handlers that do not set
	// their own maxBatchSize; zero means unbounded.
	DefaultMaxBatchSize int `json:"defaultMaxBatchSize"`
	// DisableReporting silences the default console reporter.
	DisableReporting bool `json:"disableReporting"`
}

// Load parses a YAML document into a Config.
func Load(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	return cfg, nil
}

// NewRegistry builds a registry.Registry whose batch handlers fall back
// to DefaultMaxBatchSize unless they set their own maxBatchSize.
func (c Config) NewRegistry() *registry.Registry {
	return registry.NewRegistry(c.DefaultMaxBatchSize)
}

// NewQueueClient builds the default HTTP deferral queue client pointed at
// DeferralQueueEndpoint, or nil when the endpoint is unset (no deferral
// support configured; a handler registered with Deferred: true will then
// report a configuration error the first time it fires, per §7).
func (c Config) NewQueueClient() queue.Client {
	if c.DeferralQueueEndpoint == "" {
		return nil
	}
	return queue.NewHTTPClient(c.DeferralQueueEndpoint)
}

// NewFetcher builds the default HTTP re-fetch client pointed at
// RefetchEndpoint, for a deferral consumer to pass to Reinject, or nil
// when the endpoint is unset.
func (c Config) NewFetcher() refetch.Fetcher {
	if c.RefetchEndpoint == "" {
		return nil
	}
	return &refetch.HTTPFetcher{Endpoint: c.RefetchEndpoint}
}

// Reporter returns the console Reporter, or nil when DisableReporting is
// set, silencing dispatch-error output the same way the teacher's
// cprint.DisableOutput does.
func (c Config) Reporter() report.Reporter {
	if c.DisableReporting {
		return nil
	}
	return report.Console
}
