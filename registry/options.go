package registry

import (
	"fmt"

	"dario.cat/mergo"
	"github.com/rogerchi/ddb-stream-router-sub001/middleware"
	"github.com/rogerchi/ddb-stream-router-sub001/record"
)

// Options is the recognized registration configuration object (§6). Zero
// value fields are filled from defaultOptions by mergo the same way
// pkg/file merges a partial YAML document over computed defaults in the
// teacher repo.
type Options struct {
	// Name is an optional human-readable label for the handler (e.g.
	// "On Order Status Change"); it has no effect on matching or dispatch
	// and exists purely for diagnostics, normalized into Handler.Slug.
	Name             string
	ValidationTarget ValidationTarget
	Batch            bool
	BatchKey         func(rec *record.Record) string
	MaxBatchSize     int
	ExcludeTTL       bool
	Deferred         bool
	Use              middleware.Chain
}

func defaultOptions() Options {
	return Options{ValidationTarget: TargetNewImage}
}

// resolved merges opts over the package defaults and validates the
// configuration-error cases called out in §7 (batch=true without
// batchKey).
func resolved(opts Options) (Options, error) {
	out := opts
	if err := mergo.Merge(&out, defaultOptions()); err != nil {
		return Options{}, fmt.Errorf("registry: merge options: %w", err)
	}
	if out.Batch && out.BatchKey == nil {
		return Options{}, fmt.Errorf("registry: configuration error: batch=true requires batchKey")
	}
	if out.MaxBatchSize < 0 {
		return Options{}, fmt.Errorf("registry: configuration error: maxBatchSize must be positive")
	}
	return out, nil
}
