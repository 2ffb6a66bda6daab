package router

import (
	"context"
	"fmt"

	"github.com/rogerchi/ddb-stream-router-sub001/attr"
	"github.com/rogerchi/ddb-stream-router-sub001/internal/queue"
	"github.com/rogerchi/ddb-stream-router-sub001/record"
	"github.com/rogerchi/ddb-stream-router-sub001/registry"
	"golang.org/x/sync/errgroup"
)

// emitDeferral publishes a deferral message for a matched INSERT handler
// instead of running its callback, per §4.6. The message carries enough
// to re-find the item and the handler on re-injection; it never carries
// the image itself.
func (sr *StreamRouter) emitDeferral(ctx context.Context, h *registry.Handler, rec *record.Record) error {
	if sr.Queue == nil {
		return fmt.Errorf("router: handler %s is deferred but no queue client is configured", h.ID)
	}
	return sr.Queue.Publish(ctx, queue.Message{
		EventID:                rec.EventID,
		Keys:                   stringifyKeys(rec.Keys),
		HandlerID:              h.ID,
		OriginalSequenceNumber: rec.SequenceNumber,
	})
}

func stringifyKeys(keys map[string]attr.Tree) map[string]string {
	out := make(map[string]string, len(keys))
	for k, v := range keys {
		out[k] = v.String()
	}
	return out
}

// Reinject reconstructs the Record a deferral consumer replays on
// re-injection (§4.6, §9): an INSERT record with Deferred set, whose new
// image is whatever fetch.Fetch returns for the message's keys. A nil
// fetch result (item since deleted) re-injects with a nil NewImage,
// which the eligible deferred handler's predicate may legitimately
// reject.
func Reinject(ctx context.Context, msg queue.Message, fetch Fetcher) (*record.Record, error) {
	raw, err := fetch.Fetch(ctx, msg.Keys)
	if err != nil {
		return nil, fmt.Errorf("router: reinject: refetch: %w", err)
	}

	var newImage *attr.Tree
	if raw != nil {
		tree, err := attr.DecodeMap(raw)
		if err != nil {
			return nil, fmt.Errorf("router: reinject: decode refetched image: %w", err)
		}
		newImage = &tree
	}

	keys := make(map[string]attr.Tree, len(msg.Keys))
	for k, v := range msg.Keys {
		keys[k] = attr.String(v)
	}

	return &record.Record{
		OperationKind:  record.Insert,
		Keys:           keys,
		NewImage:       newImage,
		EventID:        msg.EventID,
		SequenceNumber: msg.OriginalSequenceNumber,
		Deferred:       true,
	}, nil
}

// Fetcher is the subset of internal/refetch.Fetcher Reinject needs,
// declared locally so router does not import a specific transport.
type Fetcher interface {
	Fetch(ctx context.Context, keys map[string]string) (map[string]interface{}, error)
}

// FlushDeferrals publishes msgs to sr.Queue concurrently with bounded
// parallelism, for a caller that wants to publish a backlog of deferral
// messages rather than one at a time. It is not used on the main dispatch
// path (§4.6's per-record emission stays sequential there). It only
// publishes: it does not call Reinject or dispatch any handler.
func (sr *StreamRouter) FlushDeferrals(ctx context.Context, msgs []queue.Message, concurrency int) error {
	if sr.Queue == nil {
		return fmt.Errorf("router: FlushDeferrals: no queue client configured")
	}
	if concurrency <= 0 {
		concurrency = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, msg := range msgs {
		msg := msg
		g.Go(func() error {
			return sr.Queue.Publish(gctx, msg)
		})
	}
	return g.Wait()
}
