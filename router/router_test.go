package router

import (
	"context"
	"testing"

	"github.com/rogerchi/ddb-stream-router-sub001/attr"
	"github.com/rogerchi/ddb-stream-router-sub001/internal/queue"
	"github.com/rogerchi/ddb-stream-router-sub001/middleware"
	"github.com/rogerchi/ddb-stream-router-sub001/predicate"
	"github.com/rogerchi/ddb-stream-router-sub001/record"
	"github.com/rogerchi/ddb-stream-router-sub001/registry"
	"github.com/stretchr/testify/require"
)

func treeMap(kv map[string]attr.Tree) *attr.Tree {
	t := attr.Map(kv)
	return &t
}

func keyOf(pk, sk string) map[string]attr.Tree {
	return map[string]attr.Tree{"pk": attr.String(pk), "sk": attr.String(sk)}
}

func insertRec(eventID string, new *attr.Tree) *record.Record {
	return &record.Record{OperationKind: record.Insert, Keys: keyOf("A", "v0"), NewImage: new, EventID: eventID}
}

func modifyRec(eventID string, old, new *attr.Tree) *record.Record {
	return &record.Record{OperationKind: record.Modify, Keys: keyOf("A", "v0"), OldImage: old, NewImage: new, EventID: eventID}
}

func removeRec(eventID string, old *attr.Tree, identity *record.UserIdentity) *record.Record {
	op := record.Remove
	if identity.IsTTLSweeper() {
		op = record.TTLRemove
	}
	return &record.Record{OperationKind: op, Keys: keyOf("A", "v0"), OldImage: old, EventID: eventID, UserIdentity: identity}
}

// TestS1BasicLifecycle reproduces spec.md's S1 scenario end to end.
func TestS1BasicLifecycle(t *testing.T) {
	require := require.New(t)
	var reg registry.Registry

	var insertImmediate, insertDeferred, modifyAny, statusChange, pendingToActive, toCompleted, removed int

	_, err := reg.OnInsert(nil, registry.SingleCallback(func(interface{}, *record.Record, *middleware.Ctx) error {
		insertImmediate++
		return nil
	}), registry.Options{})
	require.NoError(err)

	_, err = reg.OnInsert(nil, registry.SingleCallback(func(interface{}, *record.Record, *middleware.Ctx) error {
		insertDeferred++
		return nil
	}), registry.Options{Deferred: true})
	require.NoError(err)

	_, err = reg.OnModify(predicate.Always(), registry.ModifyCallback(func(interface{}, interface{}, *record.Record, *middleware.Ctx) error {
		modifyAny++
		return nil
	}), registry.Options{})
	require.NoError(err)

	_, err = reg.OnChangeTypes("status", []predicate.ChangeKind{predicate.KindAdded, predicate.KindChanged}, registry.ModifyCallback(func(interface{}, interface{}, *record.Record, *middleware.Ctx) error {
		statusChange++
		return nil
	}), registry.Options{})
	require.NoError(err)

	_, err = reg.OnModify(predicate.AllOf(
		predicate.ChangedAttribute("status"),
		predicate.TypeGuard(func(t *attr.Tree) bool { return t != nil && t.Map["status"].Str == "active" }),
	), registry.ModifyCallback(func(interface{}, interface{}, *record.Record, *middleware.Ctx) error {
		pendingToActive++
		return nil
	}), registry.Options{})
	require.NoError(err)

	_, err = reg.OnModify(predicate.AllOf(
		predicate.ChangedAttribute("status"),
		predicate.TypeGuard(func(t *attr.Tree) bool { return t != nil && t.Map["status"].Str == "completed" }),
	), registry.ModifyCallback(func(interface{}, interface{}, *record.Record, *middleware.Ctx) error {
		toCompleted++
		return nil
	}), registry.Options{})
	require.NoError(err)

	_, err = reg.OnRemove(nil, registry.SingleCallback(func(interface{}, *record.Record, *middleware.Ctx) error {
		removed++
		return nil
	}), registry.Options{})
	require.NoError(err)

	sr := New(&reg, nil, nil)

	v0 := treeMap(map[string]attr.Tree{"data": attr.String("initial")})
	v1 := treeMap(map[string]attr.Tree{"data": attr.String("updated")})
	v2 := treeMap(map[string]attr.Tree{"data": attr.String("updated"), "status": attr.String("pending")})
	v3 := treeMap(map[string]attr.Tree{"data": attr.String("updated"), "status": attr.String("active")})
	v4 := treeMap(map[string]attr.Tree{"data": attr.String("updated"), "status": attr.String("completed")})

	recs := []*record.Record{
		insertRec("e1", v0),
		modifyRec("e2", v0, v1),
		modifyRec("e3", v1, v2),
		modifyRec("e4", v2, v3),
		modifyRec("e5", v3, v4),
		removeRec("e6", v4, nil),
	}

	require.NoError(sr.Process(context.Background(), recs))

	require.Equal(1, insertImmediate)
	require.Equal(0, insertDeferred, "deferred INSERT handler does not fire on the first pass")
	require.Equal(4, modifyAny)
	require.Equal(3, statusChange)
	require.Equal(1, pendingToActive)
	require.Equal(1, toCompleted)
	require.Equal(1, removed)
}

// TestS2BatchGrouping reproduces spec.md's S2 scenario.
func TestS2BatchGrouping(t *testing.T) {
	require := require.New(t)
	var reg registry.Registry

	var calls int
	var gotLen int
	_, err := reg.OnInsert(nil, registry.BatchCallback(func(entries []registry.BatchEntry, _ *middleware.Ctx) error {
		calls++
		gotLen = len(entries)
		return nil
	}), registry.Options{
		Batch: true,
		BatchKey: func(rec *record.Record) string {
			return rec.NewImage.Map["status"].Str
		},
	})
	require.NoError(err)

	sr := New(&reg, nil, nil)
	img := treeMap(map[string]attr.Tree{"status": attr.String("pending")})
	recs := []*record.Record{
		insertRec("e1", img),
		insertRec("e2", img),
		insertRec("e3", img),
	}

	require.NoError(sr.Process(context.Background(), recs))
	require.Equal(1, calls)
	require.Equal(3, gotLen)
}

// TestS2MaxBatchSizeEarlyFlush verifies property #7's bound.
func TestS2MaxBatchSizeEarlyFlush(t *testing.T) {
	require := require.New(t)
	var reg registry.Registry

	var batches [][]registry.BatchEntry
	_, err := reg.OnInsert(nil, registry.BatchCallback(func(entries []registry.BatchEntry, _ *middleware.Ctx) error {
		cp := append([]registry.BatchEntry(nil), entries...)
		batches = append(batches, cp)
		return nil
	}), registry.Options{
		Batch:        true,
		MaxBatchSize: 2,
		BatchKey:     func(rec *record.Record) string { return "k" },
	})
	require.NoError(err)

	sr := New(&reg, nil, nil)
	img := treeMap(map[string]attr.Tree{"status": attr.String("pending")})
	recs := []*record.Record{insertRec("e1", img), insertRec("e2", img), insertRec("e3", img)}

	require.NoError(sr.Process(context.Background(), recs))
	require.Len(batches, 2)
	require.Len(batches[0], 2)
	require.Len(batches[1], 1)
}

// TestS3MiddlewareOrder reproduces spec.md's S3 scenario.
func TestS3MiddlewareOrder(t *testing.T) {
	require := require.New(t)
	var reg registry.Registry

	var got []string
	mark := func(name string) middleware.Middleware {
		return func(ctx context.Context, rec *record.Record, rc *middleware.Ctx, next middleware.Next) error {
			v, _ := rc.Get("executed")
			executed, _ := v.([]string)
			rc.Set("executed", append(executed, name))
			return next(ctx)
		}
	}

	_, err := reg.OnInsert(nil, registry.SingleCallback(func(_ interface{}, _ *record.Record, rc *middleware.Ctx) error {
		v, _ := rc.Get("executed")
		got, _ = v.([]string)
		return nil
	}), registry.Options{Use: middleware.Chain{mark("m1"), mark("m2"), mark("m3")}})
	require.NoError(err)

	sr := New(&reg, nil, nil)
	require.NoError(sr.Process(context.Background(), []*record.Record{insertRec("e1", treeMap(nil))}))
	require.Equal([]string{"m1", "m2", "m3"}, got)
}

// TestS3ShortCircuit verifies a middleware that doesn't call next prevents
// the callback from firing.
func TestS3ShortCircuit(t *testing.T) {
	require := require.New(t)
	var reg registry.Registry

	var fired bool
	blocker := func(ctx context.Context, rec *record.Record, rc *middleware.Ctx, next middleware.Next) error {
		return nil // short-circuit: never calls next
	}

	_, err := reg.OnInsert(nil, registry.SingleCallback(func(interface{}, *record.Record, *middleware.Ctx) error {
		fired = true
		return nil
	}), registry.Options{Use: middleware.Chain{blocker}})
	require.NoError(err)

	sr := New(&reg, nil, nil)
	require.NoError(sr.Process(context.Background(), []*record.Record{insertRec("e1", treeMap(nil))}))
	require.False(fired)
}

// TestS4FieldClearedVsChanged reproduces spec.md's S4 scenario.
func TestS4FieldClearedVsChanged(t *testing.T) {
	require := require.New(t)

	run := func(old, new *attr.Tree) (cleared, changed int) {
		var reg registry.Registry
		_, err := reg.OnFieldCleared("email", registry.ModifyCallback(func(interface{}, interface{}, *record.Record, *middleware.Ctx) error {
			cleared++
			return nil
		}), registry.Options{})
		require.NoError(err)
		_, err = reg.OnChange("email", registry.ModifyCallback(func(interface{}, interface{}, *record.Record, *middleware.Ctx) error {
			changed++
			return nil
		}), registry.Options{})
		require.NoError(err)

		sr := New(&reg, nil, nil)
		require.NoError(sr.Process(context.Background(), []*record.Record{modifyRec("e1", old, new)}))
		return
	}

	cleared, changed := run(
		treeMap(map[string]attr.Tree{"email": attr.String("x")}),
		treeMap(map[string]attr.Tree{"email": attr.Null()}),
	)
	require.Equal(1, cleared)
	require.Equal(0, changed)

	cleared, changed = run(
		treeMap(map[string]attr.Tree{"email": attr.String("x")}),
		treeMap(map[string]attr.Tree{"email": attr.String("y")}),
	)
	require.Equal(0, cleared)
	require.Equal(1, changed)
}

// TestS5ValidationTargetBothPartial reproduces spec.md's S5 scenario.
func TestS5ValidationTargetBothPartial(t *testing.T) {
	require := require.New(t)

	schema, err := predicate.Compile(map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"name"},
		"properties": map[string]interface{}{
			"name": map[string]interface{}{"type": "string"},
		},
	})
	require.NoError(err)

	var bothFired, newFired, oldFired int
	var reg registry.Registry
	_, err = reg.OnModify(predicate.SchemaMatch(schema), registry.ModifyCallback(func(interface{}, interface{}, *record.Record, *middleware.Ctx) error {
		bothFired++
		return nil
	}), registry.Options{ValidationTarget: registry.TargetBoth})
	require.NoError(err)
	_, err = reg.OnModify(predicate.SchemaMatch(schema), registry.ModifyCallback(func(interface{}, interface{}, *record.Record, *middleware.Ctx) error {
		newFired++
		return nil
	}), registry.Options{ValidationTarget: registry.TargetNewImage})
	require.NoError(err)
	_, err = reg.OnModify(predicate.SchemaMatch(schema), registry.ModifyCallback(func(interface{}, interface{}, *record.Record, *middleware.Ctx) error {
		oldFired++
		return nil
	}), registry.Options{ValidationTarget: registry.TargetOldImage})
	require.NoError(err)

	sr := New(&reg, nil, nil)
	old := treeMap(map[string]attr.Tree{"name": attr.String("ok")})
	newImg := treeMap(map[string]attr.Tree{"other": attr.String("no-name-field")})

	require.NoError(sr.Process(context.Background(), []*record.Record{modifyRec("e1", old, newImg)}))

	require.Equal(0, bothFired, "target=both requires both images to validate")
	require.Equal(0, newFired, "new image is missing the required field")
	require.Equal(1, oldFired, "old image satisfies the schema")
}

// TestValidationTargetBothTypeGuard exercises a TypeGuard predicate (not
// just schema()) under validationTarget=both, mirroring S5 but for the
// predicate kind that once silently checked only the new image.
func TestValidationTargetBothTypeGuard(t *testing.T) {
	require := require.New(t)

	isActive := predicate.TypeGuard(func(tr *attr.Tree) bool {
		return tr != nil && tr.Map["status"].Str == "active"
	})

	var fired int
	var reg registry.Registry
	_, err := reg.OnModify(isActive, registry.ModifyCallback(func(interface{}, interface{}, *record.Record, *middleware.Ctx) error {
		fired++
		return nil
	}), registry.Options{ValidationTarget: registry.TargetBoth})
	require.NoError(err)

	sr := New(&reg, nil, nil)

	// old=active, new=pending: new image fails the guard, must not fire.
	active := treeMap(map[string]attr.Tree{"status": attr.String("active")})
	pending := treeMap(map[string]attr.Tree{"status": attr.String("pending")})
	require.NoError(sr.Process(context.Background(), []*record.Record{modifyRec("e1", active, pending)}))
	require.Equal(0, fired, "new image alone fails the guard under target=both")

	// old=pending, new=active: old image fails the guard, must not fire.
	require.NoError(sr.Process(context.Background(), []*record.Record{modifyRec("e2", pending, active)}))
	require.Equal(0, fired, "old image alone fails the guard under target=both")

	// both active: must fire exactly once.
	require.NoError(sr.Process(context.Background(), []*record.Record{modifyRec("e3", active, active)}))
	require.Equal(1, fired, "both images satisfy the guard")
}

// TestS6NestedSibling reproduces spec.md's S6 scenario.
func TestS6NestedSibling(t *testing.T) {
	require := require.New(t)

	run := func(old, new *attr.Tree) (theme, notifications, prefs int) {
		var reg registry.Registry
		_, err := reg.OnChange("preferences.theme", registry.ModifyCallback(func(interface{}, interface{}, *record.Record, *middleware.Ctx) error {
			theme++
			return nil
		}), registry.Options{})
		require.NoError(err)
		_, err = reg.OnChange("preferences.notifications", registry.ModifyCallback(func(interface{}, interface{}, *record.Record, *middleware.Ctx) error {
			notifications++
			return nil
		}), registry.Options{})
		require.NoError(err)
		_, err = reg.OnChange("preferences", registry.ModifyCallback(func(interface{}, interface{}, *record.Record, *middleware.Ctx) error {
			prefs++
			return nil
		}), registry.Options{})
		require.NoError(err)

		sr := New(&reg, nil, nil)
		require.NoError(sr.Process(context.Background(), []*record.Record{modifyRec("e1", old, new)}))
		return
	}

	base := treeMap(map[string]attr.Tree{
		"preferences": attr.Map(map[string]attr.Tree{
			"theme":         attr.String("light"),
			"notifications": attr.Bool(true),
		}),
	})
	themeChanged := treeMap(map[string]attr.Tree{
		"preferences": attr.Map(map[string]attr.Tree{
			"theme":         attr.String("dark"),
			"notifications": attr.Bool(true),
		}),
	})
	theme, notifications, prefs := run(base, themeChanged)
	require.Equal(1, theme)
	require.Equal(0, notifications)
	require.Equal(1, prefs)

	notifChanged := treeMap(map[string]attr.Tree{
		"preferences": attr.Map(map[string]attr.Tree{
			"theme":         attr.String("light"),
			"notifications": attr.Bool(false),
		}),
	})
	theme, notifications, prefs = run(base, notifChanged)
	require.Equal(0, theme)
	require.Equal(1, notifications)
	require.Equal(1, prefs)
}

// TestTTLRoutingProperty5 reproduces property #5.
func TestTTLRoutingProperty5(t *testing.T) {
	require := require.New(t)
	var reg registry.Registry

	var removeFired, ttlFired int
	_, err := reg.OnRemove(nil, registry.SingleCallback(func(interface{}, *record.Record, *middleware.Ctx) error {
		removeFired++
		return nil
	}), registry.Options{})
	require.NoError(err)
	_, err = reg.OnTTLRemove(nil, registry.SingleCallback(func(interface{}, *record.Record, *middleware.Ctx) error {
		ttlFired++
		return nil
	}), registry.Options{})
	require.NoError(err)

	sr := New(&reg, nil, nil)
	img := treeMap(map[string]attr.Tree{"data": attr.String("x")})

	ttlIdentity := &record.UserIdentity{PrincipalID: "dynamodb.amazonaws.com", Type: "Service"}
	require.NoError(sr.Process(context.Background(), []*record.Record{removeRec("e1", img, ttlIdentity)}))
	require.Equal(1, removeFired, "TTL removes still trigger plain REMOVE handlers")
	require.Equal(1, ttlFired)

	removeFired, ttlFired = 0, 0
	userIdentity := &record.UserIdentity{PrincipalID: "arn:aws:iam::1:user/me", Type: "IAMUser"}
	require.NoError(sr.Process(context.Background(), []*record.Record{removeRec("e2", img, userIdentity)}))
	require.Equal(1, removeFired)
	require.Equal(0, ttlFired, "user-initiated REMOVE never triggers a TTL_REMOVE handler")
}

// TestDeferralAtMostOncePairing reproduces property #6.
func TestDeferralAtMostOncePairing(t *testing.T) {
	require := require.New(t)
	var reg registry.Registry

	var immediateFires, deferredFires int
	_, err := reg.OnInsert(nil, registry.SingleCallback(func(interface{}, *record.Record, *middleware.Ctx) error {
		immediateFires++
		return nil
	}), registry.Options{})
	require.NoError(err)

	h, err := reg.OnInsert(nil, registry.SingleCallback(func(interface{}, *record.Record, *middleware.Ctx) error {
		deferredFires++
		return nil
	}), registry.Options{Deferred: true})
	require.NoError(err)

	q := &fakeQueue{}
	sr := New(&reg, nil, q)
	img := treeMap(map[string]attr.Tree{"data": attr.String("x")})
	rec := insertRec("e1", img)

	require.NoError(sr.Process(context.Background(), []*record.Record{rec}))
	require.Equal(1, immediateFires)
	require.Equal(0, deferredFires)
	require.Len(q.published, 1)
	require.Equal(h.ID, q.published[0].HandlerID)

	reinjected := *rec
	reinjected.Deferred = true
	require.NoError(sr.Process(context.Background(), []*record.Record{&reinjected}))
	require.Equal(1, immediateFires, "non-deferred handlers do not re-fire on re-injection")
	require.Equal(1, deferredFires)
}

type fakeQueue struct {
	published []queue.Message
}

func (f *fakeQueue) Publish(_ context.Context, msg queue.Message) error {
	f.published = append(f.published, msg)
	return nil
}
