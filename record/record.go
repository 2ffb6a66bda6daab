// Package record models a single change-data-capture event and decodes it
// from the hosted-NoSQL stream wire format.
package record

import (
	"time"

	"github.com/rogerchi/ddb-stream-router-sub001/attr"
)

// OperationKind is the classified operation a Record describes.
type OperationKind string

const (
	Insert    OperationKind = "INSERT"
	Modify    OperationKind = "MODIFY"
	Remove    OperationKind = "REMOVE"
	TTLRemove OperationKind = "TTL_REMOVE"
)

// ttlPrincipal is the userIdentity principal that identifies a REMOVE as
// having been originated by the table's own TTL sweeper, per §4.1.
const ttlPrincipal = "dynamodb.amazonaws.com"

// UserIdentity distinguishes a TTL-driven REMOVE from a user-initiated
// one.
type UserIdentity struct {
	PrincipalID string
	Type        string
}

// IsTTLSweeper reports whether this identity is the service principal
// used by the TTL sweeper rather than an application/user actor.
func (u *UserIdentity) IsTTLSweeper() bool {
	if u == nil {
		return false
	}
	return u.Type == "Service" && u.PrincipalID == ttlPrincipal
}

// Record is a single CDC event, decoded and classified.
type Record struct {
	OperationKind        OperationKind
	Keys                 map[string]attr.Tree
	OldImage             *attr.Tree
	NewImage             *attr.Tree
	EventID              string
	ApproximateTimestamp time.Time
	SequenceNumber       string
	UserIdentity         *UserIdentity
	Deferred             bool

	diff     attr.Diff
	diffOnce bool
}

// Diff returns the record-wide attribute diff between OldImage and
// NewImage, computing and memoizing it on first use. Absent images are
// treated as empty maps, per §4.1.
func (r *Record) Diff() attr.Diff {
	if r.diffOnce {
		return r.diff
	}
	old := attr.Map(nil)
	if r.OldImage != nil {
		old = *r.OldImage
	}
	newT := attr.Map(nil)
	if r.NewImage != nil {
		newT = *r.NewImage
	}
	r.diff = attr.Compute(old, newT)
	r.diffOnce = true
	return r.diff
}

// classify determines the OperationKind from the wire eventName and the
// TTL-identity check, per §4.1.
func classify(eventName string, identity *UserIdentity) OperationKind {
	switch eventName {
	case "INSERT":
		return Insert
	case "MODIFY":
		return Modify
	case "REMOVE":
		if identity.IsTTLSweeper() {
			return TTLRemove
		}
		return Remove
	default:
		return OperationKind(eventName)
	}
}
