package router

import (
	"fmt"
	"sort"
	"strings"

	memdb "github.com/hashicorp/go-memdb"
	"github.com/rogerchi/ddb-stream-router-sub001/registry"
)

// aggregateTable is the single memdb table backing one Process() call's
// batching aggregator: a mapping (handlerID, batchKey) -> ordered list of
// entries (§4.5). A fresh MemDB is built per invocation so aggregator
// state never leaks across process() calls or survives a host crash,
// matching the "aggregator state is private to one invocation, the
// engine does not persist it" rule in §5.
var aggregateSchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		"entries": {
			Name: "entries",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.IntFieldIndex{Field: "Seq"},
				},
				"group": {
					Name:   "group",
					Unique: false,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "HandlerID"},
							&memdb.StringFieldIndex{Field: "BatchKey"},
						},
					},
				},
			},
		},
	},
}

type entryRow struct {
	Seq       int
	HandlerID string
	BatchKey  string
	Entry     registry.BatchEntry
}

// aggregator is the per-Process() batching aggregator.
type aggregator struct {
	db  *memdb.MemDB
	seq int
}

func newAggregator() (*aggregator, error) {
	db, err := memdb.NewMemDB(aggregateSchema)
	if err != nil {
		return nil, fmt.Errorf("router: init aggregator: %w", err)
	}
	return &aggregator{db: db}, nil
}

// flushFunc delivers one flushed group's entries, in arrival order.
type flushFunc func(handlerID, batchKey string, entries []registry.BatchEntry) error

// Append adds entry to the (handlerID, batchKey) group. If maxBatchSize
// is positive and the group already holds that many entries, the
// existing group is flushed immediately via flush before entry starts a
// new group, per §4.5's early-flush rule.
func (a *aggregator) Append(handlerID, batchKey string, entry registry.BatchEntry, maxBatchSize int, flush flushFunc) error {
	rows, err := a.groupRows(handlerID, batchKey)
	if err != nil {
		return err
	}
	var flushErr error
	if maxBatchSize > 0 && len(rows) >= maxBatchSize {
		if err := a.deleteRows(rows); err != nil {
			return err
		}
		flushErr = flush(handlerID, batchKey, entriesOf(rows))
	}

	a.seq++
	row := &entryRow{Seq: a.seq, HandlerID: handlerID, BatchKey: batchKey, Entry: entry}
	txn := a.db.Txn(true)
	if err := txn.Insert("entries", row); err != nil {
		txn.Abort()
		return fmt.Errorf("router: append batch entry: %w", err)
	}
	txn.Commit()
	return flushErr
}

func (a *aggregator) groupRows(handlerID, batchKey string) ([]*entryRow, error) {
	txn := a.db.Txn(false)
	it, err := txn.Get("entries", "group", handlerID, batchKey)
	if err != nil {
		return nil, fmt.Errorf("router: read batch group: %w", err)
	}
	var rows []*entryRow
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rows = append(rows, obj.(*entryRow))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Seq < rows[j].Seq })
	return rows, nil
}

func (a *aggregator) deleteRows(rows []*entryRow) error {
	txn := a.db.Txn(true)
	for _, row := range rows {
		if err := txn.Delete("entries", row); err != nil {
			txn.Abort()
			return fmt.Errorf("router: clear flushed batch group: %w", err)
		}
	}
	txn.Commit()
	return nil
}

func entriesOf(rows []*entryRow) []registry.BatchEntry {
	out := make([]registry.BatchEntry, len(rows))
	for i, row := range rows {
		out[i] = row.Entry
	}
	return out
}

// FlushAll flushes every non-empty group, in the order each group first
// received an entry. Called once at the end of Process() (§4.5).
func (a *aggregator) FlushAll(flush flushFunc) error {
	txn := a.db.Txn(false)
	it, err := txn.Get("entries", "id")
	if err != nil {
		return fmt.Errorf("router: scan aggregator: %w", err)
	}

	var all []*entryRow
	for obj := it.Next(); obj != nil; obj = it.Next() {
		all = append(all, obj.(*entryRow))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Seq < all[j].Seq })

	groups := map[string][]*entryRow{}
	var order []string
	for _, row := range all {
		key := row.HandlerID + "\x00" + row.BatchKey
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}

	for _, key := range order {
		rows := groups[key]
		sort.Slice(rows, func(i, j int) bool { return rows[i].Seq < rows[j].Seq })
		parts := strings.SplitN(key, "\x00", 2)
		if err := flush(parts[0], parts[1], entriesOf(rows)); err != nil {
			return err
		}
	}
	return nil
}
