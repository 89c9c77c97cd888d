// Package gateway defines the remote document store the engine talks to and
// ships the adapters for it. Collections are addressed by slash-separated
// paths so nested collections ("posts/p1/likes") work the same everywhere.
package gateway

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a document does not exist, including a
	// failed "must exist" precondition inside a batch.
	ErrNotFound = errors.New("document not found")

	// ErrAlreadyExists is returned when a create-if-absent precondition fails.
	ErrAlreadyExists = errors.New("document already exists")

	// ErrPermissionDenied is returned when the backend rejects the caller.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrUnavailable covers transient connectivity failures and timeouts.
	ErrUnavailable = errors.New("remote unavailable")
)

// Document is a decoded remote record. Fields hold plain Go values:
// string, bool, int64/float64, []any and map[string]any.
type Document struct {
	ID     string
	Fields map[string]any
}

type Operator string

const (
	OpEqual    Operator = "=="
	OpLess     Operator = "<"
	OpGreater  Operator = ">"
	OpContains Operator = "array-contains"
)

type Filter struct {
	Field string
	Op    Operator
	Value any
}

type Direction int

const (
	Descending Direction = iota
	Ascending
)

// Query describes an ordered, optionally paginated read. Cursor is the ID of
// the last document of the previous page; the page starts strictly after it.
// Ties on OrderBy are broken by document ID in the same direction.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Direction  Direction
	Limit      int
	Cursor     string
	// IDsOnly asks the adapter to skip field payloads where it can.
	IDsOnly bool
}

type Page struct {
	Items  []Document
	Cursor string
}

// Batch queues writes that apply atomically on Commit: either every
// operation and precondition holds, or nothing is written.
type Batch interface {
	Set(collection, id string, fields map[string]any)
	Update(collection, id string, fields map[string]any)
	Delete(collection, id string)
	Increment(collection, id, field string, delta int64)
	// Create fails the whole batch with ErrAlreadyExists if the document exists.
	Create(collection, id string, fields map[string]any)
	// DeleteExisting fails the whole batch with ErrNotFound if the document is missing.
	DeleteExisting(collection, id string)
	Commit(ctx context.Context) error
}

// Gateway is the remote data service. Increment is atomic and never drives
// a counter below zero; callers never read-modify-write counters.
type Gateway interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Query(ctx context.Context, q Query) (Page, error)
	Count(ctx context.Context, collection string, filters []Filter) (int64, error)
	Set(ctx context.Context, collection, id string, fields map[string]any) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	Increment(ctx context.Context, collection, id, field string, delta int64) error
	ArrayUnion(ctx context.Context, collection, id, field string, values ...any) error
	ArrayRemove(ctx context.Context, collection, id, field string, values ...any) error
	Batch() Batch
}

// Path joins collection and document segments: Path("posts", "p1", "likes").
func Path(segments ...string) string {
	return strings.Join(segments, "/")
}

// IsTransient reports whether err is worth degrading on rather than failing.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// opKind enumerates queued batch operations; shared by the adapters.
type opKind int

const (
	opSet opKind = iota
	opUpdate
	opDelete
	opIncrement
	opCreate
	opDeleteExisting
)

type batchOp struct {
	kind       opKind
	collection string
	id         string
	fields     map[string]any
	field      string
	delta      int64
}

// opQueue implements the queuing half of Batch for every adapter.
type opQueue struct {
	ops []batchOp
}

func (q *opQueue) Set(collection, id string, fields map[string]any) {
	q.ops = append(q.ops, batchOp{kind: opSet, collection: collection, id: id, fields: fields})
}

func (q *opQueue) Update(collection, id string, fields map[string]any) {
	q.ops = append(q.ops, batchOp{kind: opUpdate, collection: collection, id: id, fields: fields})
}

func (q *opQueue) Delete(collection, id string) {
	q.ops = append(q.ops, batchOp{kind: opDelete, collection: collection, id: id})
}

func (q *opQueue) Increment(collection, id, field string, delta int64) {
	q.ops = append(q.ops, batchOp{kind: opIncrement, collection: collection, id: id, field: field, delta: delta})
}

func (q *opQueue) Create(collection, id string, fields map[string]any) {
	q.ops = append(q.ops, batchOp{kind: opCreate, collection: collection, id: id, fields: fields})
}

func (q *opQueue) DeleteExisting(collection, id string) {
	q.ops = append(q.ops, batchOp{kind: opDeleteExisting, collection: collection, id: id})
}
