package gateway

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Hook runs before every Memory operation with the operation name
// ("get", "query", "count", "set", "update", "delete", "increment",
// "arrayUnion", "arrayRemove", "commit") and target collection. A non-nil
// error aborts the operation. Hooks run without the store lock held, so they
// may block to simulate latency.
type Hook func(ctx context.Context, op, collection string) error

// Memory is an in-process Gateway. It backs the offline mode and the tests,
// and honours the same atomicity and clamping contract as the remote adapters.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]map[string]map[string]any

	hookMu sync.RWMutex
	hook   Hook
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]map[string]map[string]any)}
}

// SetHook installs (or clears, with nil) the operation hook.
func (m *Memory) SetHook(h Hook) {
	m.hookMu.Lock()
	m.hook = h
	m.hookMu.Unlock()
}

func (m *Memory) runHook(ctx context.Context, op, collection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.hookMu.RLock()
	h := m.hook
	m.hookMu.RUnlock()
	if h == nil {
		return nil
	}
	return h(ctx, op, collection)
}

func (m *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := m.runHook(ctx, "get", collection); err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	fields, ok := m.docs[collection][id]
	if !ok {
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, id, ErrNotFound)
	}
	return Document{ID: id, Fields: copyFields(fields)}, nil
}

func (m *Memory) Query(ctx context.Context, q Query) (Page, error) {
	if err := m.runHook(ctx, "query", q.Collection); err != nil {
		return Page{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := m.matching(q.Collection, q.Filters)
	sortDocs(docs, q.OrderBy, q.Direction)

	start := 0
	if q.Cursor != "" {
		idx := -1
		for i, d := range docs {
			if d.ID == q.Cursor {
				idx = i
				break
			}
		}
		if idx < 0 {
			return Page{}, fmt.Errorf("query %s: cursor %s: %w", q.Collection, q.Cursor, ErrNotFound)
		}
		start = idx + 1
	}
	docs = docs[start:]
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}

	page := Page{Items: make([]Document, 0, len(docs))}
	for _, d := range docs {
		if q.IDsOnly {
			page.Items = append(page.Items, Document{ID: d.ID, Fields: map[string]any{}})
			continue
		}
		page.Items = append(page.Items, Document{ID: d.ID, Fields: copyFields(d.Fields)})
	}
	if len(page.Items) > 0 {
		page.Cursor = page.Items[len(page.Items)-1].ID
	}
	return page, nil
}

func (m *Memory) Count(ctx context.Context, collection string, filters []Filter) (int64, error) {
	if err := m.runHook(ctx, "count", collection); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.matching(collection, filters))), nil
}

func (m *Memory) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := m.runHook(ctx, "set", collection); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(collection, id, copyFields(fields))
	return nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := m.runHook(ctx, "update", collection); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.docs[collection][id]
	if !ok {
		return fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}
	for k, v := range copyFields(fields) {
		current[k] = v
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	if err := m.runHook(ctx, "delete", collection); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs[collection], id)
	return nil
}

func (m *Memory) Increment(ctx context.Context, collection, id, field string, delta int64) error {
	if err := m.runHook(ctx, "increment", collection); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.docs[collection][id]
	if !ok {
		return fmt.Errorf("increment %s/%s: %w", collection, id, ErrNotFound)
	}
	applyIncrement(current, field, delta)
	return nil
}

func (m *Memory) ArrayUnion(ctx context.Context, collection, id, field string, values ...any) error {
	if err := m.runHook(ctx, "arrayUnion", collection); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.docs[collection][id]
	if !ok {
		return fmt.Errorf("array union %s/%s: %w", collection, id, ErrNotFound)
	}
	list, _ := current[field].([]any)
	for _, v := range values {
		if !containsValue(list, v) {
			list = append(list, v)
		}
	}
	current[field] = list
	return nil
}

func (m *Memory) ArrayRemove(ctx context.Context, collection, id, field string, values ...any) error {
	if err := m.runHook(ctx, "arrayRemove", collection); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.docs[collection][id]
	if !ok {
		return fmt.Errorf("array remove %s/%s: %w", collection, id, ErrNotFound)
	}
	list, _ := current[field].([]any)
	kept := make([]any, 0, len(list))
	for _, v := range list {
		if !containsValue(values, v) {
			kept = append(kept, v)
		}
	}
	current[field] = kept
	return nil
}

func (m *Memory) Batch() Batch {
	return &memoryBatch{store: m}
}

// Snapshot returns a copy of one document for assertions; ok is false if absent.
func (m *Memory) Snapshot(collection, id string) (map[string]any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fields, ok := m.docs[collection][id]
	if !ok {
		return nil, false
	}
	return copyFields(fields), true
}

func (m *Memory) put(collection, id string, fields map[string]any) {
	coll, ok := m.docs[collection]
	if !ok {
		coll = make(map[string]map[string]any)
		m.docs[collection] = coll
	}
	coll[id] = fields
}

func (m *Memory) matching(collection string, filters []Filter) []Document {
	var out []Document
	for id, fields := range m.docs[collection] {
		if matchesAll(fields, filters) {
			out = append(out, Document{ID: id, Fields: fields})
		}
	}
	return out
}

type memoryBatch struct {
	opQueue
	store *Memory
}

type stagedDoc struct {
	fields map[string]any
	exists bool
}

func (b *memoryBatch) Commit(ctx context.Context) error {
	if err := b.store.runHook(ctx, "commit", ""); err != nil {
		return err
	}
	m := b.store
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := make(map[[2]string]*stagedDoc)
	load := func(collection, id string) *stagedDoc {
		k := [2]string{collection, id}
		if s, ok := staged[k]; ok {
			return s
		}
		s := &stagedDoc{}
		if fields, ok := m.docs[collection][id]; ok {
			s.fields = copyFields(fields)
			s.exists = true
		}
		staged[k] = s
		return s
	}

	for _, op := range b.ops {
		doc := load(op.collection, op.id)
		switch op.kind {
		case opSet:
			doc.fields, doc.exists = copyFields(op.fields), true
		case opCreate:
			if doc.exists {
				return fmt.Errorf("create %s/%s: %w", op.collection, op.id, ErrAlreadyExists)
			}
			doc.fields, doc.exists = copyFields(op.fields), true
		case opUpdate:
			if !doc.exists {
				return fmt.Errorf("update %s/%s: %w", op.collection, op.id, ErrNotFound)
			}
			for k, v := range copyFields(op.fields) {
				doc.fields[k] = v
			}
		case opIncrement:
			if !doc.exists {
				return fmt.Errorf("increment %s/%s: %w", op.collection, op.id, ErrNotFound)
			}
			applyIncrement(doc.fields, op.field, op.delta)
		case opDeleteExisting:
			if !doc.exists {
				return fmt.Errorf("delete %s/%s: %w", op.collection, op.id, ErrNotFound)
			}
			doc.fields, doc.exists = nil, false
		case opDelete:
			doc.fields, doc.exists = nil, false
		}
	}

	for k, s := range staged {
		if s.exists {
			m.put(k[0], k[1], s.fields)
		} else {
			delete(m.docs[k[0]], k[1])
		}
	}
	return nil
}

func applyIncrement(fields map[string]any, field string, delta int64) {
	current, _ := Int64(fields, field)
	next := current + delta
	if next < 0 {
		next = 0
	}
	fields[field] = next
}

func matchesAll(fields map[string]any, filters []Filter) bool {
	for _, f := range filters {
		v := fields[f.Field]
		switch f.Op {
		case OpEqual:
			if compareValues(v, f.Value) != 0 {
				return false
			}
		case OpLess:
			if v == nil || compareValues(v, f.Value) >= 0 {
				return false
			}
		case OpGreater:
			if v == nil || compareValues(v, f.Value) <= 0 {
				return false
			}
		case OpContains:
			list, _ := v.([]any)
			if !containsValue(list, f.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func sortDocs(docs []Document, orderBy string, dir Direction) {
	sort.SliceStable(docs, func(i, j int) bool {
		c := 0
		if orderBy != "" {
			c = compareValues(docs[i].Fields[orderBy], docs[j].Fields[orderBy])
		}
		if c == 0 {
			c = compareValues(docs[i].ID, docs[j].ID)
		}
		if dir == Descending {
			return c > 0
		}
		return c < 0
	})
}

// compareValues orders numbers numerically and everything else by its
// string form; nil sorts first.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	an, aNum := Int64(map[string]any{"v": a}, "v")
	bn, bNum := Int64(map[string]any{"v": b}, "v")
	if aNum && bNum {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if compareValues(item, v) == 0 {
			return true
		}
	}
	return false
}

func copyFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyFields(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case int:
		return int64(t)
	default:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
			out := make([]any, rv.Len())
			for i := range out {
				out[i] = copyValue(rv.Index(i).Interface())
			}
			return out
		}
		return v
	}
}
