package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned by a Memory store after Close.
var ErrClosed = errors.New("store closed")

// Op names a store operation for fault injection.
type Op string

const (
	OpGet   Op = "get"
	OpSet   Op = "set"
	OpAdd   Op = "add"
	OpList  Op = "list"
	OpWatch Op = "watch"
)

type MemoryOption func(*Memory)

// WithClock sets the clock used to resolve ServerTimestamp.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithFault installs a hook consulted before every operation; a non-nil
// error fails the operation without touching state.
func WithFault(fault func(op Op, path string) error) MemoryOption {
	return func(m *Memory) { m.fault = fault }
}

// WithIDs overrides the document id generator used by Add.
func WithIDs(newID func() string) MemoryOption {
	return func(m *Memory) { m.newID = newID }
}

// Memory is an in-process Store with the same change-feed semantics as the
// hosted backends. Server timestamps it assigns are strictly increasing.
type Memory struct {
	mu       sync.Mutex
	now      func() time.Time
	last     time.Time
	newID    func() string
	fault    func(Op, string) error
	colls    map[string]*memCollection
	watchers map[string]map[*memWatcher]struct{}
	closed   bool
}

type memCollection struct {
	docs map[string]*memDoc
	seq  int
}

type memDoc struct {
	fields  Fields
	updated time.Time
	seq     int
}

type memWatcher struct {
	feed  *Feed
	query Query
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		now:      time.Now,
		newID:    uuid.NewString,
		colls:    make(map[string]*memCollection),
		watchers: make(map[string]map[*memWatcher]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(_ context.Context, ref DocRef) (*Snapshot, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if err := m.check(OpGet, ref.Path()); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	coll, ok := m.colls[ref.Parent().Path()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref.Path())
	}
	doc, ok := coll.docs[ref.ID()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref.Path())
	}
	return doc.snapshot(ref), nil
}

func (m *Memory) Set(_ context.Context, ref DocRef, fields Fields) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if err := m.check(OpSet, ref.Path()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.write(ref, fields)
	return nil
}

func (m *Memory) Add(_ context.Context, coll CollectionRef, fields Fields) (DocRef, error) {
	if err := coll.Validate(); err != nil {
		return DocRef{}, err
	}
	if err := m.check(OpAdd, coll.Path()); err != nil {
		return DocRef{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := coll.Doc(m.newID())
	m.write(ref, fields)
	return ref, nil
}

func (m *Memory) List(_ context.Context, coll CollectionRef) ([]*Snapshot, error) {
	if err := coll.Validate(); err != nil {
		return nil, err
	}
	if err := m.check(OpList, coll.Path()); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.colls[coll.Path()]
	if !ok {
		return []*Snapshot{}, nil
	}
	ids := make([]string, 0, len(c.docs))
	for id := range c.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	snaps := make([]*Snapshot, 0, len(ids))
	for _, id := range ids {
		snaps = append(snaps, c.docs[id].snapshot(coll.Doc(id)))
	}
	return snaps, nil
}

func (m *Memory) Watch(ctx context.Context, q Query) (Watcher, error) {
	if err := q.Collection.Validate(); err != nil {
		return nil, err
	}
	if err := m.check(OpWatch, q.Collection.Path()); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	path := q.Collection.Path()
	w := &memWatcher{query: q}
	w.feed = NewFeed(ctx, func() { m.removeWatcher(path, w) })

	initial := &ChangeBatch{ReadTime: m.last}
	if c, ok := m.colls[path]; ok {
		for _, snap := range c.ordered(q) {
			initial.Changes = append(initial.Changes, Change{Kind: Added, Doc: snap})
		}
	}
	w.feed.Push(initial)

	if m.watchers[path] == nil {
		m.watchers[path] = make(map[*memWatcher]struct{})
	}
	m.watchers[path][w] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
			m.removeWatcher(path, w)
		case <-w.feed.Done():
		}
	}()
	return w.feed, nil
}

// Close stops every open watcher and rejects further operations.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, ws := range m.watchers {
		for w := range ws {
			w.feed.Fail(ErrClosed)
		}
	}
	m.watchers = make(map[string]map[*memWatcher]struct{})
	return nil
}

func (m *Memory) check(op Op, path string) error {
	m.mu.Lock()
	closed := m.closed
	fault := m.fault
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if fault != nil {
		return fault(op, path)
	}
	return nil
}

// write stores fields under ref and notifies watchers. Callers hold m.mu.
func (m *Memory) write(ref DocRef, fields Fields) {
	path := ref.Parent().Path()
	c, ok := m.colls[path]
	if !ok {
		c = &memCollection{docs: make(map[string]*memDoc)}
		m.colls[path] = c
	}

	ts := m.tick()
	stored := make(Fields, len(fields))
	for k, v := range fields {
		if IsServerTimestamp(v) {
			v = ts
		}
		stored[k] = v
	}

	kind := Added
	doc, exists := c.docs[ref.ID()]
	if exists {
		kind = Modified
		doc.fields = stored
		doc.updated = ts
	} else {
		c.seq++
		doc = &memDoc{fields: stored, updated: ts, seq: c.seq}
		c.docs[ref.ID()] = doc
	}

	for w := range m.watchers[path] {
		if !w.query.matches(doc.fields) {
			continue
		}
		w.feed.Push(&ChangeBatch{
			Changes:  []Change{{Kind: kind, Doc: doc.snapshot(ref)}},
			ReadTime: ts,
		})
	}
}

// tick returns the store clock, forced strictly past the previous value.
func (m *Memory) tick() time.Time {
	now := m.now().UTC()
	if !now.After(m.last) {
		now = m.last.Add(time.Nanosecond)
	}
	m.last = now
	return now
}

func (m *Memory) removeWatcher(path string, w *memWatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watchers[path], w)
	if len(m.watchers[path]) == 0 {
		delete(m.watchers, path)
	}
}

// WatcherCount reports open listeners on a collection.
func (m *Memory) WatcherCount(coll CollectionRef) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers[coll.Path()])
}

func (d *memDoc) snapshot(ref DocRef) *Snapshot {
	fields := make(Fields, len(d.fields))
	for k, v := range d.fields {
		fields[k] = v
	}
	return &Snapshot{Ref: ref, Fields: fields, UpdateTime: d.updated}
}

func (c *memCollection) ordered(q Query) []*Snapshot {
	type entry struct {
		id  string
		doc *memDoc
	}
	entries := make([]entry, 0, len(c.docs))
	for id, doc := range c.docs {
		if q.matches(doc.fields) {
			entries = append(entries, entry{id: id, doc: doc})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if q.OrderBy != "" {
			cmp := CompareValues(entries[i].doc.fields[q.OrderBy], entries[j].doc.fields[q.OrderBy])
			if cmp != 0 {
				if q.Direction == Desc {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		return entries[i].doc.seq < entries[j].doc.seq
	})
	snaps := make([]*Snapshot, 0, len(entries))
	for _, e := range entries {
		snaps = append(snaps, e.doc.snapshot(q.Collection.Doc(e.id)))
	}
	return snaps
}

// matches mirrors Firestore: documents without the order field are not in the result.
func (q Query) matches(fields Fields) bool {
	if q.OrderBy == "" {
		return true
	}
	_, ok := fields[q.OrderBy]
	return ok
}

// CompareValues orders field values of the same kind: times, strings and numbers.
func CompareValues(a, b any) int {
	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
