// Package docstore is the narrow document-store surface the chat components
// are written against: keyed documents, collections and ordered change feeds.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a document read finds nothing.
	ErrNotFound = errors.New("document not found")
	// ErrPermission is returned when backend rules reject an operation.
	ErrPermission = errors.New("permission denied")
	// ErrNetwork covers transport failures and timeouts.
	ErrNetwork = errors.New("network error")
	// ErrStopped is returned by Watcher.Next after Stop.
	ErrStopped = errors.New("watch stopped")
	// ErrInvalidPath is returned for malformed collection or document paths.
	ErrInvalidPath = errors.New("invalid path")
)

// Fields is the field map of a single document.
type Fields map[string]any

type serverTimestamp struct{}

// ServerTimestamp is replaced by the backend's clock when the document is written.
var ServerTimestamp any = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// CollectionRef addresses a collection: an odd number of path segments.
type CollectionRef struct {
	segments []string
}

// DocRef addresses a single document: an even number of path segments.
type DocRef struct {
	segments []string
}

// Collection builds a collection reference. Subcollections are addressed by
// alternating document and collection ids, e.g. Collection("messages", owner, peer).
func Collection(segments ...string) CollectionRef {
	return CollectionRef{segments: segments}
}

// ParseDoc splits a slash separated document path.
func ParseDoc(path string) (DocRef, error) {
	ref := DocRef{segments: strings.Split(path, "/")}
	if err := ref.Validate(); err != nil {
		return DocRef{}, err
	}
	return ref, nil
}

func (c CollectionRef) Doc(id string) DocRef {
	segments := make([]string, len(c.segments), len(c.segments)+1)
	copy(segments, c.segments)
	return DocRef{segments: append(segments, id)}
}

func (c CollectionRef) Path() string { return strings.Join(c.segments, "/") }

func (c CollectionRef) Validate() error {
	if len(c.segments)%2 != 1 {
		return fmt.Errorf("%w: collection %q", ErrInvalidPath, c.Path())
	}
	return validSegments(c.segments)
}

func (d DocRef) ID() string {
	if len(d.segments) == 0 {
		return ""
	}
	return d.segments[len(d.segments)-1]
}

func (d DocRef) Path() string { return strings.Join(d.segments, "/") }

// Parent returns the collection holding the document.
func (d DocRef) Parent() CollectionRef {
	if len(d.segments) == 0 {
		return CollectionRef{}
	}
	return CollectionRef{segments: d.segments[:len(d.segments)-1]}
}

func (d DocRef) Validate() error {
	if len(d.segments) == 0 || len(d.segments)%2 != 0 {
		return fmt.Errorf("%w: document %q", ErrInvalidPath, d.Path())
	}
	return validSegments(d.segments)
}

func (d DocRef) String() string { return d.Path() }

func validSegments(segments []string) error {
	for _, s := range segments {
		if s == "" || strings.Contains(s, "/") {
			return fmt.Errorf("%w: bad segment %q", ErrInvalidPath, s)
		}
	}
	return nil
}

// Snapshot is a document as read from the store.
type Snapshot struct {
	Ref        DocRef
	Fields     Fields
	UpdateTime time.Time
}

// DataTo decodes the snapshot fields into v.
func (s *Snapshot) DataTo(v any) error {
	return Decode(s.Fields, v)
}

type Direction int

const (
	Asc Direction = iota
	Desc
)

// Query selects a whole collection ordered by one field.
type Query struct {
	Collection CollectionRef
	OrderBy    string
	Direction  Direction
}

type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one document change in a batch.
type Change struct {
	Kind ChangeKind
	Doc  *Snapshot
}

// ChangeBatch is everything a backend reported in one notification.
type ChangeBatch struct {
	Changes  []Change
	ReadTime time.Time
}

// Watcher is a live change feed over a Query. The first batch holds the
// current result set as Added changes in query order.
type Watcher interface {
	// Next blocks until the next batch is available.
	Next() (*ChangeBatch, error)
	// Stop releases the listener. It is safe to call more than once.
	Stop()
}

// Store is a keyed document store with change feeds.
type Store interface {
	Get(ctx context.Context, doc DocRef) (*Snapshot, error)
	// Set overwrites the document.
	Set(ctx context.Context, doc DocRef, fields Fields) error
	// Add creates a document with a fresh id.
	Add(ctx context.Context, coll CollectionRef, fields Fields) (DocRef, error)
	List(ctx context.Context, coll CollectionRef) ([]*Snapshot, error)
	Watch(ctx context.Context, q Query) (Watcher, error)
	Close() error
}
