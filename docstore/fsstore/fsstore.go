// Package fsstore implements docstore.Store on Cloud Firestore.
package fsstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/klipach/courier/docstore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Store struct {
	client *firestore.Client
}

// New opens a Firestore client for projectID.
func New(ctx context.Context, projectID string, opts ...option.ClientOption) (*Store, error) {
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, err
	}
	return &Store{client: client}, nil
}

// NewFromClient wraps an existing client, e.g. one obtained from a firebase.App.
func NewFromClient(client *firestore.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, ref docstore.DocRef) (*docstore.Snapshot, error) {
	doc, err := s.doc(ref)
	if err != nil {
		return nil, err
	}
	snap, err := doc.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref.Path(), classify(err))
	}
	return toSnapshot(ref, snap), nil
}

func (s *Store) Set(ctx context.Context, ref docstore.DocRef, fields docstore.Fields) error {
	doc, err := s.doc(ref)
	if err != nil {
		return err
	}
	if _, err := doc.Set(ctx, toFirestore(fields)); err != nil {
		return fmt.Errorf("set %s: %w", ref.Path(), classify(err))
	}
	return nil
}

func (s *Store) Add(ctx context.Context, coll docstore.CollectionRef, fields docstore.Fields) (docstore.DocRef, error) {
	c, err := s.collection(coll)
	if err != nil {
		return docstore.DocRef{}, err
	}
	doc, _, err := c.Add(ctx, toFirestore(fields))
	if err != nil {
		return docstore.DocRef{}, fmt.Errorf("add %s: %w", coll.Path(), classify(err))
	}
	return coll.Doc(doc.ID), nil
}

func (s *Store) List(ctx context.Context, coll docstore.CollectionRef) ([]*docstore.Snapshot, error) {
	c, err := s.collection(coll)
	if err != nil {
		return nil, err
	}
	docs, err := c.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", coll.Path(), classify(err))
	}
	snaps := make([]*docstore.Snapshot, 0, len(docs))
	for _, d := range docs {
		snaps = append(snaps, toSnapshot(coll.Doc(d.Ref.ID), d))
	}
	return snaps, nil
}

func (s *Store) Watch(ctx context.Context, q docstore.Query) (docstore.Watcher, error) {
	c, err := s.collection(q.Collection)
	if err != nil {
		return nil, err
	}
	query := c.Query
	if q.OrderBy != "" {
		dir := firestore.Asc
		if q.Direction == docstore.Desc {
			dir = firestore.Desc
		}
		query = c.OrderBy(q.OrderBy, dir)
	}
	return &watcher{
		coll: q.Collection,
		it:   query.Snapshots(ctx),
		ctx:  ctx,
	}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) doc(ref docstore.DocRef) (*firestore.DocumentRef, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	doc := s.client.Doc(ref.Path())
	if doc == nil {
		return nil, fmt.Errorf("%w: %s", docstore.ErrInvalidPath, ref.Path())
	}
	return doc, nil
}

func (s *Store) collection(ref docstore.CollectionRef) (*firestore.CollectionRef, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	c := s.client.Collection(ref.Path())
	if c == nil {
		return nil, fmt.Errorf("%w: %s", docstore.ErrInvalidPath, ref.Path())
	}
	return c, nil
}

type watcher struct {
	coll docstore.CollectionRef
	it   *firestore.QuerySnapshotIterator
	ctx  context.Context
}

func (w *watcher) Next() (*docstore.ChangeBatch, error) {
	qs, err := w.it.Next()
	if err != nil {
		if errors.Is(err, iterator.Done) {
			return nil, docstore.ErrStopped
		}
		if w.ctx.Err() != nil {
			return nil, w.ctx.Err()
		}
		return nil, fmt.Errorf("watch %s: %w", w.coll.Path(), classify(err))
	}

	batch := &docstore.ChangeBatch{
		Changes:  make([]docstore.Change, 0, len(qs.Changes)),
		ReadTime: qs.ReadTime,
	}
	for _, ch := range qs.Changes {
		batch.Changes = append(batch.Changes, docstore.Change{
			Kind: changeKind(ch.Kind),
			Doc:  toSnapshot(w.coll.Doc(ch.Doc.Ref.ID), ch.Doc),
		})
	}
	return batch, nil
}

func (w *watcher) Stop() {
	w.it.Stop()
}

func changeKind(k firestore.DocumentChangeKind) docstore.ChangeKind {
	switch k {
	case firestore.DocumentRemoved:
		return docstore.Removed
	case firestore.DocumentModified:
		return docstore.Modified
	default:
		return docstore.Added
	}
}

func toSnapshot(ref docstore.DocRef, snap *firestore.DocumentSnapshot) *docstore.Snapshot {
	return &docstore.Snapshot{
		Ref:        ref,
		Fields:     snap.Data(),
		UpdateTime: snap.UpdateTime,
	}
}

func toFirestore(fields docstore.Fields) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if docstore.IsServerTimestamp(v) {
			v = firestore.ServerTimestamp
		}
		out[k] = v
	}
	return out
}

// classify maps gRPC status codes onto the docstore error taxonomy.
func classify(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %v", docstore.ErrNotFound, err)
	case codes.PermissionDenied, codes.Unauthenticated:
		return fmt.Errorf("%w: %v", docstore.ErrPermission, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return fmt.Errorf("%w: %v", docstore.ErrNetwork, err)
	default:
		return err
	}
}
