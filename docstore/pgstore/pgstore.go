// Package pgstore implements docstore.Store on PostgreSQL: documents are JSONB
// rows and change feeds ride on LISTEN/NOTIFY.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/klipach/courier/docstore"
	"github.com/klipach/courier/log"
	"github.com/lib/pq"
)

const (
	dbDriver      = "postgres"
	notifyChannel = "docstore_changes"
)

var schema = `
CREATE SEQUENCE IF NOT EXISTS docstore_version_seq;

CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	fields     JSONB NOT NULL,
	version    BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (collection, id)
);

CREATE OR REPLACE FUNCTION docstore_notify() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('docstore_changes', json_build_object(
		'collection', NEW.collection,
		'id', NEW.id,
		'version', NEW.version
	)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS documents_notify ON documents;
CREATE TRIGGER documents_notify AFTER INSERT OR UPDATE ON documents
	FOR EACH ROW EXECUTE FUNCTION docstore_notify();
`

type row struct {
	ID        string    `db:"id"`
	Fields    []byte    `db:"fields"`
	Version   int64     `db:"version"`
	UpdatedAt time.Time `db:"updated_at"`
}

type notification struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Version    int64  `json:"version"`
}

type Store struct {
	db  *sqlx.DB
	dsn string

	mu       sync.Mutex
	listener *pq.Listener
	watchers map[string]map[*watcher]struct{}
}

// Open connects to dsn and installs the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, dbDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", classify(err))
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, dsn: dsn, watchers: make(map[string]map[*watcher]struct{})}, nil
}

func (s *Store) Get(ctx context.Context, ref docstore.DocRef) (*docstore.Snapshot, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	var r row
	err := s.db.GetContext(ctx, &r,
		`SELECT id, fields, version, updated_at FROM documents WHERE collection = $1 AND id = $2`,
		ref.Parent().Path(), ref.ID())
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref.Path(), classify(err))
	}
	return r.snapshot(ref.Parent())
}

func (s *Store) Set(ctx context.Context, ref docstore.DocRef, fields docstore.Fields) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	return s.upsert(ctx, ref, fields, true)
}

func (s *Store) Add(ctx context.Context, coll docstore.CollectionRef, fields docstore.Fields) (docstore.DocRef, error) {
	if err := coll.Validate(); err != nil {
		return docstore.DocRef{}, err
	}
	ref := coll.Doc(uuid.NewString())
	if err := s.upsert(ctx, ref, fields, false); err != nil {
		return docstore.DocRef{}, err
	}
	return ref, nil
}

func (s *Store) upsert(ctx context.Context, ref docstore.DocRef, fields docstore.Fields, overwrite bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", classify(err))
	}
	defer tx.Rollback()

	var now time.Time
	if err := tx.GetContext(ctx, &now, `SELECT clock_timestamp()`); err != nil {
		return fmt.Errorf("clock: %w", classify(err))
	}
	data, err := encodeFields(fields, now)
	if err != nil {
		return err
	}

	query := `INSERT INTO documents (collection, id, fields, version, created_at, updated_at)
		VALUES ($1, $2, $3, nextval('docstore_version_seq'), $4, $4)`
	if overwrite {
		query += ` ON CONFLICT (collection, id) DO UPDATE
			SET fields = EXCLUDED.fields, version = EXCLUDED.version, updated_at = EXCLUDED.updated_at`
	}
	if _, err := tx.ExecContext(ctx, query, ref.Parent().Path(), ref.ID(), data, now); err != nil {
		return fmt.Errorf("write %s: %w", ref.Path(), classify(err))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", ref.Path(), classify(err))
	}
	return nil
}

func (s *Store) List(ctx context.Context, coll docstore.CollectionRef) ([]*docstore.Snapshot, error) {
	if err := coll.Validate(); err != nil {
		return nil, err
	}
	var rows []row
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, fields, version, updated_at FROM documents WHERE collection = $1 ORDER BY id`,
		coll.Path())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", coll.Path(), classify(err))
	}
	return snapshots(coll, rows)
}

func (s *Store) query(ctx context.Context, q docstore.Query) ([]row, error) {
	var rows []row
	var err error
	if q.OrderBy == "" {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT id, fields, version, updated_at FROM documents WHERE collection = $1 ORDER BY version`,
			q.Collection.Path())
	} else {
		dir := "ASC"
		if q.Direction == docstore.Desc {
			dir = "DESC"
		}
		err = s.db.SelectContext(ctx, &rows,
			`SELECT id, fields, version, updated_at FROM documents
			WHERE collection = $1 AND fields->>($2::text) IS NOT NULL
			ORDER BY fields->>($2::text) `+dir+`, version`,
			q.Collection.Path(), q.OrderBy)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection.Path(), classify(err))
	}
	return rows, nil
}

func (s *Store) Watch(ctx context.Context, q docstore.Query) (docstore.Watcher, error) {
	if err := q.Collection.Validate(); err != nil {
		return nil, err
	}
	if err := s.listen(ctx); err != nil {
		return nil, err
	}

	w := &watcher{src: s, ctx: ctx, query: q, known: make(map[string]int64)}
	path := q.Collection.Path()
	w.feed = docstore.NewFeed(ctx, func() { s.unregister(path, w) })

	// register before the initial read so no write falls between the two;
	// the version check drops notifications the initial read already covered
	s.register(path, w)
	if err := w.resync(); err != nil {
		w.feed.Stop()
		return nil, err
	}
	go func() {
		select {
		case <-ctx.Done():
			s.unregister(path, w)
		case <-w.feed.Done():
		}
	}()
	return w.feed, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
	for _, ws := range s.watchers {
		for w := range ws {
			w.feed.Fail(docstore.ErrStopped)
		}
	}
	s.watchers = make(map[string]map[*watcher]struct{})
	s.mu.Unlock()
	return s.db.Close()
}

// listen starts the shared LISTEN connection on first use.
func (s *Store) listen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	logger := log.LoggerFromContext(ctx).With(slog.String(log.BackendLogField, "postgres"))
	l := pq.NewListener(s.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("listener event", slog.Int("event", int(ev)), log.Err(err))
		}
	})
	if err := l.Listen(notifyChannel); err != nil {
		l.Close()
		return fmt.Errorf("listen: %w", classify(err))
	}
	s.listener = l
	go s.dispatch(logger, l)
	return nil
}

func (s *Store) dispatch(logger *slog.Logger, l *pq.Listener) {
	for n := range l.Notify {
		if n == nil {
			// reconnected: notifications may have been lost
			for _, w := range s.all() {
				if err := w.resync(); err != nil {
					w.feed.Fail(err)
				}
			}
			continue
		}
		var note notification
		if err := json.Unmarshal([]byte(n.Extra), &note); err != nil {
			logger.Warn("bad notification payload", log.Err(err))
			continue
		}
		for _, w := range s.in(note.Collection) {
			if err := w.apply(note); err != nil {
				w.feed.Fail(err)
			}
		}
	}
}

func (s *Store) register(path string, w *watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchers[path] == nil {
		s.watchers[path] = make(map[*watcher]struct{})
	}
	s.watchers[path][w] = struct{}{}
}

func (s *Store) unregister(path string, w *watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watchers[path], w)
	if len(s.watchers[path]) == 0 {
		delete(s.watchers, path)
	}
}

func (s *Store) in(path string) []*watcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := make([]*watcher, 0, len(s.watchers[path]))
	for w := range s.watchers[path] {
		ws = append(ws, w)
	}
	return ws
}

func (s *Store) all() []*watcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ws []*watcher
	for _, set := range s.watchers {
		for w := range set {
			ws = append(ws, w)
		}
	}
	return ws
}

// rowSource is what a watcher reads documents through; *Store implements it.
type rowSource interface {
	query(ctx context.Context, q docstore.Query) ([]row, error)
	Get(ctx context.Context, ref docstore.DocRef) (*docstore.Snapshot, error)
}

type watcher struct {
	src   rowSource
	ctx   context.Context
	query docstore.Query
	feed  *docstore.Feed

	mu     sync.Mutex
	known  map[string]int64
	primed bool
}

// resync reads the whole result set and emits what changed since the last read.
func (w *watcher) resync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rows, err := w.src.query(w.ctx, w.query)
	if err != nil {
		return err
	}
	batch := &docstore.ChangeBatch{ReadTime: time.Now()}
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		seen[r.ID] = struct{}{}
		prev, ok := w.known[r.ID]
		if ok && prev >= r.Version {
			continue
		}
		snap, err := r.snapshot(w.query.Collection)
		if err != nil {
			return err
		}
		kind := docstore.Added
		if ok {
			kind = docstore.Modified
		}
		w.known[r.ID] = r.Version
		batch.Changes = append(batch.Changes, docstore.Change{Kind: kind, Doc: snap})
	}
	for id := range w.known {
		if _, ok := seen[id]; !ok {
			delete(w.known, id)
			batch.Changes = append(batch.Changes, docstore.Change{
				Kind: docstore.Removed,
				Doc:  &docstore.Snapshot{Ref: w.query.Collection.Doc(id), Fields: docstore.Fields{}},
			})
		}
	}
	// the first read always produces a batch, even when empty
	if len(batch.Changes) > 0 || !w.primed {
		w.primed = true
		w.feed.Push(batch)
	}
	return nil
}

func (w *watcher) apply(note notification) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// the row is committed before its notification, so the first resync reads it
	if !w.primed {
		return nil
	}
	if prev, ok := w.known[note.ID]; ok && prev >= note.Version {
		return nil
	}
	snap, err := w.src.Get(w.ctx, w.query.Collection.Doc(note.ID))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if w.query.OrderBy != "" {
		if _, ok := snap.Fields[w.query.OrderBy]; !ok {
			return nil
		}
	}
	kind := docstore.Added
	if _, ok := w.known[note.ID]; ok {
		kind = docstore.Modified
	}
	w.known[note.ID] = note.Version
	w.feed.Push(&docstore.ChangeBatch{
		Changes:  []docstore.Change{{Kind: kind, Doc: snap}},
		ReadTime: snap.UpdateTime,
	})
	return nil
}

func (r row) snapshot(coll docstore.CollectionRef) (*docstore.Snapshot, error) {
	fields, err := decodeFields(r.Fields)
	if err != nil {
		return nil, err
	}
	return &docstore.Snapshot{Ref: coll.Doc(r.ID), Fields: fields, UpdateTime: r.UpdatedAt}, nil
}

func snapshots(coll docstore.CollectionRef, rows []row) ([]*docstore.Snapshot, error) {
	snaps := make([]*docstore.Snapshot, 0, len(rows))
	for _, r := range rows {
		snap, err := r.snapshot(coll)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// encodeFields renders fields as JSON with sortable string timestamps,
// resolving ServerTimestamp to now.
func encodeFields(fields docstore.Fields, now time.Time) ([]byte, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch tv := v.(type) {
		case time.Time:
			out[k] = docstore.FormatTime(tv)
		default:
			if docstore.IsServerTimestamp(v) {
				out[k] = docstore.FormatTime(now)
				continue
			}
			out[k] = v
		}
	}
	return json.Marshal(out)
}

func decodeFields(data []byte) (docstore.Fields, error) {
	fields := docstore.Fields{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}

func classify(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", docstore.ErrNotFound, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code == "42501" || pqErr.Code.Class() == "28") {
		return fmt.Errorf("%w: %v", docstore.ErrPermission, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, pq.ErrChannelNotOpen) {
		return fmt.Errorf("%w: %v", docstore.ErrNetwork, err)
	}
	return err
}
