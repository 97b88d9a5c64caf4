package persistence

import (
	"context"
	"fmt"
	"reflect"

	"github.com/kode4food/paisley/internal/util"
)

type (
	// Session is the unit of work for a single command execution. It is
	// not safe for concurrent use; every command runs against exactly one
	// Session
	Session struct {
		backend  Backend
		ids      *IDGenerator
		kinds    Registry
		loaded   map[objectKey]*loadedEntry
		deleted  []PersistentObject
		inserted []PersistentObject
		order    []objectKey
		removed  util.Set[objectKey]
		forced   util.Set[objectKey]
	}

	objectKey struct {
		kind Kind
		id   string
	}

	loadedEntry struct {
		obj      PersistentObject
		snapshot any
	}
)

// NewSession creates a unit of work over the given backend
func NewSession(backend Backend, ids *IDGenerator, kinds Registry) *Session {
	return &Session{
		backend: backend,
		ids:     ids,
		kinds:   kinds,
		loaded:  map[objectKey]*loadedEntry{},
		removed: util.SetOf[objectKey](),
		forced:  util.SetOf[objectKey](),
	}
}

// Insert schedules an object for insertion at flush time, assigning it an
// identifier if it does not carry one
func (s *Session) Insert(ctx context.Context, obj PersistentObject) error {
	if obj.ID() == "" {
		id, err := s.ids.NextID(ctx)
		if err != nil {
			return err
		}
		obj.SetID(id)
	}
	s.inserted = append(s.inserted, obj)
	return nil
}

// Delete schedules an object for deletion. Deleting an object that is
// still pending insertion cancels the insertion outright; neither
// statement reaches the backend
func (s *Session) Delete(obj PersistentObject) {
	for i, ins := range s.inserted {
		if ins == obj {
			s.inserted = append(s.inserted[:i], s.inserted[i+1:]...)
			return
		}
	}
	key := keyOf(obj)
	delete(s.loaded, key)
	s.removed.Add(key)
	s.deleted = append(s.deleted, obj)
}

// FindByID returns the single in-memory instance for a row, loading it
// from the backend on first access
func (s *Session) FindByID(
	ctx context.Context, kind Kind, id string,
) (PersistentObject, error) {
	key := objectKey{kind: kind, id: id}
	if s.removed.Contains(key) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	if e, ok := s.loaded[key]; ok {
		return e.obj, nil
	}
	for _, ins := range s.inserted {
		if ins.Kind() == kind && ins.ID() == id {
			return ins, nil
		}
	}
	obj, err := s.backend.SelectByID(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	return s.track(obj), nil
}

// FindList queries the backend through a secondary index. Results pass
// through the identity filter, objects pending deletion are pruned, and
// pending insertions that match the query are included
func (s *Session) FindList(
	ctx context.Context, q Query,
) ([]PersistentObject, error) {
	rows, err := s.backend.SelectList(ctx, q)
	if err != nil {
		return nil, err
	}
	res := make([]PersistentObject, 0, len(rows))
	for _, obj := range rows {
		if s.removed.Contains(keyOf(obj)) {
			continue
		}
		res = append(res, s.track(obj))
	}
	for _, ins := range s.inserted {
		if ins.Kind() == q.Kind && s.matches(q, ins) {
			res = append(res, ins)
		}
	}
	if q.Limit > 0 && len(res) > q.Limit {
		res = res[:q.Limit]
	}
	return res, nil
}

// Touch marks a loaded object so the next flush writes it even when its
// state is unchanged. The write bumps the revision, so two sessions that
// touch the same row cannot both flush
func (s *Session) Touch(obj PersistentObject) {
	key := keyOf(obj)
	if _, ok := s.loaded[key]; ok {
		s.forced.Add(key)
	}
}

// IsDirty reports whether an object's state has diverged from the
// snapshot taken when it was loaded
func (s *Session) IsDirty(obj PersistentObject) bool {
	e, ok := s.loaded[keyOf(obj)]
	if !ok {
		return false
	}
	return !reflect.DeepEqual(e.snapshot, e.obj.State())
}

// Flush writes all pending work to the backend: insertions in insertion
// order, then updates, then deletions. Touched rows are written first so
// a lost revision race aborts before any dirty write lands; a revision
// mismatch on update aborts the flush with ErrOptimisticLocking
func (s *Session) Flush(ctx context.Context) error {
	for _, obj := range s.inserted {
		if err := s.backend.Insert(ctx, obj); err != nil {
			return err
		}
		s.track(obj)
	}
	s.inserted = nil

	for _, key := range s.order {
		if !s.forced.Contains(key) {
			continue
		}
		e, ok := s.loaded[key]
		if !ok {
			continue
		}
		if err := s.update(ctx, e); err != nil {
			return err
		}
	}
	s.forced = util.SetOf[objectKey]()

	for _, key := range s.order {
		e, ok := s.loaded[key]
		if !ok {
			continue
		}
		if reflect.DeepEqual(e.snapshot, e.obj.State()) {
			continue
		}
		if err := s.update(ctx, e); err != nil {
			return err
		}
	}

	for _, obj := range s.deleted {
		if err := s.backend.Delete(ctx, obj); err != nil {
			return err
		}
	}
	s.deleted = nil
	return nil
}

func (s *Session) update(ctx context.Context, e *loadedEntry) error {
	rev := -1
	r, versioned := e.obj.(Revisioned)
	if versioned {
		rev = r.Revision()
	}
	affected, err := s.backend.Update(ctx, e.obj, rev)
	if err != nil {
		return err
	}
	if !affected {
		return fmt.Errorf("%w: %s %s",
			ErrOptimisticLocking, e.obj.Kind(), e.obj.ID())
	}
	if versioned {
		r.SetRevision(rev + 1)
	}
	e.snapshot = e.obj.State()
	return nil
}

func (s *Session) track(obj PersistentObject) PersistentObject {
	key := keyOf(obj)
	if e, ok := s.loaded[key]; ok {
		return e.obj
	}
	s.loaded[key] = &loadedEntry{obj: obj, snapshot: obj.State()}
	s.order = append(s.order, key)
	return obj
}

func (s *Session) matches(q Query, obj PersistentObject) bool {
	info, ok := s.kinds[q.Kind]
	if !ok || info.Indexes == nil {
		return false
	}
	for _, ix := range info.Indexes(obj) {
		if ix.Name != q.Index {
			continue
		}
		if q.ByScore {
			if ix.Ranked && (q.Until.IsZero() ||
				ix.Score <= float64(q.Until.UnixMilli())) {
				return true
			}
		} else if ix.Value == q.Value {
			return true
		}
	}
	return false
}

func keyOf(obj PersistentObject) objectKey {
	return objectKey{kind: obj.Kind(), id: obj.ID()}
}
