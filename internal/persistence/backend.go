package persistence

import (
	"context"
	"errors"
	"time"
)

type (
	// Index describes one secondary index entry for an object. Ranked
	// entries are ordered by score; plain entries are equality lookups
	Index struct {
		Name   string
		Value  string
		Score  float64
		Ranked bool
	}

	// KindInfo registers a persistent kind with a backend: how to
	// construct an empty instance and which index entries an instance
	// contributes
	KindInfo struct {
		New     func() PersistentObject
		Indexes func(PersistentObject) []Index
		Kind    Kind
	}

	// Registry maps kinds to their registration info
	Registry map[Kind]*KindInfo

	// Query selects objects through a secondary index. Value matches a
	// plain index entry; ByScore selects a ranked index ordered
	// ascending, bounded by Until when non-zero. Limit of zero means
	// unbounded
	Query struct {
		Until   time.Time
		Kind    Kind
		Index   string
		Value   string
		Limit   int
		ByScore bool
	}

	// Backend executes the statements a Session flushes. Update reports
	// whether the row was affected; an unaffected update means the
	// expected revision no longer matches
	Backend interface {
		Insert(ctx context.Context, obj PersistentObject) error
		Update(
			ctx context.Context, obj PersistentObject, expectedRev int,
		) (bool, error)
		Delete(ctx context.Context, obj PersistentObject) error
		SelectByID(
			ctx context.Context, kind Kind, id string,
		) (PersistentObject, error)
		SelectList(ctx context.Context, q Query) ([]PersistentObject, error)
		NextIDBlock(ctx context.Context, size int64) (int64, error)
		Properties(ctx context.Context) (map[string]string, error)
		Counts(ctx context.Context) (map[Kind]int64, error)
	}
)

var (
	ErrNotFound          = errors.New("object not found")
	ErrDuplicateID       = errors.New("duplicate object ID")
	ErrKindNotRegistered = errors.New("kind not registered")
	ErrOptimisticLocking = errors.New("optimistic locking failure")
)

// Register adds a kind to the registry
func (r Registry) Register(info *KindInfo) {
	r[info.Kind] = info
}
