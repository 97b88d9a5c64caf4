package engine

import (
	"errors"
	"fmt"

	"github.com/kode4food/paisley/internal/command"
	"github.com/kode4food/paisley/internal/persistence"
	"github.com/kode4food/paisley/internal/util"
	"github.com/kode4food/paisley/pkg/api"
)

// definitions caches deployed process definitions by id. Definitions are
// immutable after deployment, so cached instances are shared freely
// across commands and goroutines
type definitions struct {
	cache *util.LRUCache[*ProcessDefinition]
}

// DefaultDefinitionCacheSize bounds the in-memory definition cache
const DefaultDefinitionCacheSize = 128

var (
	ErrDefinitionNotFound = errors.New("process definition not found")
	ErrActivityNotFound   = errors.New("activity not found in definition")
)

func newDefinitions(size int) *definitions {
	if size <= 0 {
		size = DefaultDefinitionCacheSize
	}
	return &definitions{
		cache: util.NewLRUCache[*ProcessDefinition](size),
	}
}

// byID returns the cached definition, loading it through the ambient
// session on first access
func (d *definitions) byID(
	c *command.Context, id api.ProcessDefinitionID,
) (*ProcessDefinition, error) {
	return d.cache.Get(string(id), func() (*ProcessDefinition, error) {
		obj, err := c.Session.FindByID(c.Context, KindDefinition, string(id))
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, id)
			}
			return nil, err
		}
		return obj.(*ProcessDefinition), nil
	})
}

// latestByKey resolves the highest deployed version of a key. The lookup
// is uncached; instances resolve their definition by id afterwards
func (d *definitions) latestByKey(
	c *command.Context, key api.ProcessDefinitionKey,
) (*ProcessDefinition, error) {
	list, err := c.Session.FindList(c.Context, persistence.Query{
		Kind:  KindDefinition,
		Index: IndexDefinitionKey,
		Value: string(key),
	})
	if err != nil {
		return nil, err
	}
	var latest *ProcessDefinition
	for _, obj := range list {
		def := obj.(*ProcessDefinition)
		if latest == nil || def.Version > latest.Version {
			latest = def
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: key %s", ErrDefinitionNotFound, key)
	}
	return latest, nil
}

// add primes the cache with a freshly deployed definition
func (d *definitions) add(def *ProcessDefinition) {
	_, _ = d.cache.Get(def.ID(), func() (*ProcessDefinition, error) {
		return def, nil
	})
}

// activity resolves an activity node within a definition
func (d *ProcessDefinition) activity(
	id api.ActivityID,
) (*api.ActivitySpec, error) {
	act, ok := d.Spec.Activities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrActivityNotFound, id, d.Key)
	}
	return act, nil
}
