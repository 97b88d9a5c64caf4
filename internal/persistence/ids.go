package persistence

import (
	"context"
	"strconv"
	"sync"
)

// IDGenerator hands out identifiers from blocks reserved through the
// backend. Only one backend round trip is needed per block
type IDGenerator struct {
	backend   Backend
	blockSize int64
	next      int64
	last      int64
	mu        sync.Mutex
}

// DefaultIDBlockSize is the number of identifiers reserved per round trip
const DefaultIDBlockSize = 100

// NewIDGenerator creates a generator drawing blocks of size blockSize
func NewIDGenerator(backend Backend, blockSize int64) *IDGenerator {
	if blockSize <= 0 {
		blockSize = DefaultIDBlockSize
	}
	return &IDGenerator{
		backend:   backend,
		blockSize: blockSize,
		// next starts past last so the first call claims a block
		next: 1,
	}
}

// NextID returns the next identifier, reserving a new block when the
// current one is exhausted
func (g *IDGenerator) NextID(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.next > g.last {
		top, err := g.backend.NextIDBlock(ctx, g.blockSize)
		if err != nil {
			return "", err
		}
		g.next = top - g.blockSize + 1
		g.last = top
	}

	id := g.next
	g.next++
	return strconv.FormatInt(id, 10), nil
}
