package jobs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kode4food/paisley/internal/command"
)

type (
	// Handler executes one type of job inside the claiming command's unit
	// of work. Returning an error rolls the unit of work back and counts
	// as a failed attempt
	Handler interface {
		Execute(c *command.Context, job *Job) error
	}

	// HandlerFunc adapts a function to the Handler interface
	HandlerFunc func(c *command.Context, job *Job) error

	// Handlers is a registry of job handlers keyed by job type
	Handlers struct {
		handlers map[string]Handler
		mu       sync.RWMutex
	}
)

var ErrNoHandler = errors.New("no handler for job type")

func (f HandlerFunc) Execute(c *command.Context, job *Job) error {
	return f(c, job)
}

// NewHandlers creates an empty handler registry
func NewHandlers() *Handlers {
	return &Handlers{
		handlers: map[string]Handler{},
	}
}

// Register installs a handler for a job type
func (h *Handlers) Register(typ string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[typ] = handler
}

// Get returns the handler for a job type
func (h *Handlers) Get(typ string) (Handler, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	handler, ok := h.handlers[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, typ)
	}
	return handler, nil
}
