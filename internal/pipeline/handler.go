package pipeline

import (
	"context"
	"sync"

	types "github.com/tenderbase/procure-backend/internal/domain"
	"github.com/tenderbase/procure-backend/internal/pkg/dbctx"
	"github.com/tenderbase/procure-backend/internal/platform/logger"
	"github.com/tenderbase/procure-backend/internal/tracker"
)

// StageContext is what a handler gets to work with: the file under
// processing, its collection, and transaction-bound access to the stores.
// Everything a handler writes through DBC commits atomically with the
// completion of its step.
type StageContext struct {
	Ctx        context.Context
	DBC        dbctx.Context
	Collection *types.Collection
	File       *types.CollectionFile
	Stores     *Stores
	Tracker    *tracker.Tracker
	Log        *logger.Logger
}

// Handler is one stage's behavior. The orchestrator is indifferent to what a
// handler does as long as it is idempotent under at-least-once delivery.
type Handler interface {
	Name() string
	Run(jc *StageContext) error
}

// HandlerRegistry maps step names to handlers.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

func (r *HandlerRegistry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name()] = h
}

func (r *HandlerRegistry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
