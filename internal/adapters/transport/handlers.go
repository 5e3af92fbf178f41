package transport

import (
	"context"
	"fmt"
	"sync"
)

// HandlerFunc performs the work behind one module service.
type HandlerFunc func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ErrUnknownService is returned when no handler is bound to module/service.
type ErrUnknownService struct {
	ModuleID  string
	ServiceID string
}

func (e *ErrUnknownService) Error() string {
	return fmt.Sprintf("service %s is not implemented by module %s", e.ServiceID, e.ModuleID)
}

type handlerSet struct {
	mu       sync.RWMutex
	handlers map[string]map[string]HandlerFunc
}

func newHandlerSet() *handlerSet {
	return &handlerSet{handlers: make(map[string]map[string]HandlerFunc)}
}

func (h *handlerSet) bind(moduleID, serviceID string, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()

	services, ok := h.handlers[moduleID]
	if !ok {
		services = make(map[string]HandlerFunc)
		h.handlers[moduleID] = services
	}
	services[serviceID] = fn
}

func (h *handlerSet) lookup(moduleID, serviceID string) (HandlerFunc, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	fn, ok := h.handlers[moduleID][serviceID]
	if !ok {
		return nil, &ErrUnknownService{ModuleID: moduleID, ServiceID: serviceID}
	}
	return fn, nil
}

// invoke runs fn and turns a panic into an error so one broken handler
// cannot take down the caller.
func invoke(ctx context.Context, fn HandlerFunc, params map[string]interface{}) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ctx, params)
}
