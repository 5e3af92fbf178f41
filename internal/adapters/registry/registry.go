package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/orchestra/internal/domain"
)

// ModuleRegistry stores module descriptors. Modules are never removed, only
// marked inactive.
type ModuleRegistry struct {
	modules map[string]domain.ModuleDescriptor
	mu      sync.RWMutex
	logger  *slog.Logger
}

func NewModuleRegistry(logger *slog.Logger) *ModuleRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	return &ModuleRegistry{
		modules: make(map[string]domain.ModuleDescriptor),
		logger:  logger.With("component", "registry", "type", "modules"),
	}
}

func (r *ModuleRegistry) Add(desc domain.ModuleDescriptor) error {
	if err := ValidateDescriptor(desc); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[desc.ModuleID]; exists {
		r.logger.Warn("module registration conflict detected", "module_id", desc.ModuleID)
		return domain.NewInvalidModuleError(desc.ModuleID, "module already registered")
	}

	r.modules[desc.ModuleID] = desc.Clone()
	r.logger.Info("module registered", "module_id", desc.ModuleID, "services", len(desc.Services))
	return nil
}

func (r *ModuleRegistry) Get(moduleID string) (domain.ModuleDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, exists := r.modules[moduleID]
	if !exists {
		return domain.ModuleDescriptor{}, false
	}
	return desc.Clone(), true
}

func (r *ModuleRegistry) Has(moduleID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.modules[moduleID]
	return exists
}

// List returns a sorted snapshot. An empty status matches every module.
func (r *ModuleRegistry) List(status domain.ModuleStatus) []domain.ModuleDescriptor {
	r.mu.RLock()
	out := make([]domain.ModuleDescriptor, 0, len(r.modules))
	for _, desc := range r.modules {
		if status == "" || desc.Status == status {
			out = append(out, desc.Clone())
		}
	}
	r.mu.RUnlock()

	domain.SortModules(out)
	return out
}

func (r *ModuleRegistry) SetStatus(moduleID string, status domain.ModuleStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	desc, exists := r.modules[moduleID]
	if !exists {
		return domain.NewModuleNotFoundError(moduleID)
	}

	if desc.Status != status {
		r.logger.Info("module status changed", "module_id", moduleID, "from", desc.Status, "to", status)
	}
	desc.Status = status
	r.modules[moduleID] = desc
	return nil
}

func (r *ModuleRegistry) Heartbeat(moduleID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	desc, exists := r.modules[moduleID]
	if !exists {
		return domain.NewModuleNotFoundError(moduleID)
	}
	desc.LastHeartbeat = at
	r.modules[moduleID] = desc
	return nil
}

func (r *ModuleRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}
