package registry

import (
	"strings"

	"github.com/eleven-am/orchestra/internal/domain"
)

// ValidateDescriptor checks the fields a module must carry before it can be
// admitted: an id, a name and at least one uniquely named service.
func ValidateDescriptor(desc domain.ModuleDescriptor) error {
	if strings.TrimSpace(desc.ModuleID) == "" {
		return domain.NewInvalidModuleError(desc.ModuleID, "module id cannot be empty")
	}
	if strings.TrimSpace(desc.ModuleName) == "" {
		return domain.NewInvalidModuleError(desc.ModuleID, "module name cannot be empty")
	}
	if len(desc.Services) == 0 {
		return domain.NewInvalidModuleError(desc.ModuleID, "module must declare at least one service")
	}

	seen := make(map[string]struct{}, len(desc.Services))
	for _, svc := range desc.Services {
		if svc.ServiceID == "" {
			return domain.NewInvalidModuleError(desc.ModuleID, "service id cannot be empty")
		}
		if _, dup := seen[svc.ServiceID]; dup {
			return domain.NewInvalidModuleError(desc.ModuleID, "duplicate service id "+svc.ServiceID)
		}
		seen[svc.ServiceID] = struct{}{}
	}

	return nil
}
