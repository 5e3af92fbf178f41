package ports

import "context"

// ServiceConn is a live binding to one module.
type ServiceConn interface {
	Call(ctx context.Context, serviceID string, params map[string]interface{}) (interface{}, error)
	Close() error
}

// Transport opens connections to module endpoints. The coordinator treats
// calls as opaque and only measures and classifies their outcome.
type Transport interface {
	Connect(ctx context.Context, moduleID, endpoint string) (ServiceConn, error)
}
