package coordinator

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/eleven-am/orchestra/internal/domain"
)

const (
	timeoutRetryAfter    = 2000 * time.Millisecond
	connectionRetryAfter = 5000 * time.Millisecond
)

// HandleModuleError recommends what a caller should do about err. It never
// retries anything itself.
func (c *Coordinator) HandleModuleError(err error) domain.ErrorRecommendation {
	return HandleModuleError(err)
}

func HandleModuleError(err error) domain.ErrorRecommendation {
	if err == nil {
		return domain.ErrorRecommendation{Action: domain.ActionSkip}
	}

	category := categorize(err)
	switch category {
	case domain.ServiceErrorTimeout:
		return domain.ErrorRecommendation{Handled: true, Action: domain.ActionRetry, RetryAfter: timeoutRetryAfter, Category: category}
	case domain.ServiceErrorConnection, domain.ServiceErrorCircuitOpen:
		return domain.ErrorRecommendation{Handled: true, Action: domain.ActionRetry, RetryAfter: connectionRetryAfter, Category: category}
	case domain.ServiceErrorValidation, domain.ServiceErrorAuthentication:
		return domain.ErrorRecommendation{Handled: true, Action: domain.ActionAbort, Category: category}
	default:
		return domain.ErrorRecommendation{Handled: false, Action: domain.ActionSkip, Category: category}
	}
}

// categorize maps an error onto a ServiceErrorType. Call failures wrapped in
// a ServiceError keep the category they were given when the call failed.
func categorize(err error) domain.ServiceErrorType {
	var svcErr *domain.ServiceError
	if errors.As(err, &svcErr) {
		if svcErr.Category != "" {
			return svcErr.Category
		}
		return svcErr.ErrorType
	}

	switch {
	case errors.Is(err, domain.ErrCircuitOpen):
		return domain.ServiceErrorCircuitOpen
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, domain.ErrTimeout):
		return domain.ServiceErrorTimeout
	case errors.Is(err, domain.ErrConnection), domain.IsKind(err, domain.ErrorKindConnectionNotFound):
		return domain.ServiceErrorConnection
	case domain.IsKind(err, domain.ErrorKindInvalidParameters), domain.IsKind(err, domain.ErrorKindInvalidModule):
		return domain.ServiceErrorValidation
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.DeadlineExceeded:
			return domain.ServiceErrorTimeout
		case codes.Unavailable, codes.Aborted:
			return domain.ServiceErrorConnection
		case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
			return domain.ServiceErrorValidation
		case codes.Unauthenticated, codes.PermissionDenied:
			return domain.ServiceErrorAuthentication
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return domain.ServiceErrorTimeout
		}
		return domain.ServiceErrorConnection
	}

	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "timeout"), strings.Contains(message, "timed out"):
		return domain.ServiceErrorTimeout
	case strings.Contains(message, "connection"), strings.Contains(message, "network"):
		return domain.ServiceErrorConnection
	case strings.Contains(message, "unauthorized"), strings.Contains(message, "unauthenticated"):
		return domain.ServiceErrorAuthentication
	case strings.Contains(message, "invalid"), strings.Contains(message, "validation"):
		return domain.ServiceErrorValidation
	}
	return domain.ServiceErrorExecution
}

func errorCode(category domain.ServiceErrorType) string {
	switch category {
	case domain.ServiceErrorTimeout:
		return "TIMEOUT"
	case domain.ServiceErrorConnection:
		return "CONNECTION_FAILED"
	case domain.ServiceErrorValidation:
		return "VALIDATION_FAILED"
	case domain.ServiceErrorAuthentication:
		return "UNAUTHENTICATED"
	case domain.ServiceErrorCircuitOpen:
		return "CIRCUIT_OPEN"
	default:
		return "EXECUTION_FAILED"
	}
}

func errorLogAttrs(err error) []any {
	if err == nil {
		return nil
	}

	attrs := []any{
		"error", err,
		"error_kind", domain.KindOf(err).String(),
		"error_category", string(categorize(err)),
	}

	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		attrs = append(attrs, "error_retryable", domainErr.Retryable)
		if len(domainErr.Details) > 0 {
			attrs = append(attrs, "error_details", domainErr.Details)
		}
	}
	return attrs
}
