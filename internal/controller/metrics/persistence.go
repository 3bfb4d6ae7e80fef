package metrics

import (
	"context"
	stderrors "errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/keduman/workflow-app/pkg/errors"
)

var (
	persistenceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_persistence_errors_total",
			Help: "Total persistence operation errors by operation and error type",
		},
		[]string{"operation", "error_type"},
	)
)

// RecordPersistenceError increments the persistence error counter.
// operation is the store method that failed, e.g. UpdateInstance.
// errorType is derived from the error with ErrorType.
func RecordPersistenceError(operation, errorType string) {
	persistenceErrors.WithLabelValues(operation, errorType).Inc()
}

// ErrorType maps an error to a low-cardinality label value.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case stderrors.Is(err, context.Canceled):
		return "context_canceled"
	case stderrors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	}
	if t := errors.TypeOf(err); t != "internal" {
		return t
	}
	return "unknown"
}
