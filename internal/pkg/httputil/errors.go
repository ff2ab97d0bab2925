package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/ianampudia11/mecom-sub003/internal/pkg/ctxlog"
)

// ErrorMapping maps a sentinel error to a status code.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string // empty means err.Error()
}

// HandleError writes the first matching mapping. Timeouts answer 504 and
// anything else is logged and answered with 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, m := range mappings {
		if !errors.Is(err, m.Error) {
			continue
		}
		msg := m.Message
		if msg == "" {
			msg = err.Error()
		}
		Error(w, m.Status, msg)
		return
	}

	logger := ctxlog.FromContext(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("request timed out", "error", err)
		Error(w, http.StatusGatewayTimeout, "request timed out")
		return
	}

	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
