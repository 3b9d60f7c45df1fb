package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/glbridge/internal/consol"
	"github.com/odyssey-erp/glbridge/internal/fanout"
	"github.com/odyssey-erp/glbridge/internal/platform/httpx"
	"github.com/odyssey-erp/glbridge/internal/suiteql"
)

// respondError maps engine errors to problem responses. Failed computations
// are reported as errors so clients never mistake them for zero balances.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, title := classify(err)
	detail := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("balance request failed",
			slog.String("path", r.URL.Path),
			slog.String("component", consol.ComponentOf(err)),
			slog.Any("error", err))
	}
	if status == http.StatusInternalServerError {
		detail = ""
	}
	httpx.Problem(w, status, title, detail)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, consol.ErrInvalidRequest), errors.Is(err, errBadQuery):
		return http.StatusBadRequest, "Invalid Request"
	case errors.Is(err, consol.ErrAccountNotFound):
		return http.StatusNotFound, "Account Not Found"
	case suiteql.IsPermissionDenied(err):
		return http.StatusForbidden, "Permission Denied"
	case suiteql.IsRateLimited(err):
		return http.StatusTooManyRequests, "Ledger Rate Limited"
	case errors.Is(err, fanout.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Ledger Timeout"
	case consol.ComponentOf(err) != "":
		return http.StatusBadGateway, "Ledger Query Failed"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}
