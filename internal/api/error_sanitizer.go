package api

import (
	"errors"
	"net/http"

	"github.com/ignite/abuse-guard/internal/pkg/httputil"
	"github.com/ignite/abuse-guard/internal/pkg/logger"
	"github.com/ignite/abuse-guard/internal/service/abuse"
)

// writeServiceError maps a service error to a status and a public message.
// Client errors carry the service's message, which never contains storage
// detail. Anything unrecognised is logged and returned as a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, abuse.ErrInvalidInput), errors.Is(err, abuse.ErrUnknownSignalKind):
		httputil.ErrorCode(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, abuse.ErrForbidden):
		httputil.Forbidden(w, abuse.ErrForbidden.Error())
	case errors.Is(err, abuse.ErrTenantNotFound):
		httputil.ErrorCode(w, http.StatusNotFound, "tenant_not_found", abuse.ErrTenantNotFound.Error())
	case errors.Is(err, abuse.ErrEventNotFound):
		httputil.ErrorCode(w, http.StatusNotFound, "event_not_found", abuse.ErrEventNotFound.Error())
	case errors.Is(err, abuse.ErrAlreadySuspended):
		httputil.ErrorCode(w, http.StatusConflict, "already_suspended", abuse.ErrAlreadySuspended.Error())
	case errors.Is(err, abuse.ErrNotSuspended):
		httputil.ErrorCode(w, http.StatusConflict, "not_suspended", abuse.ErrNotSuspended.Error())
	case errors.Is(err, abuse.ErrConcurrentMutation):
		httputil.ErrorCode(w, http.StatusConflict, "concurrent_mutation", abuse.ErrConcurrentMutation.Error())
	case errors.Is(err, abuse.ErrInvalidScoreState):
		httputil.ErrorCode(w, http.StatusConflict, "review_required", abuse.ErrInvalidScoreState.Error())
	case errors.Is(err, abuse.ErrSuspensionStoreUnavailable):
		logger.Error("suspension store unavailable", "path", r.URL.Path, "error", err)
		httputil.ServiceUnavailable(w, abuse.ErrSuspensionStoreUnavailable.Error())
	default:
		httputil.InternalError(w, err)
	}
}
