package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/abuse-guard/internal/service/abuse"
)

// Identity headers set by the upstream gateway after it authenticates the
// caller.
const (
	actorIDHeader   = "X-Actor-ID"
	actorRoleHeader = "X-Actor-Role"
)

// actorFromRequest reads the caller identity. An empty ID means the request
// carried none; the service rejects it for admin operations.
func actorFromRequest(r *http.Request) abuse.Actor {
	return abuse.Actor{
		ID:   strings.TrimSpace(r.Header.Get(actorIDHeader)),
		Role: strings.TrimSpace(r.Header.Get(actorRoleHeader)),
	}
}

func tenantFromPath(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "tenantID"))
}
