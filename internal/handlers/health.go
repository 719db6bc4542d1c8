package handlers

import (
	"net/http"

	"github.com/cypherlabs/cipher-score-api/internal/services"
	"github.com/cypherlabs/cipher-score-api/pkg/database"
)

type HealthHandler struct {
	db      *database.DB
	runtime *services.Runtime
}

func NewHealthHandler(db *database.DB, runtime *services.Runtime) *HealthHandler {
	return &HealthHandler{db: db, runtime: runtime}
}

// Health reports process liveness plus the state of its dependencies. The
// endpoint itself stays 200 as long as the process serves traffic; degraded
// dependencies show up in the body.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	if err := h.db.Pool.Ping(r.Context()); err != nil {
		dbStatus = "unreachable"
	}

	computeStatus := "ready"
	if err := h.runtime.Ready(); err != nil {
		computeStatus = "initializing"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"database":    dbStatus,
		"computation": computeStatus,
	})
}
