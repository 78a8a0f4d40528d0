package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/yourorg/rental-discovery/internal/discovery"
)

// SnapshotReloader refreshes the snapshot served to new sessions.
type SnapshotReloader interface {
	Reload(ctx context.Context) (*discovery.Snapshot, error)
	Current() *discovery.Snapshot
}

type AdminDeps struct {
	Reloader SnapshotReloader
	Registry *Registry
}

func RegisterAdmin(r chi.Router, d AdminDeps) {
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		listings := 0
		if d.Reloader != nil {
			if snap := d.Reloader.Current(); snap != nil {
				listings = snap.Len()
			}
		}
		sessions := 0
		if d.Registry != nil {
			sessions = d.Registry.Len()
		}
		render.JSON(w, req, map[string]any{"ok": true, "listings": listings, "sessions": sessions})
	})

	r.Post("/snapshot/reload", func(w http.ResponseWriter, req *http.Request) {
		if d.Reloader == nil {
			writeError(w, req, http.StatusNotImplemented, "reload_unavailable", "no listing source configured")
			return
		}
		snap, err := d.Reloader.Reload(req.Context())
		if err != nil {
			writeError(w, req, http.StatusBadGateway, "reload_failed", err.Error())
			return
		}
		render.JSON(w, req, map[string]any{"ok": true, "listings": snap.Len()})
	})
}
