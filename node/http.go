package node

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// statusProvider is the minimal view the ops HTTP surface needs of a
// running replica — satisfied by *Replica.
type statusProvider interface {
	Height() uint64
	Role() string
	CaughtUp() bool
}

// NewOpsRouter builds the liveness/readiness HTTP surface spec §4.7
// names: /healthz (always 200 once the process is up, reporting height
// and role) and /readyz (200 only once the replica believes it has
// caught up to the network tip). This is not the out-of-scope chain-data
// query surface — no block/tx/account lookups are exposed here.
func NewOpsRouter(r statusProvider) http.Handler {
	mux := chi.NewRouter()
	mux.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeStatus(w, http.StatusOK, map[string]any{
			"height": r.Height(),
			"role":   r.Role(),
		})
	})
	mux.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		code := http.StatusOK
		if !r.CaughtUp() {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, map[string]any{
			"height":    r.Height(),
			"caught_up": r.CaughtUp(),
		})
	})
	return mux
}

func writeStatus(w http.ResponseWriter, code int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
