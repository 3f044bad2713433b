package handlers

import (
	"net/http"

	"github.com/onnwee/swrcache/internal/engine"
)

// Health returns a simple JSON payload to indicate the daemon is alive,
// along with the environment state the engine sees.
func Health(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lc := eng.Lifecycle()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"online":  lc.Online(),
			"visible": lc.Visible(),
		})
	}
}
