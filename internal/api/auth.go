package api

import (
	"net/http"

	"github.com/contribium/contribium/internal/model"
)

type MeResponse struct {
	User     *model.Viewer `json:"user,omitempty"`
	SignedIn bool          `json:"signed_in"`
}

// Me handles GET /api/me. It reports the viewer a token resolves to, or the
// anonymous viewer when no valid token is given.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	viewer := ViewerFromContext(r.Context())
	if !viewer.SignedIn() {
		writeJSON(w, http.StatusOK, MeResponse{})
		return
	}

	writeJSON(w, http.StatusOK, MeResponse{User: &viewer, SignedIn: true})
}
