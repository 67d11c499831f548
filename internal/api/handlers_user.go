package api

import (
	"encoding/json"
	"net/http"

	"github.com/itscraftings/converse/internal/api/respond"
	"github.com/itscraftings/converse/internal/auth"
	"github.com/itscraftings/converse/internal/services"
)

type UserHandler struct {
	svc *services.UserService
}

func NewUserHandler(svc *services.UserService) *UserHandler { return &UserHandler{svc: svc} }

// Me handles GET /api/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Me(r.Context(), auth.SessionFrom(r.Context()))
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, u)
}

// CreateUsername handles POST /api/users/username. A taken username is a 200
// whose body carries the error.
func (h *UserHandler) CreateUsername(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}
	out, err := h.svc.CreateUsername(r.Context(), auth.SessionFrom(r.Context()), in.Username)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// SearchUsers handles GET /api/users/search?username=
func (h *UserHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.SearchUsers(r.Context(), auth.SessionFrom(r.Context()), r.URL.Query().Get("username"))
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}
