package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/itscraftings/converse/internal/api/respond"
	"github.com/itscraftings/converse/internal/auth"
	"github.com/itscraftings/converse/internal/services"
)

type ConversationHandler struct {
	svc *services.ConversationService
}

func NewConversationHandler(svc *services.ConversationService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// ListConversations handles GET /api/conversations
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Conversations(r.Context(), auth.SessionFrom(r.Context()))
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// CreateConversation handles POST /api/conversations
func (h *ConversationHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ParticipantIDs []string `json:"participantIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}
	id, err := h.svc.CreateConversation(r.Context(), auth.SessionFrom(r.Context()), in.ParticipantIDs)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, map[string]string{"conversationId": id})
}

// MarkConversationAsRead handles POST /api/conversations/{conversationId}/read.
// The body's userId defaults to the session user.
func (h *ConversationHandler) MarkConversationAsRead(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFrom(r.Context())
	var in struct {
		UserID string `json:"userId"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			respond.WriteBadRequest(w, "invalid json")
			return
		}
	}
	if in.UserID == "" {
		in.UserID = sess.UserID()
	}
	ok, err := h.svc.MarkConversationAsRead(r.Context(), sess, in.UserID, mux.Vars(r)["conversationId"])
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, successResponse{Success: ok})
}

// DeleteConversation handles DELETE /api/conversations/{conversationId}
func (h *ConversationHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	ok, err := h.svc.DeleteConversation(r.Context(), auth.SessionFrom(r.Context()), mux.Vars(r)["conversationId"])
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, successResponse{Success: ok})
}

type successResponse struct {
	Success bool `json:"success"`
}
