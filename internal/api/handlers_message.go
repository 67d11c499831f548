package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/itscraftings/converse/internal/api/respond"
	"github.com/itscraftings/converse/internal/auth"
	"github.com/itscraftings/converse/internal/model"
	"github.com/itscraftings/converse/internal/services"
)

type MessageHandler struct {
	svc *services.MessageService
}

func NewMessageHandler(svc *services.MessageService) *MessageHandler {
	return &MessageHandler{svc: svc}
}

// ListMessages handles GET /api/conversations/{conversationId}/messages
func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Messages(r.Context(), auth.SessionFrom(r.Context()), mux.Vars(r)["conversationId"])
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// SendMessage handles POST /api/conversations/{conversationId}/messages.
// The message id is generated by the client so it can render the message
// before the server confirms it.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ID       string `json:"id"`
		SenderID string `json:"senderId"`
		Body     string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}
	req := model.SendMessageRequest{
		ID:             in.ID,
		ConversationID: mux.Vars(r)["conversationId"],
		SenderID:       in.SenderID,
		Body:           in.Body,
	}
	ok, err := h.svc.SendMessage(r.Context(), auth.SessionFrom(r.Context()), req)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, successResponse{Success: ok})
}
