package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"palaver/database"
	"palaver/middleware"
	"palaver/models"
)

// GetMessages returns the history between the sender and receiver query
// parameters in chronological order. The requester must be one of the two.
func (api *API) GetMessages(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	user := middleware.GetUserFromContext(r)
	if user == nil {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	sender := r.URL.Query().Get("sender")
	receiver := r.URL.Query().Get("receiver")
	if sender == "" || receiver == "" {
		http.Error(w, `{"error": "sender and receiver are required"}`, http.StatusBadRequest)
		return
	}
	if user.Username != sender && user.Username != receiver {
		http.Error(w, `{"error": "Forbidden"}`, http.StatusForbidden)
		return
	}

	messages, err := database.GetMessagesBetween(sender, receiver)
	if err != nil {
		http.Error(w, `{"error": "Failed to get messages"}`, http.StatusInternalServerError)
		return
	}

	if messages == nil {
		messages = []models.Message{}
	}

	json.NewEncoder(w).Encode(messages)
}

// DeleteMessage removes a message. Only its sender may delete it; both
// parties are notified over the channel.
func (api *API) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	user := middleware.GetUserFromContext(r)
	if user == nil {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	id := mux.Vars(r)["id"]

	msg, err := database.GetMessageByID(id)
	if err != nil {
		http.Error(w, `{"error": "Message not found"}`, http.StatusNotFound)
		return
	}
	if msg.Sender != user.Username {
		http.Error(w, `{"error": "Forbidden"}`, http.StatusForbidden)
		return
	}

	if err := database.DeleteMessage(id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, `{"error": "Message not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error": "Failed to delete message"}`, http.StatusInternalServerError)
		return
	}

	api.Hub.SendEvent(msg.Sender, models.EventMessageDeleted, models.MessageRef{MessageID: id})
	api.Hub.SendEvent(msg.Receiver, models.EventMessageDeleted, models.MessageRef{MessageID: id})

	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}
