package handlers

import (
	"encoding/json"
	"net/http"

	"palaver/database"
	"palaver/models"
)

// GetUsers returns every registered user with presence info
func (api *API) GetUsers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	users, err := database.ListUsers()
	if err != nil {
		http.Error(w, `{"error": "Failed to get users"}`, http.StatusInternalServerError)
		return
	}

	// Add online status
	for i := range users {
		users[i].Online = api.Hub.IsUserOnline(users[i].Username)
	}

	if users == nil {
		users = []models.UserInfo{}
	}

	json.NewEncoder(w).Encode(users)
}
