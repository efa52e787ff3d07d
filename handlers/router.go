package handlers

import (
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"palaver/middleware"
)

// API bundles the REST handlers with the hub they broadcast through.
type API struct {
	Hub *Hub
}

// NewAPI creates the handler set with a fresh hub. The caller runs the
// hub with go api.Hub.Run().
func NewAPI() *API {
	return &API{Hub: NewHub()}
}

// UploadDir is where POST /api/upload stores files.
func UploadDir() string {
	dir := os.Getenv("UPLOAD_DIR")
	if dir == "" {
		dir = "uploads"
	}
	return dir
}

// Router mounts every REST route and the websocket endpoint.
func (api *API) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/auth/signup", api.Signup).Methods("POST")
	r.HandleFunc("/api/auth/login", api.Login).Methods("POST")
	r.HandleFunc("/api/auth/logout", api.Logout).Methods("POST")
	r.Handle("/api/auth/me", middleware.Auth(http.HandlerFunc(api.Me))).Methods("GET")

	r.Handle("/api/users", middleware.Auth(http.HandlerFunc(api.GetUsers))).Methods("GET")
	r.Handle("/api/messages", middleware.Auth(http.HandlerFunc(api.GetMessages))).Methods("GET")
	r.Handle("/api/messages/{id}", middleware.Auth(http.HandlerFunc(api.DeleteMessage))).Methods("DELETE")
	r.Handle("/api/upload", middleware.Auth(http.HandlerFunc(api.Upload))).Methods("POST")

	r.Handle("/ws", middleware.Auth(http.HandlerFunc(api.HandleWebSocket)))

	// Uploaded media
	r.PathPrefix("/uploads/").Handler(
		http.StripPrefix("/uploads/", http.FileServer(http.Dir(UploadDir()))))

	return r
}
