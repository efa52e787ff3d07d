package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"palaver/middleware"
)

const maxUploadSize = 10 << 20 // 10 MB

// Upload stores a multipart file and returns the URL it is served under.
func (api *API) Upload(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	user := middleware.GetUserFromContext(r)
	if user == nil {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, `{"error": "File too large"}`, http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, `{"error": "file field is required"}`, http.StatusBadRequest)
		return
	}
	defer file.Close()

	dir := UploadDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		http.Error(w, `{"error": "Failed to store file"}`, http.StatusInternalServerError)
		return
	}

	name := uuid.NewString() + filepath.Ext(header.Filename)
	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		http.Error(w, `{"error": "Failed to store file"}`, http.StatusInternalServerError)
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		http.Error(w, `{"error": "Failed to store file"}`, http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"url": "/uploads/" + name})
}
