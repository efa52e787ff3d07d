package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"palaver/models"
)

// HistoryService is the REST surface the synchronizer depends on. It is
// satisfied by *HistoryLoader and by test doubles.
type HistoryService interface {
	Load(ctx context.Context, sender, receiver string) ([]models.Message, error)
	Users(ctx context.Context) ([]models.UserInfo, error)
	DeleteMessage(ctx context.Context, id string) error
}

// HistoryLoader is the REST client: the one-shot conversation history
// fetch plus the rest of the server's HTTP surface (auth, user list,
// delete, upload). The session cookie obtained at login lives in the
// jar, which is shared with the channel dialer.
type HistoryLoader struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHistoryLoader creates a REST client with a fresh cookie jar.
func NewHistoryLoader(baseURL string) (*HistoryLoader, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &HistoryLoader{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second, Jar: jar},
	}, nil
}

// Jar exposes the cookie jar so the channel can authenticate its dial.
func (l *HistoryLoader) Jar() http.CookieJar {
	return l.HTTPClient.Jar
}

func (l *HistoryLoader) doRequest(ctx context.Context, op, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, l.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := l.HTTPClient.Do(req)
	if err != nil {
		return &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return &ServerRejection{Op: op, Status: resp.StatusCode, Message: errResp.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return nil
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register creates an account and leaves the session cookie in the jar.
func (l *HistoryLoader) Register(ctx context.Context, username, password string) error {
	return l.doRequest(ctx, "register", "POST", "/api/auth/signup", credentials{username, password}, nil)
}

// Login authenticates and leaves the session cookie in the jar.
func (l *HistoryLoader) Login(ctx context.Context, username, password string) error {
	return l.doRequest(ctx, "login", "POST", "/api/auth/login", credentials{username, password}, nil)
}

// Logout ends the session.
func (l *HistoryLoader) Logout(ctx context.Context) error {
	return l.doRequest(ctx, "logout", "POST", "/api/auth/logout", nil, nil)
}

// Me returns the profile behind the current session.
func (l *HistoryLoader) Me(ctx context.Context) (models.UserInfo, error) {
	var info models.UserInfo
	if err := l.doRequest(ctx, "whoami", "GET", "/api/auth/me", nil, &info); err != nil {
		return models.UserInfo{}, err
	}
	return info, nil
}

// Load fetches the full history between sender and receiver, ordered
// ascending by timestamp. On failure nothing is mutated; the caller may
// retry.
func (l *HistoryLoader) Load(ctx context.Context, sender, receiver string) ([]models.Message, error) {
	path := "/api/messages?sender=" + url.QueryEscape(sender) + "&receiver=" + url.QueryEscape(receiver)
	var messages []models.Message
	if err := l.doRequest(ctx, "load history", "GET", path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// Users fetches every known user with last-seen timestamps.
func (l *HistoryLoader) Users(ctx context.Context) ([]models.UserInfo, error) {
	var users []models.UserInfo
	if err := l.doRequest(ctx, "list users", "GET", "/api/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// DeleteMessage removes a message server-side.
func (l *HistoryLoader) DeleteMessage(ctx context.Context, id string) error {
	return l.doRequest(ctx, "delete message", "DELETE", "/api/messages/"+url.PathEscape(id), nil, nil)
}

// Upload sends a file to the media store and returns the URL it is
// served under, for use as message content.
func (l *HistoryLoader) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.BaseURL+"/api/upload", &buf)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := l.HTTPClient.Do(req)
	if err != nil {
		return "", &TransientError{Op: "upload", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", &ServerRejection{Op: "upload", Status: resp.StatusCode, Message: errResp.Error}
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("upload: decode response: %w", err)
	}
	return out.URL, nil
}
