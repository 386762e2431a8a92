// Package remotetree is a thin client for the external version-controlled
// blob store ("the remote tree"). Every operation maps to exactly one HTTP
// call; the client carries no retry logic of its own. Retry and backoff are
// the responsibility of the sync queue driving it.
package remotetree

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Author attributes a remote write in the remote store's history. It is
// synthesized from the resource's owning user so the remote history matches
// the catalog's audit trail.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Options configure optional client behavior.
type Options struct {
	// HTTPClient is the underlying HTTP client. Defaults to a client with a
	// 30 second timeout.
	HTTPClient *http.Client
	// SessionTTL is how long an established session is reused.
	// Defaults to 10 minutes.
	SessionTTL time.Duration
	// SessionCacheSize bounds the number of cached sessions. Defaults to 16.
	SessionCacheSize int
	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client wraps the remote tree's HTTP API.
type Client struct {
	baseURL    string
	credential string
	httpClient *http.Client
	sessions   *SessionCache
	logger     *slog.Logger
}

// New creates a client for the remote tree API at baseURL, authenticating
// with the single shared service credential.
func New(baseURL, credential string, opts *Options) *Client {
	if opts == nil {
		opts = &Options{}
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	ttl := opts.SessionTTL
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	size := opts.SessionCacheSize
	if size == 0 {
		size = 16
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		credential: credential,
		httpClient: httpClient,
		sessions:   NewSessionCache(size, ttl),
		logger:     logger,
	}
}

// Sessions exposes the injected session cache so the owner can invalidate
// credentials explicitly.
func (c *Client) Sessions() *SessionCache {
	return c.sessions
}

type contentRequest struct {
	Content string `json:"content"`
	Sha     string `json:"sha,omitempty"`
	Author  Author `json:"author"`
}

type contentResponse struct {
	Sha     string `json:"sha"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

// CreateFile creates a new file at path and returns the version token of the
// created blob. The remote rejects creates onto an existing path.
func (c *Client) CreateFile(ctx context.Context, repo, path string, content []byte, author Author) (string, error) {
	body := contentRequest{
		Content: base64.StdEncoding.EncodeToString(content),
		Author:  author,
	}
	resp, err := c.do(ctx, http.MethodPost, c.contentsURL(repo, path), body)
	if err != nil {
		return "", err
	}
	if resp.status != http.StatusCreated && resp.status != http.StatusOK {
		return "", &WriteError{Path: path, StatusCode: resp.status, Message: resp.payload.Message}
	}
	return resp.payload.Sha, nil
}

// UpdateFile replaces the file at path, conditioned on priorToken matching
// the remote blob's current version. A stale token yields a ConflictError;
// callers must re-read the current token before trying again.
func (c *Client) UpdateFile(ctx context.Context, repo, path, priorToken string, content []byte, author Author) (string, error) {
	body := contentRequest{
		Content: base64.StdEncoding.EncodeToString(content),
		Sha:     priorToken,
		Author:  author,
	}
	resp, err := c.do(ctx, http.MethodPut, c.contentsURL(repo, path), body)
	if err != nil {
		return "", err
	}
	if resp.status == http.StatusConflict {
		return "", &ConflictError{Path: path}
	}
	if resp.status != http.StatusOK {
		return "", &WriteError{Path: path, StatusCode: resp.status, Message: resp.payload.Message}
	}
	return resp.payload.Sha, nil
}

// DeleteFile removes the file at path, conditioned on its version token.
func (c *Client) DeleteFile(ctx context.Context, repo, path, token string, author Author) error {
	body := contentRequest{Sha: token, Author: author}
	resp, err := c.do(ctx, http.MethodDelete, c.contentsURL(repo, path), body)
	if err != nil {
		return err
	}
	if resp.status == http.StatusConflict {
		return &ConflictError{Path: path}
	}
	if resp.status != http.StatusOK && resp.status != http.StatusNoContent {
		return &WriteError{Path: path, StatusCode: resp.status, Message: resp.payload.Message}
	}
	return nil
}

// DeleteFolder recursively removes the folder at path. Deleting a folder
// that is already absent is not an error, which makes the operation safe to
// redeliver.
func (c *Client) DeleteFolder(ctx context.Context, repo, path string, author Author) error {
	body := contentRequest{Author: author}
	resp, err := c.do(ctx, http.MethodDelete, c.treesURL(repo, path), body)
	if err != nil {
		return err
	}
	if resp.status == http.StatusNotFound {
		return nil
	}
	if resp.status != http.StatusOK && resp.status != http.StatusNoContent {
		return &WriteError{Path: path, StatusCode: resp.status, Message: resp.payload.Message}
	}
	return nil
}

// ReadFile returns the current content and version token of the file at
// path.
func (c *Client) ReadFile(ctx context.Context, repo, path string) ([]byte, string, error) {
	resp, err := c.do(ctx, http.MethodGet, c.contentsURL(repo, path), nil)
	if err != nil {
		return nil, "", err
	}
	if resp.status == http.StatusNotFound {
		return nil, "", &NotFoundError{Path: path}
	}
	if resp.status != http.StatusOK {
		return nil, "", &WriteError{Path: path, StatusCode: resp.status, Message: resp.payload.Message}
	}
	content, err := base64.StdEncoding.DecodeString(resp.payload.Content)
	if err != nil {
		return nil, "", fmt.Errorf("malformed content for %q: %w", path, err)
	}
	return content, resp.payload.Sha, nil
}

type response struct {
	status  int
	payload contentResponse
}

func (c *Client) do(ctx context.Context, method, rawURL string, body any) (*response, error) {
	session, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+session)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out := &response{status: resp.StatusCode}
	// Error bodies are best-effort; an empty or malformed payload still
	// carries meaning through the status code.
	_ = json.NewDecoder(resp.Body).Decode(&out.payload)
	return out, nil
}

type sessionRequest struct {
	Credential string `json:"credential"`
}

type sessionResponse struct {
	Token   string `json:"token"`
	Message string `json:"message,omitempty"`
}

// session returns a cached session token or establishes a new one.
func (c *Client) session(ctx context.Context) (string, error) {
	if token, ok := c.sessions.Get(c.credential); ok {
		return token, nil
	}

	encoded, err := json.Marshal(sessionRequest{Credential: c.credential})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/sessions", bytes.NewReader(encoded))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var payload sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("malformed session response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("remote tree refused session (status %d): %s", resp.StatusCode, payload.Message)
	}

	c.sessions.Put(c.credential, payload.Token)
	c.logger.DebugContext(ctx, "established remote tree session")
	return payload.Token, nil
}

func (c *Client) contentsURL(repo, path string) string {
	return fmt.Sprintf("%s/api/v1/repos/%s/contents/%s", c.baseURL, url.PathEscape(repo), escapePath(path))
}

func (c *Client) treesURL(repo, path string) string {
	return fmt.Sprintf("%s/api/v1/repos/%s/trees/%s", c.baseURL, url.PathEscape(repo), escapePath(path))
}

// escapePath escapes each path segment while preserving separators.
func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}
