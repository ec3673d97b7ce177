// Package transport carries the client side of the sync protocol: the HTTP
// sync endpoints and the realtime websocket.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrAckTimeout   = errors.New("ack timeout")
	ErrClosed       = errors.New("connection closed")
)

// StatusError is a non-2xx reply from the sync endpoints.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sync server returned %d %s: %s", e.Status, e.Code, e.Message)
}

// Retryable reports whether err is worth trying again later: network
// failures and server side errors are, rejections are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= 500 || se.Status == http.StatusTooManyRequests
	}
	return !errors.Is(err, ErrUnauthorized)
}

// HTTP calls the sync endpoints with a bearer token.
type HTTP struct {
	base   string
	token  string
	client *http.Client
}

// NewHTTP targets baseURL, e.g. http://localhost:8088.
func NewHTTP(baseURL, token string, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTP{
		base:   strings.TrimRight(baseURL, "/"),
		token:  token,
		client: client,
	}
}

// Pull fetches everything changed after since.
func (h *HTTP) Pull(ctx context.Context, since time.Time) (*domain.DeltaResponse, error) {
	path := "/sync"
	if !since.IsZero() {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}
	var resp domain.DeltaResponse
	if err := h.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Flush submits queued items and returns one result per item.
func (h *HTTP) Flush(ctx context.Context, items []domain.QueueItem) ([]domain.FlushResult, error) {
	var resp domain.FlushResponse
	if err := h.do(ctx, http.MethodPost, "/sync", items, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// InitialSync fetches the directory and the caller's conversations.
func (h *HTTP) InitialSync(ctx context.Context) (*domain.InitialSyncResponse, error) {
	var resp domain.InitialSyncResponse
	if err := h.do(ctx, http.MethodGet, "/initial-sync", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (h *HTTP) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode/100 != 2 {
		var env struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&env)
		return &StatusError{Status: resp.StatusCode, Code: env.Code, Message: env.Error}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
