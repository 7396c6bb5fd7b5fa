package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/SorenPirat/matematik-platform/pkg/interfaces"
	"github.com/SorenPirat/matematik-platform/pkg/types"
)

// APIClient implements interfaces.SessionService against the REST surface,
// so the lifecycle controller can run in a separate process from the server.
type APIClient struct {
	baseURL string
	http    *http.Client
}

// NewAPIClient creates a client for the given base URL (no trailing slash).
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type joinRequest struct {
	SessionCode string `json:"session_code"`
	Alias       string `json:"alias"`
	ClientToken string `json:"client_token"`
}

type heartbeatRequest struct {
	SessionCode string `json:"session_code"`
	Alias       string `json:"alias"`
}

type joinResponse struct {
	OK        bool      `json:"ok"`
	SessionID string    `json:"session_id"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	Room      string    `json:"room"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// CreateSession asks the server for a new session.
func (c *APIClient) CreateSession(ctx context.Context) (*types.Session, error) {
	var session types.Session
	if err := c.do(ctx, http.MethodPost, "/api/sessions", nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// LookupSession resolves a code on the server.
func (c *APIClient) LookupSession(ctx context.Context, code string) (*types.Session, error) {
	var session types.Session
	path := "/api/sessions/" + url.PathEscape(types.CanonicalCode(code))
	if err := c.do(ctx, http.MethodGet, path, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Join confirms membership with the server.
func (c *APIClient) Join(ctx context.Context, code, alias, clientToken string) (*types.Session, error) {
	req := joinRequest{SessionCode: code, Alias: alias, ClientToken: clientToken}
	var resp joinResponse
	if err := c.do(ctx, http.MethodPost, "/api/join", req, &resp); err != nil {
		return nil, err
	}
	return &types.Session{
		ID:        resp.SessionID,
		Code:      resp.Code,
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

// Touch sends the participant heartbeat.
func (c *APIClient) Touch(ctx context.Context, code, alias string) error {
	req := heartbeatRequest{SessionCode: code, Alias: alias}
	return c.do(ctx, http.MethodPost, "/api/heartbeat", req, nil)
}

// Evict removes a participant.
func (c *APIClient) Evict(ctx context.Context, code, alias string) error {
	path := "/api/sessions/" + url.PathEscape(types.CanonicalCode(code)) +
		"/participants/" + url.PathEscape(types.NormalizeAlias(alias))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ListParticipants returns a session's participants.
func (c *APIClient) ListParticipants(ctx context.Context, code string) ([]*types.Participant, error) {
	var participants []*types.Participant
	path := "/api/sessions/" + url.PathEscape(types.CanonicalCode(code)) + "/participants"
	if err := c.do(ctx, http.MethodGet, path, nil, &participants); err != nil {
		return nil, err
	}
	return participants, nil
}

// do runs one request and maps the response onto the error taxonomy. A
// network failure or a 5xx is ErrUnreachable so callers retry instead of
// tearing down state.
func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	var apiErr errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return interfaces.ErrSessionNotFound
	case http.StatusGone:
		// The server distinguishes an expired session from an evicted
		// participant in the message body.
		if apiErr.Error == "participant removed" {
			return interfaces.ErrParticipantRemoved
		}
		return interfaces.ErrSessionExpired
	case http.StatusConflict:
		return interfaces.ErrAliasTaken
	case http.StatusBadRequest:
		if apiErr.Error != "" {
			return fmt.Errorf("rejected: %s", apiErr.Error)
		}
		return fmt.Errorf("rejected: status %d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", interfaces.ErrUnreachable, resp.StatusCode)
	}
}
