// Package batepapo provides a client for the batepapo chat server.
package batepapo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Broadcast addresses a message to everyone in the room.
const Broadcast = "Todos"

// Message types accepted by the server.
const (
	TypeMessage        = "message"
	TypePrivateMessage = "private_message"
	TypeStatus         = "status"
)

// Client is a batepapo API client acting as a single participant.
type Client struct {
	BaseURL    string
	User       string // sent in the User header
	HTTPClient *http.Client
}

// NewClient creates a new client for baseURL acting as user.
func NewClient(baseURL, user string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:5000"
	}
	return &Client{
		BaseURL:    baseURL,
		User:       user,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("batepapo error %d: %s", e.StatusCode, e.Message)
}

// doRequest performs an HTTP request and decodes a JSON response into out.
func (c *Client) doRequest(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.User != "" {
		req.Header.Set("User", c.User)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// Participant is a registered chat participant.
type Participant struct {
	Name       string `json:"name"`
	LastStatus int64  `json:"lastStatus"` // unix milliseconds
}

// Register joins the room as c.User.
func (c *Client) Register(ctx context.Context) (*Participant, error) {
	var p Participant
	if err := c.doRequest(ctx, http.MethodPost, "/participants", map[string]string{"name": c.User}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Heartbeat keeps c.User present.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodPost, "/status", nil, nil)
}

// Participants lists everyone currently in the room.
func (c *Client) Participants(ctx context.Context) ([]Participant, error) {
	var ps []Participant
	if err := c.doRequest(ctx, http.MethodGet, "/participants", nil, &ps); err != nil {
		return nil, err
	}
	return ps, nil
}

// Who looks up a single participant.
func (c *Client) Who(ctx context.Context, name string) (*Participant, error) {
	var p Participant
	if err := c.doRequest(ctx, http.MethodGet, "/participants/"+url.PathEscape(name), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Message represents a chat message.
type Message struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
	Type string `json:"type"`
	Time string `json:"time"` // HH:MM:SS
}

// MessageInput is the editable content of a message.
type MessageInput struct {
	To   string `json:"to"`
	Text string `json:"text"`
	Type string `json:"type"`
}

// Post sends a message as c.User.
func (c *Client) Post(ctx context.Context, in MessageInput) (*Message, error) {
	var m Message
	if err := c.doRequest(ctx, http.MethodPost, "/messages", in, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Messages returns the messages visible to c.User. A limit of 0 returns all.
func (c *Client) Messages(ctx context.Context, limit int) ([]Message, error) {
	path := "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var msgs []Message
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Edit replaces the content of one of c.User's messages.
func (c *Client) Edit(ctx context.Context, id string, in MessageInput) (*Message, error) {
	var m Message
	if err := c.doRequest(ctx, http.MethodPut, "/messages/"+url.PathEscape(id), in, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Delete removes one of c.User's messages.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.doRequest(ctx, http.MethodDelete, "/messages/"+url.PathEscape(id), nil, nil)
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Checks  map[string]struct {
		Status  string `json:"status"`
		Latency string `json:"latency,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"checks"`
}

// Health checks server health. A degraded server still returns its report.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doRequest(ctx, http.MethodGet, "/health", nil, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
		resp.Status = "degraded"
		return &resp, nil
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// KeepAlive sends a heartbeat every interval until ctx is done. Failures are
// passed to onError, which may be nil.
func (c *Client) KeepAlive(ctx context.Context, interval time.Duration, onError func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Heartbeat(ctx); err != nil && onError != nil && ctx.Err() == nil {
				onError(err)
			}
		}
	}
}
