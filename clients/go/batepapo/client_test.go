package batepapo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendsIdentityAndDecodes(t *testing.T) {
	req := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Alice", r.Header.Get("User"))
		w.Header().Set("Content-Type", "application/json")

		switch r.Method + " " + r.URL.Path {
		case "POST /participants":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "Alice", body["name"])
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(Participant{Name: "Alice", LastStatus: 1700000000000})
		case "GET /messages":
			assert.Equal(t, "2", r.URL.Query().Get("limit"))
			json.NewEncoder(w).Encode([]Message{
				{ID: "1", From: "Alice", To: Broadcast, Text: "a", Type: TypeMessage, Time: "10:00:00"},
				{ID: "2", From: "Bob", To: "Alice", Text: "b", Type: TypePrivateMessage, Time: "10:00:01"},
			})
		case "PUT /messages/01ARZ3NDEKTSV4RRFFQ69G5FAV":
			var in MessageInput
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			json.NewEncoder(w).Encode(Message{ID: "01ARZ3NDEKTSV4RRFFQ69G5FAV", From: "Alice", To: in.To, Text: in.Text, Type: in.Type})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := NewClient(srv.URL, "Alice")

	p, err := c.Register(ctx)
	req.NoError(err)
	req.Equal(int64(1700000000000), p.LastStatus)

	msgs, err := c.Messages(ctx, 2)
	req.NoError(err)
	req.Len(msgs, 2)
	req.Equal(TypePrivateMessage, msgs[1].Type)

	edited, err := c.Edit(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV", MessageInput{To: "Bob", Text: "hey", Type: TypePrivateMessage})
	req.NoError(err)
	req.Equal("hey", edited.Text)

	err = c.Delete(ctx, "nope")
	var apiErr *APIError
	req.True(errors.As(err, &apiErr))
	req.Equal(http.StatusNotFound, apiErr.StatusCode)
	req.Equal("not found", apiErr.Message)
}

func TestClient_KeepAlive(t *testing.T) {
	var beats atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/status" && r.Header.Get("User") == "Alice" {
			beats.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewClient(srv.URL, "Alice").KeepAlive(ctx, 5*time.Millisecond, nil)
		close(done)
	}()

	require.Eventually(t, func() bool { return beats.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestClient_HealthDegraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"degraded"}`))
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, "").Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, "degraded", resp.Status)
}
