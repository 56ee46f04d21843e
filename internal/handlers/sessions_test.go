package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-mcp-session-engine/internal/config"
	"go-mcp-session-engine/internal/instance"
	"go-mcp-session-engine/internal/restore"
	"go-mcp-session-engine/internal/session"
)

func testContext() instance.Context {
	return instance.Context{
		BaseURL:       "https://x.test",
		Credential:    "k1",
		CallTimeoutMS: 10000,
	}
}

func newTestServer(t *testing.T, hook restore.Hook) (*httptest.Server, *session.Registry) {
	t.Helper()

	registry := session.NewRegistry(config.EngineConfig{
		SessionTimeout: time.Minute,
		SweepInterval:  time.Hour,
		EventQueueSize: 16,
	}, session.Hooks{})
	t.Cleanup(registry.Close)

	restorer := restore.NewController(registry, hook, config.RestoreConfig{
		Retries:        0,
		RetryDelay:     5 * time.Millisecond,
		OverallTimeout: 250 * time.Millisecond,
	})

	mux := http.NewServeMux()
	NewSessionHandler(registry, restorer).Register(mux)
	srv := httptest.NewServer(SecurityHeaders(mux))
	t.Cleanup(srv.Close)
	return srv, registry
}

func postMessage(t *testing.T, srv *httptest.Server, sid string) *http.Response {
	t.Helper()
	url := srv.URL + "/message"
	if sid != "" {
		url += "?sessionId=" + sid
	}
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandleMessage_MissingSessionID(t *testing.T) {
	srv, _ := newTestServer(t, func(context.Context, string) (*instance.Context, error) {
		return nil, nil
	})

	resp := postMessage(t, srv, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleMessage_KnownSessionIsTouched(t *testing.T) {
	srv, registry := newTestServer(t, func(context.Context, string) (*instance.Context, error) {
		return nil, nil
	})
	require.True(t, registry.Create("abc-123", testContext()))
	before, _ := registry.Get("abc-123")

	time.Sleep(10 * time.Millisecond)
	resp := postMessage(t, srv, "abc-123")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body messageResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "accepted", body.Status)
	assert.False(t, body.WarmStart)

	after, _ := registry.Get("abc-123")
	assert.True(t, after.LastAccess.After(before.LastAccess))
}

func TestHandleMessage_WarmStart(t *testing.T) {
	ictx := testContext()
	srv, registry := newTestServer(t, func(context.Context, string) (*instance.Context, error) {
		return &ictx, nil
	})

	resp := postMessage(t, srv, "abc-123")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body messageResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.WarmStart)

	_, ok := registry.Get("abc-123")
	assert.True(t, ok)
}

func TestHandleMessage_OutcomeStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		hook       restore.Hook
		wantStatus int
	}{
		{
			name: "not found maps to 400",
			hook: func(context.Context, string) (*instance.Context, error) {
				return nil, nil
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "invalid context maps to 400",
			hook: func(context.Context, string) (*instance.Context, error) {
				return &instance.Context{BaseURL: "ftp://x", Credential: "placeholder"}, nil
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "timeout maps to 408",
			hook: func(context.Context, string) (*instance.Context, error) {
				return nil, fmt.Errorf("%w: redis deadline", restore.ErrHookTimeout)
			},
			wantStatus: http.StatusRequestTimeout,
		},
		{
			name: "transient failure maps to 500",
			hook: func(context.Context, string) (*instance.Context, error) {
				return nil, errors.New("connection refused")
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, registry := newTestServer(t, tt.hook)
			resp := postMessage(t, srv, "abc-123")
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, 0, registry.Len())
		})
	}
}

func TestSessionCRUD(t *testing.T) {
	srv, _ := newTestServer(t, func(context.Context, string) (*instance.Context, error) {
		return nil, nil
	})
	client := srv.Client()

	// PUT create with explicit handle
	body, err := json.Marshal(testContext())
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/sessions/abc-123", bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// GET single
	resp, err = client.Get(srv.URL + "/sessions/abc-123")
	require.NoError(t, err)
	var rec session.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "abc-123", rec.Handle)
	assert.Equal(t, "k1", rec.Context.Credential)

	// GET collection snapshot
	resp, err = client.Get(srv.URL + "/sessions")
	require.NoError(t, err)
	var records []session.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	resp.Body.Close()
	assert.Len(t, records, 1)

	// DELETE
	req, err = http.NewRequest(http.MethodDelete, srv.URL+"/sessions/abc-123", nil)
	require.NoError(t, err)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = client.Get(srv.URL + "/sessions/abc-123")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateSession_GeneratedHandle(t *testing.T) {
	srv, registry := newTestServer(t, func(context.Context, string) (*instance.Context, error) {
		return nil, nil
	})

	body, err := json.Marshal(createRequest{Context: testContext()})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/sessions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created createResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.True(t, session.ValidHandle(created.Handle))

	_, ok := registry.Get(created.Handle)
	assert.True(t, ok)
}

func TestCreateSession_RejectsInvalidInput(t *testing.T) {
	srv, registry := newTestServer(t, func(context.Context, string) (*instance.Context, error) {
		return nil, nil
	})

	invalid := testContext()
	invalid.Credential = ""
	body, err := json.Marshal(invalid)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/sessions/abc-123", bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, registry.Len())
}
