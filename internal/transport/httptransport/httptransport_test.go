package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flarelog/goclient/internal/transport"
)

func TestTransport_PostAsJSON_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/report", r.URL.Path)
		assert.Equal(t, "Bearer T1", r.Header.Get("Authorization"))

		var env envelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		assert.Equal(t, []string{"password"}, env.ScrubFields)

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(apiResponse{Error: 0})
	}))
	defer server.Close()

	tr := New(server.URL, "T1", time.Second)
	resp, err := tr.PostAsJSON(context.Background(), []byte(`{"msg":"hi"}`), []string{"password"})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Error)
}

func TestTransport_PostAsJSON_TooManyRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	tr := New(server.URL, "T1", time.Second)
	resp, err := tr.PostAsJSON(context.Background(), []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Equal(t, 429, resp.Error)
}

func TestTransport_PostAsJSON_ServerError_IsOther(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	tr := New(server.URL, "T1", time.Second)
	_, err := tr.PostAsJSON(context.Background(), []byte(`{}`), nil)
	require.Error(t, err)
	assert.Equal(t, transport.Other, transport.Classify(err))
}

func TestTransport_PostAsJSON_ConnectionRefused_IsNetwork(t *testing.T) {
	tr := New("http://127.0.0.1:1", "T1", 100*time.Millisecond)
	_, err := tr.PostAsJSON(context.Background(), []byte(`{}`), nil)
	require.Error(t, err)
	assert.Equal(t, transport.Network, transport.Classify(err))
}

func TestTransport_PostAsJSON_APIErrorCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(apiResponse{Error: 500})
	}))
	defer server.Close()

	tr := New(server.URL, "T1", time.Second)
	resp, err := tr.PostAsJSON(context.Background(), []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Equal(t, 500, resp.Error)
}
