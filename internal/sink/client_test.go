package sink_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairdatahub/arc-harvester/internal/domain"
	"github.com/fairdatahub/arc-harvester/internal/sink"
)

func TestClientPush(t *testing.T) {
	var gotMethod, gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"commit_ref": "abc123"})
	}))
	defer srv.Close()

	client := sink.NewClient(srv.URL, sink.WithToken("secret"))

	ref, err := client.Push(context.Background(), "rec-1", domain.JSONBMap{"title": "x"})
	require.NoError(t, err)

	assert.Equal(t, "abc123", ref)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/records/rec-1", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "x", gotBody["title"])
}

func TestClientRemove(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]string{"commit_ref": "rm-1"})
	}))
	defer srv.Close()

	client := sink.NewClient(srv.URL)

	ref, err := client.Remove(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "rm-1", ref)
}

func TestClientServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := sink.NewClient(srv.URL)

	_, err := client.Push(context.Background(), "rec-1", domain.JSONBMap{})
	require.Error(t, err)
	assert.True(t, sink.IsTransient(err))
}

func TestClientTooManyRequestsIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := sink.NewClient(srv.URL)

	_, err := client.Push(context.Background(), "rec-1", domain.JSONBMap{})
	require.Error(t, err)
	assert.True(t, sink.IsTransient(err))
}

func TestClientRejectionIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad document", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := sink.NewClient(srv.URL)

	_, err := client.Push(context.Background(), "rec-1", domain.JSONBMap{})
	require.Error(t, err)
	assert.False(t, sink.IsTransient(err))
	assert.Contains(t, err.Error(), "bad document")
}

func TestClientNetworkErrorIsTransient(t *testing.T) {
	client := sink.NewClient("http://127.0.0.1:1")

	_, err := client.Push(context.Background(), "rec-1", domain.JSONBMap{})
	require.Error(t, err)
	assert.True(t, sink.IsTransient(err))
}

func TestClientEscapesRecordID(t *testing.T) {
	var gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_ = json.NewEncoder(w).Encode(map[string]string{"commit_ref": "x"})
	}))
	defer srv.Close()

	client := sink.NewClient(srv.URL)

	_, err := client.Remove(context.Background(), "rec/1")
	require.NoError(t, err)
	assert.Equal(t, "/records/rec%2F1", gotPath)
}
