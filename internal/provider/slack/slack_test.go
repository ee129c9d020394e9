package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushrelay/dispatcher/internal/provider"
)

func TestSend_PostsTitleAndBody(t *testing.T) {
	var got slackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	p := New()
	r := p.Send(context.Background(), srv.URL, "deploy finished", "all green", nil)

	assert.True(t, r.Success)
	assert.Equal(t, "deploy finished\nall green", got.Text)
}

func TestSend_TitleOnly(t *testing.T) {
	var got slackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	p := New()
	r := p.Send(context.Background(), srv.URL, "ping", "", nil)

	assert.True(t, r.Success)
	assert.Equal(t, "ping", got.Text)
}

func TestSend_WebhookRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := New()
	r := p.Send(context.Background(), srv.URL, "t", "b", nil)

	assert.False(t, r.Success)
	assert.Equal(t, provider.CategoryInvalidToken, r.Category)
}
