package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/codetutor/internal/scheduler"
)

func TestPublishAndPin(t *testing.T) {
	var calls []string
	var sent map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		switch r.URL.Path {
		case "/bot123:abc/sendMessage":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":42}}`))
		case "/bot123:abc/pinChatMessage":
			_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "123:abc", "-100500", srv.Client())

	ref, err := c.Publish(context.Background(), scheduler.Post{Text: "<b>Урок 1</b>"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), ref.MessageID)
	assert.Equal(t, "-100500", ref.ChatID)
	assert.Equal(t, "HTML", sent["parse_mode"])
	assert.Equal(t, "<b>Урок 1</b>", sent["text"])

	require.NoError(t, c.Pin(context.Background(), ref))
	assert.EqualValues(t, 42, sent["message_id"])
	assert.Equal(t, []string{"/bot123:abc/sendMessage", "/bot123:abc/pinChatMessage"}, calls)
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: not enough rights to pin a message"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "t", "-1", srv.Client())
	err := c.Pin(context.Background(), scheduler.MessageRef{ChatID: "-1", MessageID: 1})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Code)
	assert.Equal(t, "pinChatMessage", apiErr.Method)
}

func TestTransportErrorRedactsToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, "secret-token", "-1", nil)
	_, err := c.Publish(context.Background(), scheduler.Post{Text: "x"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")
}
