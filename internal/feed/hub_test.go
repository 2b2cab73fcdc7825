package feed

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/scheduler"
)

func post(index int) scheduler.Post {
	return scheduler.Post{
		Lesson:      domain.Lesson{Index: index, Track: domain.TrackHTMLCSS, Title: "t"},
		PublishedAt: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
}

func dial(t *testing.T, ctx context.Context, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) Event {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(2, nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, srv)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Mirror(ctx, post(7)))

	ev := readEvent(t, ctx, conn)
	assert.Equal(t, "lesson", ev.Type)
	assert.Equal(t, 7, ev.Lesson.Index)
	assert.Equal(t, domain.TrackHTMLCSS, ev.Lesson.Track)
}

func TestHubReplaysRecent(t *testing.T) {
	hub := NewHub(2, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		require.NoError(t, hub.Mirror(ctx, post(i)))
	}

	srv := httptest.NewServer(hub)
	defer srv.Close()
	conn := dial(t, ctx, srv)

	assert.Equal(t, 1, readEvent(t, ctx, conn).Lesson.Index)
	assert.Equal(t, 2, readEvent(t, ctx, conn).Lesson.Index)
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub := NewHub(1, nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, srv)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	assert.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}
