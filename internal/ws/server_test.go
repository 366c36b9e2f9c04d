package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gobwas/ws"
)

func TestParseChatPath(t *testing.T) {
	cases := []struct {
		path    string
		roomID  int64
		wantErr bool
	}{
		{"/ws/chat/42", 42, false},
		{"/ws/chat/42/", 42, false},
		{"/ws/chat/", 0, true},
		{"/ws/chat/abc", 0, true},
		{"/ws/chat/0", 0, true},
		{"/ws/chat/-3", 0, true},
		{"/ws/chat/1/extra", 0, true},
	}

	for _, tc := range cases {
		roomID, err := parseChatPath(tc.path)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseChatPath(%q): expected error, got room %d", tc.path, roomID)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseChatPath(%q): unexpected error: %v", tc.path, err)
			continue
		}
		if roomID != tc.roomID {
			t.Errorf("parseChatPath(%q): expected room %d, got %d", tc.path, tc.roomID, roomID)
		}
	}
}

// newUpgradeServer wires a Server with a live epoll instance and exposes
// handleUpgrade over an httptest listener, without running the event loop.
func newUpgradeServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(DefaultServerConfig(), nil)
	epoll, err := NewEpoll()
	if err != nil {
		t.Fatalf("failed to create epoll: %v", err)
	}
	srv.epoll = epoll
	t.Cleanup(func() { _ = epoll.Close() })

	ts := httptest.NewServer(http.HandlerFunc(srv.handleUpgrade))
	t.Cleanup(ts.Close)
	return srv, ts
}

func dialChat(t *testing.T, ts *httptest.Server) {
	t.Helper()
	u := "ws://" + strings.TrimPrefix(ts.URL, "http://") + "/ws/chat/1?user_id=u1"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, _, err := gws.Dial(ctx, u)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
}

func TestConnectionEvictedDuringJoinStillNotifiesDisconnect(t *testing.T) {
	// A client can vanish while the join sequence is still running. The
	// eviction fires onDisconnect before the application has registered
	// anything, so the server must re-notify once the join returns or the
	// joined state leaks forever.
	srv, ts := newUpgradeServer(t)

	disconnects := make(chan string, 4)
	srv.SetOnDisconnect(func(connID string) {
		disconnects <- connID
	})
	srv.SetOnConnect(func(c *Connection) error {
		// The event loop evicting the connection mid-join.
		srv.RemoveConnection(c)
		return nil
	})

	dialChat(t, ts)

	// First notification: the eviction itself. Second: the re-notify after
	// onConnect returned with the connection already gone.
	for i := 0; i < 2; i++ {
		select {
		case <-disconnects:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected 2 disconnect notifications, got %d", i)
		}
	}

	if n := srv.Connections().Count(); n != 0 {
		t.Errorf("expected no registered connections, got %d", n)
	}
}

func TestRejectedJoinDropsConnection(t *testing.T) {
	srv, ts := newUpgradeServer(t)

	disconnects := make(chan string, 1)
	srv.SetOnDisconnect(func(connID string) {
		disconnects <- connID
	})
	srv.SetOnConnect(func(c *Connection) error {
		return errors.New("room does not exist")
	})

	dialChat(t, ts)

	deadline := time.Now().Add(2 * time.Second)
	for srv.Connections().Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("rejected connection still registered, count=%d", srv.Connections().Count())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// No application state was created, so no disconnect callback fires.
	select {
	case id := <-disconnects:
		t.Errorf("unexpected disconnect notification for %s", id)
	case <-time.After(100 * time.Millisecond):
	}
}
