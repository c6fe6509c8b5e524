package networking

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWSTransportFlushesBeforeClosing(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		transport := NewWSTransport(conn, 0)
		for _, msg := range []string{"one", "two", "three"} {
			if err := transport.Send([]byte(msg)); err != nil {
				t.Errorf("send %s: %v", msg, err)
			}
		}
		_ = transport.CloseWith(websocket.ClosePolicyViolation, "bye")
		_ = transport.CloseWith(websocket.CloseNormalClosure, "ignored")
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var got []string
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				t.Fatalf("expected a close frame, got %v", err)
			}
			if closeErr.Code != websocket.ClosePolicyViolation || closeErr.Text != "bye" {
				t.Fatalf("unexpected close frame %+v", closeErr)
			}
			break
		}
		got = append(got, string(raw))
	}
	if strings.Join(got, ",") != "one,two,three" {
		t.Fatalf("queued messages lost: %v", got)
	}
}

func TestWSTransportRejectsSendAfterClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	closed := make(chan error, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		transport := NewWSTransport(conn, 0)
		_ = transport.Close()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if err := transport.Send([]byte("late")); errors.Is(err, ErrTransportClosed) {
				closed <- err
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		closed <- nil
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case err := <-closed:
		if err == nil {
			t.Fatal("send after close was accepted")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("handler did not finish")
	}
}
