package asr

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

type received struct {
	role string
	data []byte
}

func newBackend(t *testing.T) (*httptest.Server, <-chan received) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	got := make(chan received, 16)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		role := r.URL.Query().Get("role")
		if role == string(RoleViewer) {
			ws.WriteMessage(websocket.TextMessage, []byte(`{"buffer_transcription":"hi"}`))
		}
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			got <- received{role: role, data: data}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func testDialer(t *testing.T, srv *httptest.Server) *WebSocketDialer {
	t.Helper()
	d, err := NewWebSocketDialer(
		"ws"+strings.TrimPrefix(srv.URL, "http")+"/asr",
		5*time.Second,
		log.New(io.Discard),
	)
	if err != nil {
		t.Fatalf("NewWebSocketDialer: %v", err)
	}
	return d
}

func TestNewWebSocketDialerRejectsHTTP(t *testing.T) {
	if _, err := NewWebSocketDialer("http://localhost:8000/asr", time.Second, log.New(io.Discard)); err == nil {
		t.Error("NewWebSocketDialer(http://) succeeded, want error")
	}
}

func TestDialerURL(t *testing.T) {
	d, err := NewWebSocketDialer("ws://localhost:8000/asr", time.Second, log.New(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := d.URL(RoleSpeaker), "ws://localhost:8000/asr?role=speaker"; got != want {
		t.Errorf("URL(speaker) = %q, want %q", got, want)
	}
}

func TestSpeakerConnSendsAudioAndEndMarker(t *testing.T) {
	srv, got := newBackend(t)
	d := testDialer(t, srv)

	conn, err := d.Dial(context.Background(), RoleSpeaker)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Send([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := conn.Send(nil); err != nil {
		t.Fatalf("Send(end marker): %v", err)
	}

	for i, want := range []int{3, 0} {
		select {
		case r := <-got:
			if r.role != "speaker" {
				t.Errorf("role = %q, want speaker", r.role)
			}
			if len(r.data) != want {
				t.Errorf("message %d has %d bytes, want %d", i, len(r.data), want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestViewerConnReceivesAndCloses(t *testing.T) {
	srv, _ := newBackend(t)
	d := testDialer(t, srv)

	conn, err := d.Dial(context.Background(), RoleViewer)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	data, err := conn.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(data) != `{"buffer_transcription":"hi"}` {
		t.Errorf("Receive() = %s", data)
	}

	if err := conn.Close(); err != nil {
		t.Logf("Close: %v", err)
	}
	conn.Close()

	if _, err := conn.Receive(); !errors.Is(err, ErrClosed) {
		t.Errorf("Receive() after Close error = %v, want ErrClosed", err)
	}
	if err := conn.Send([]byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close error = %v, want ErrClosed", err)
	}
}
