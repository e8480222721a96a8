package ws

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestSocketURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		base string
		want string
	}{
		{"https", "https://trade.example.com", "wss://trade.example.com/socket.io/?EIO=4&transport=websocket"},
		{"http", "http://127.0.0.1:8080", "ws://127.0.0.1:8080/socket.io/?EIO=4&transport=websocket"},
		{"trailing path dropped", "https://trade.example.com/api", "wss://trade.example.com/socket.io/?EIO=4&transport=websocket"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := socketURL(tc.base)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestHandleMessageDispatchesOrderEvents(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		frame string
		want  string
	}{
		{"new order", `2["new-order",{"id":7}]`, EventNewOrder},
		{"delete order", `2["delete-order"]`, EventDeleteOrder},
		{"update orders", `2["update-orders",{}]`, EventUpdateOrders},
		{"unknown event ignored", `2["user-typing"]`, ""},
		{"non-event packet ignored", `0{"sid":"x"}`, ""},
		{"garbage ignored", `2not-json`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Socket{logger: discardLogger()}
			var got string
			s.handleMessage(tc.frame, Handlers{OnOrderEvent: func(event string) { got = event }})
			require.Equal(t, tc.want, got)
		})
	}
}

// fakeServer speaks just enough engine.io to hand out a session and replay
// scripted frames. Closing hangup makes the handler drop the connection;
// httptest's own Close does not touch hijacked websocket conns.
func fakeServer(t *testing.T, frames []string, hangup <-chan struct{}) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteMessage(websocket.TextMessage,
			[]byte(`0{"sid":"transport-sid","pingInterval":25000}`)))

		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, "40", string(msg))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage,
			[]byte(`40{"sid":"session-1"}`)))

		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}

		// Drain client writes (pongs, emits) until the client or the test
		// hangs up.
		reads := make(chan struct{})
		go func() {
			defer close(reads)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		if hangup != nil {
			select {
			case <-hangup:
				conn.Close()
			case <-reads:
			}
			return
		}
		<-reads
	}))
}

func TestDialHandshakeAssignsSessionID(t *testing.T) {
	t.Parallel()

	srv := fakeServer(t, nil, nil)
	defer srv.Close()

	sock, err := Dial(context.Background(), srv.URL)
	require.NoError(t, err)
	defer sock.Close()

	require.Equal(t, "session-1", sock.ID())
}

func TestReadPumpDeliversEventsAndDisconnect(t *testing.T) {
	t.Parallel()

	hangup := make(chan struct{})
	srv := fakeServer(t, []string{
		"2", // ping, answered with a pong
		`42["new-order",{"id":3}]`,
		`42["update-orders"]`,
	}, hangup)
	defer srv.Close()

	sock, err := Dial(context.Background(), srv.URL)
	require.NoError(t, err)

	events := make(chan string, 4)
	disconnected := make(chan error, 1)
	sock.Start(Handlers{
		OnOrderEvent: func(event string) { events <- event },
		OnDisconnect: func(err error) { disconnected <- err },
	})
	require.NoError(t, sock.JoinTrading(3))

	require.Equal(t, EventNewOrder, waitFor(t, events))
	require.Equal(t, EventUpdateOrders, waitFor(t, events))

	// Server-side teardown must surface as a disconnect, not a silent exit.
	close(hangup)
	select {
	case err := <-disconnected:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback never fired")
	}
}

func TestCloseSuppressesDisconnectCallback(t *testing.T) {
	t.Parallel()

	srv := fakeServer(t, nil, nil)
	defer srv.Close()

	sock, err := Dial(context.Background(), srv.URL)
	require.NoError(t, err)

	disconnected := make(chan error, 1)
	sock.Start(Handlers{OnDisconnect: func(err error) { disconnected <- err }})

	require.NoError(t, sock.Close())
	require.NoError(t, sock.Close(), "second close is a no-op")

	select {
	case err := <-disconnected:
		t.Fatalf("disconnect fired after deliberate close: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}

func waitFor(t *testing.T, events chan string) string {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return ""
	}
}
