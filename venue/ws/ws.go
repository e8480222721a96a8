// Package ws subscribes to the venue's order-change notifications. The
// server speaks socket.io over a websocket transport; this client implements
// just enough of the engine.io framing to join a pair room and receive the
// order events that trigger settlement cycles.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Engine.io packet types, prefixed to every frame.
const (
	packetOpen    = '0'
	packetClose   = '1'
	packetPing    = '2'
	packetPong    = '3'
	packetMessage = '4'
)

// Socket.io packet types, following a message frame's engine.io prefix.
const (
	sioConnect = '0'
	sioEvent   = '2'
)

const (
	dialTimeout  = 15 * time.Second
	writeTimeout = 10 * time.Second
)

// Events the trade server publishes to a pair room.
const (
	EventNewOrder     = "new-order"
	EventDeleteOrder  = "delete-order"
	EventUpdateOrders = "update-orders"
)

// Handlers receives the socket's callbacks. OnOrderEvent fires for every
// order notification in the joined room; OnDisconnect fires exactly once
// when the connection drops for any reason other than Close.
type Handlers struct {
	OnOrderEvent func(event string)
	OnDisconnect func(err error)
}

// Socket is one live notification subscription. It is bound to a single
// pair room and torn down on restart rather than resubscribed.
type Socket struct {
	conn   *websocket.Conn
	id     string
	logger *slog.Logger

	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once
}

// Dial connects to the venue's socket.io endpoint and completes the
// engine.io and socket.io handshakes. baseURL is the venue REST origin.
// The socket does not deliver events until Start is called, so the caller
// can register it under its session id first.
func Dial(ctx context.Context, baseURL string) (*Socket, error) {
	endpoint, err := socketURL(baseURL)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial notification socket: %w", err)
	}

	s := &Socket{
		conn:   conn,
		logger: slog.Default().WithGroup("ws"),
		closed: make(chan struct{}),
	}
	if err := s.handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Start launches the read pump delivering events to handlers.
func (s *Socket) Start(handlers Handlers) {
	go s.readPump(handlers)
}

func socketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse venue url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/socket.io/"
	u.RawQuery = "EIO=4&transport=websocket"
	return u.String(), nil
}

// handshake reads the engine.io open packet, sends the socket.io connect
// and reads its ack, which carries our session id.
func (s *Socket) handshake() error {
	frame, err := s.readFrame()
	if err != nil {
		return fmt.Errorf("read open packet: %w", err)
	}
	if len(frame) == 0 || frame[0] != packetOpen {
		return fmt.Errorf("unexpected handshake packet %q", frame)
	}

	if err := s.writeFrame("40"); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	frame, err = s.readFrame()
	if err != nil {
		return fmt.Errorf("read connect ack: %w", err)
	}
	if len(frame) < 2 || frame[0] != packetMessage || frame[1] != sioConnect {
		return fmt.Errorf("unexpected connect ack %q", frame)
	}

	var ack struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal([]byte(frame[2:]), &ack); err != nil {
		return fmt.Errorf("decode connect ack: %w", err)
	}
	s.id = ack.SID
	return nil
}

// ID is the server-assigned session id, used to tell socket instances apart
// when a restart races a late disconnect.
func (s *Socket) ID() string {
	return s.id
}

// JoinTrading subscribes the socket to pairID's order notifications.
func (s *Socket) JoinTrading(pairID int64) error {
	return s.emit("in-trading", struct {
		ID int64 `json:"id"`
	}{ID: pairID})
}

func (s *Socket) emit(event string, payload any) error {
	body, err := json.Marshal([]any{event, payload})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	return s.writeFrame("42" + string(body))
}

func (s *Socket) readFrame() (string, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Socket) writeFrame(frame string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// readPump handles pings and dispatches order events until the connection
// drops. Handler callbacks run on this goroutine.
func (s *Socket) readPump(handlers Handlers) {
	for {
		frame, err := s.readFrame()
		if err != nil {
			select {
			case <-s.closed:
			default:
				s.logger.Warn("notification socket dropped", "socketId", s.id, "error", err)
				if handlers.OnDisconnect != nil {
					handlers.OnDisconnect(err)
				}
			}
			return
		}
		if len(frame) == 0 {
			continue
		}

		switch frame[0] {
		case packetPing:
			if err := s.writeFrame(string(packetPong)); err != nil {
				s.logger.Warn("pong failed", "socketId", s.id, "error", err)
			}
		case packetClose:
			s.conn.Close()
		case packetMessage:
			s.handleMessage(frame[1:], handlers)
		}
	}
}

func (s *Socket) handleMessage(frame string, handlers Handlers) {
	if len(frame) == 0 || frame[0] != sioEvent {
		return
	}

	var event []json.RawMessage
	if err := json.Unmarshal([]byte(frame[1:]), &event); err != nil || len(event) == 0 {
		s.logger.Debug("unparseable event frame", "frame", frame)
		return
	}

	var name string
	if err := json.Unmarshal(event[0], &name); err != nil {
		return
	}
	switch name {
	case EventNewOrder, EventDeleteOrder, EventUpdateOrders:
		if handlers.OnOrderEvent != nil {
			handlers.OnOrderEvent(name)
		}
	default:
		s.logger.Debug("ignoring event", "event", name)
	}
}

// Close tears the socket down without firing OnDisconnect.
func (s *Socket) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		s.writeMu.Lock()
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}
