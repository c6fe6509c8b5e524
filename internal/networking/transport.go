package networking

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
)

// ErrSendBufferFull is returned when a peer cannot keep up with outbound traffic.
var ErrSendBufferFull = errors.New("send buffer full")

// ErrTransportClosed is returned by Send after Close.
var ErrTransportClosed = errors.New("transport closed")

// Transport is the outbound half of a socket. Send never blocks.
type Transport interface {
	Send(payload []byte) error
	Close() error
	CloseWith(code int, reason string) error
}

type closeFrame struct {
	code   int
	reason string
}

// WSTransport owns the write side of a gorilla connection through a single writer goroutine.
type WSTransport struct {
	conn         *websocket.Conn
	send         chan []byte
	closing      chan closeFrame
	done         chan struct{}
	closeOnce    sync.Once
	pingInterval time.Duration
}

// NewWSTransport starts the writer goroutine for conn. A zero pingInterval disables pings.
func NewWSTransport(conn *websocket.Conn, pingInterval time.Duration) *WSTransport {
	t := &WSTransport{
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		closing:      make(chan closeFrame, 1),
		done:         make(chan struct{}),
		pingInterval: pingInterval,
	}
	go t.writeLoop()
	return t
}

// Send queues payload for delivery.
func (t *WSTransport) Send(payload []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	select {
	case t.send <- payload:
		return nil
	case <-t.done:
		return ErrTransportClosed
	default:
		return ErrSendBufferFull
	}
}

// Close shuts the connection with a normal closure.
func (t *WSTransport) Close() error {
	return t.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith flushes queued messages, sends a close frame with code and reason and closes.
func (t *WSTransport) CloseWith(code int, reason string) error {
	t.closeOnce.Do(func() {
		t.closing <- closeFrame{code: code, reason: reason}
	})
	return nil
}

func (t *WSTransport) writeLoop() {
	var ping <-chan time.Time
	if t.pingInterval > 0 {
		ticker := time.NewTicker(t.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer func() {
		close(t.done)
		t.conn.Close()
	}()
	for {
		select {
		case msg := <-t.send:
			if err := t.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case frame := <-t.closing:
			//1.- Drain what is already queued so the peer sees the final messages.
			for drained := false; !drained; {
				select {
				case msg := <-t.send:
					if err := t.write(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					drained = true
				}
			}
			_ = t.write(websocket.CloseMessage, websocket.FormatCloseMessage(frame.code, frame.reason))
			return
		case <-ping:
			if err := t.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (t *WSTransport) write(messageType int, data []byte) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteMessage(messageType, data)
}
