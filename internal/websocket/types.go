// Package websocket manages client device sessions: the registry of open
// connections, fan-out of events to them and the coder/websocket transport
// that backs each one.
package websocket

import (
	"errors"
	"time"
)

var (
	// ErrTransportClosed is returned by Send on a closed transport.
	ErrTransportClosed = errors.New("transport closed")
	// ErrSendBufferFull is returned when a slow client falls too far behind.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Transport is the outbound half of one client connection. Send must not
// block; frames are written in the order they were accepted.
type Transport interface {
	Send(frame []byte) error
	IsOpen() bool
	Close(reason string) error
}

// ClientSession is one connected device. A session only receives
// broadcasts once the registry has activated it.
type ClientSession struct {
	ID          string
	Transport   Transport
	RemoteAddr  string
	ConnectedAt time.Time

	active bool
}

// SessionHandler observes the lifecycle of every session.
type SessionHandler interface {
	// OnConnect runs before the first inbound frame is read and before any
	// broadcast reaches the session, so its frames are delivered first.
	OnConnect(session *ClientSession)
	// OnMessage receives each inbound text or binary frame.
	OnMessage(session *ClientSession, frame []byte)
	// OnDisconnect runs once after the session has been unregistered.
	OnDisconnect(session *ClientSession)
}

// ClientInfo describes a session for monitoring endpoints.
type ClientInfo struct {
	ClientID    string `json:"clientId"`
	RemoteAddr  string `json:"ip"`
	ConnectedAt int64  `json:"connectedAt"`
}
