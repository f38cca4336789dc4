// Package ws carries replication directives to connected clients over
// websocket sessions. The entity core only states its channel needs; this
// package owns framing and the wire protocol.
package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lobbysim/server/internal/replication"
	"lobbysim/server/internal/telemetry"
)

const writeTimeout = 5 * time.Second

var errNoSession = errors.New("ws: no session for client")

type helloMessage struct {
	Ver      int            `json:"ver"`
	Type     string         `json:"type"`
	ClientID string         `json:"clientId"`
	Channel  channelMessage `json:"channel"`
}

// channelMessage states the delivery contract of the directive stream.
type channelMessage struct {
	Ordering    string `json:"ordering"`
	Reliability string `json:"reliability"`
	Direction   string `json:"direction"`
}

type directiveMessage struct {
	Ver       int                   `json:"ver"`
	Type      string                `json:"type"`
	Directive replication.Directive `json:"directive"`
}

type clientMessage struct {
	Ver     int    `json:"ver,omitempty"`
	Type    string `json:"type"`
	SentAt  int64  `json:"sentAt,omitempty"`
	Payload int    `json:"payload,omitempty"`
	Label   string `json:"label,omitempty"`
}

type heartbeatMessage struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
}

// Session is one live websocket connection. Writes are serialized; gorilla
// connections do not allow concurrent writers.
type Session struct {
	clientID string
	conn     *websocket.Conn
	mu       sync.Mutex
}

func (s *Session) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) writeJSON(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.write(data)
}

// Sessions tracks live connections and implements the replication transport:
// directives dispatched by the tick loop are framed and written to the
// session of the addressed client. Delivering to a client with no session
// fails; the dispatcher retries on its next pass.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
	logger   telemetry.Logger
	version  int
}

// NewSessions constructs an empty session table speaking the given protocol
// version.
func NewSessions(version int, logger telemetry.Logger) *Sessions {
	return &Sessions{
		sessions: make(map[string]*Session),
		logger:   logger,
		version:  version,
	}
}

// Attach registers a connection and sends the hello frame declaring the
// channel contract. An existing session for the client is closed first.
func (s *Sessions) Attach(clientID string, conn *websocket.Conn) (*Session, error) {
	session := &Session{clientID: clientID, conn: conn}

	s.mu.Lock()
	if previous, ok := s.sessions[clientID]; ok {
		previous.conn.Close()
	}
	s.sessions[clientID] = session
	s.mu.Unlock()

	hello := helloMessage{
		Ver:      s.version,
		Type:     "hello",
		ClientID: clientID,
		Channel: channelMessage{
			Ordering:    replication.ChannelOrdering,
			Reliability: replication.ChannelReliability,
			Direction:   replication.ChannelDirection,
		},
	}
	if err := session.writeJSON(hello); err != nil {
		s.Remove(clientID)
		return nil, err
	}
	return session, nil
}

// Remove drops the session for a client, closing its connection.
func (s *Sessions) Remove(clientID string) {
	s.mu.Lock()
	session, ok := s.sessions[clientID]
	if ok {
		delete(s.sessions, clientID)
	}
	s.mu.Unlock()
	if ok {
		session.conn.Close()
	}
}

// Deliver implements replication.Transport.
func (s *Sessions) Deliver(clientID string, directive replication.Directive) error {
	session, ok := s.get(clientID)
	if !ok {
		return errNoSession
	}
	frame := directiveMessage{Ver: s.version, Type: "replication", Directive: directive}
	if err := session.writeJSON(frame); err != nil {
		if s.logger != nil {
			s.logger.Printf("ws: delivery to %s failed: %v", clientID, err)
		}
		return err
	}
	return nil
}

func (s *Sessions) get(clientID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[clientID]
	return session, ok
}

// Len reports the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
