// Package ipc serves the daemon's local control surface: a localhost-only,
// newline-delimited JSON protocol over TCP, one request or one broadcast
// frame per line. Request/response commands are handled synchronously per
// connection; the subscribe/unsubscribe broadcast fan-out reuses the
// reference gRPC storage engine's client-channel-slice pattern, adapted
// from goroutine-per-gRPC-stream to goroutine-per-TCP-connection with a
// non-blocking send so one slow subscriber never stalls the others.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/chrissnell/weatherlink-core/internal/log"
	"github.com/chrissnell/weatherlink-core/internal/types"
)

// Request is one client-issued command frame.
type Request struct {
	Cmd  string          `json:"cmd"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Response answers a Request.
type Response struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Handler executes one command and returns its result data or an error.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Server accepts localhost TCP connections and dispatches JSON-line
// requests to registered handlers, plus a best-effort subscribe/unsubscribe
// broadcast channel fed by Broadcast.
type Server struct {
	listener net.Listener
	handlers map[string]Handler

	subMu       sync.RWMutex
	subscribers map[string]chan types.SensorUpdate
}

// New builds a Server; call Listen to start accepting connections.
func New() *Server {
	return &Server{
		handlers:    make(map[string]Handler),
		subscribers: make(map[string]chan types.SensorUpdate),
	}
}

// Handle registers fn for the named command.
func (s *Server) Handle(cmd string, fn Handler) {
	s.handlers[cmd] = fn
}

// Listen binds to a localhost address (e.g. "127.0.0.1:17890") and starts
// accepting connections until ctx is cancelled.
func (s *Server) Listen(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("ipc: listening on %s: %w", addr, err)
	}
	s.listener = l

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Errorw("ipc accept failed", "error", err)
				return fmt.Errorf("ipc: accepting connection: %w", err)
			}
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	enc := json.NewEncoder(conn)

	var subscriberID string
	defer func() {
		if subscriberID != "" {
			s.deregisterSubscriber(subscriberID)
		}
	}()

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			enc.Encode(Response{OK: false, Error: fmt.Sprintf("invalid request: %v", err)})
			continue
		}

		switch req.Cmd {
		case "subscribe":
			if subscriberID != "" {
				enc.Encode(Response{OK: false, Error: "already subscribed on this connection"})
				continue
			}
			subscriberID = uuid.NewString()
			ch := s.registerSubscriber(subscriberID)
			enc.Encode(Response{OK: true, Data: map[string]bool{"subscribed": true}})
			go s.pumpSubscription(conn, ch)
		case "unsubscribe":
			if subscriberID == "" {
				enc.Encode(Response{OK: false, Error: "not subscribed"})
				continue
			}
			s.deregisterSubscriber(subscriberID)
			subscriberID = ""
			enc.Encode(Response{OK: true})
		default:
			fn, ok := s.handlers[req.Cmd]
			if !ok {
				enc.Encode(Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)})
				continue
			}
			data, err := fn(ctx, req.Args)
			if err != nil {
				enc.Encode(Response{OK: false, Error: err.Error()})
				continue
			}
			enc.Encode(Response{OK: true, Data: data})
		}
	}
}

// pumpSubscription writes every broadcast arriving on ch to conn as a
// {"type":"sensor_update",...} frame, until ch is closed by deregistration.
func (s *Server) pumpSubscription(conn net.Conn, ch chan types.SensorUpdate) {
	enc := json.NewEncoder(conn)
	for update := range ch {
		if err := enc.Encode(update); err != nil {
			return
		}
	}
}

func (s *Server) registerSubscriber(id string) chan types.SensorUpdate {
	ch := make(chan types.SensorUpdate, 16)
	s.subMu.Lock()
	s.subscribers[id] = ch
	s.subMu.Unlock()
	return ch
}

func (s *Server) deregisterSubscriber(id string) {
	s.subMu.Lock()
	ch, ok := s.subscribers[id]
	delete(s.subscribers, id)
	s.subMu.Unlock()
	if ok {
		close(ch)
	}
}

// Broadcast delivers update to every live subscriber, dropping it for any
// subscriber whose channel is currently full rather than blocking.
func (s *Server) Broadcast(update types.SensorUpdate) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for id, ch := range s.subscribers {
		select {
		case ch <- update:
		default:
			log.Debugw("ipc subscriber channel full, dropping update", "subscriber_id", id)
		}
	}
}

// SubscriberCount returns the number of currently registered subscribers.
func (s *Server) SubscriberCount() int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subscribers)
}

// Close closes the listener and every subscriber channel.
func (s *Server) Close() error {
	s.subMu.Lock()
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	s.subMu.Unlock()

	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
