package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/chrissnell/weatherlink-core/internal/types"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	s := New()
	s.Handle("ping", func(ctx context.Context, args json.RawMessage) (any, error) {
		return "pong", nil
	})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	s.listener = l

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go s.serveConn(ctx, conn)
		}
	}()

	return s, l.Addr().String()
}

func TestPingRequestResponse(t *testing.T) {
	_, addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	enc := json.NewEncoder(conn)
	if err := enc.Encode(Request{Cmd: "ping"}); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatal("expected a response line")
	}
	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !resp.OK || resp.Data != "pong" {
		t.Errorf("response = %+v, want ok=true data=pong", resp)
	}
}

func TestUnknownCommandReturnsError(t *testing.T) {
	_, addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	json.NewEncoder(conn).Encode(Request{Cmd: "does_not_exist"})

	scanner := bufio.NewScanner(conn)
	scanner.Scan()
	var resp Response
	json.Unmarshal(scanner.Bytes(), &resp)
	if resp.OK {
		t.Error("expected ok=false for unknown command")
	}
}

func TestSubscribeReceivesBroadcast(t *testing.T) {
	s, addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	json.NewEncoder(conn).Encode(Request{Cmd: "subscribe"})

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatal("expected subscribe ack")
	}
	var ack Response
	json.Unmarshal(scanner.Bytes(), &ack)
	if !ack.OK {
		t.Fatalf("subscribe ack = %+v, want ok=true", ack)
	}
	data, ok := ack.Data.(map[string]any)
	if !ok || data["subscribed"] != true {
		t.Errorf("subscribe ack data = %+v, want {subscribed: true}", ack.Data)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", s.SubscriberCount())
	}

	s.Broadcast(types.SensorUpdate{Type: "sensor_update"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if !scanner.Scan() {
		t.Fatal("expected a broadcast frame")
	}
	var update types.SensorUpdate
	if err := json.Unmarshal(scanner.Bytes(), &update); err != nil {
		t.Fatalf("Unmarshal broadcast: %v", err)
	}
	if update.Type != "sensor_update" {
		t.Errorf("broadcast type = %q, want sensor_update", update.Type)
	}
}

func TestBroadcastDropsOnFullChannel(t *testing.T) {
	s := New()
	ch := s.registerSubscriber("full-test")
	for i := 0; i < cap(ch); i++ {
		ch <- types.SensorUpdate{Type: "sensor_update"}
	}
	// channel is now full; Broadcast must not block
	done := make(chan struct{})
	go func() {
		s.Broadcast(types.SensorUpdate{Type: "sensor_update"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full subscriber channel")
	}
}
