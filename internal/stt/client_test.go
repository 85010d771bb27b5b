package stt_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lexhound/lexhound/internal/bus"
	"github.com/lexhound/lexhound/internal/gateway"
	"github.com/lexhound/lexhound/internal/stt"
)

func TestClientSendsThroughGateway(t *testing.T) {
	t.Parallel()

	incoming := bus.NewQueue("incoming", 10)
	gw := gateway.New(incoming, bus.NewQueue("websocket_out", 10))
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	client, err := stt.NewClient("ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/stt_1")
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for !client.Connected() {
		select {
		case <-deadline:
			t.Fatal("client never connected")
		case <-time.After(10 * time.Millisecond):
		}
	}

	env := bus.New(bus.TypeTranscription, map[string]any{"text": "hello from the loop"})
	if err := client.Send(ctx, env); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	recvCtx, recvCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer recvCancel()
	got, err := incoming.Dequeue(recvCtx)
	if err != nil {
		t.Fatalf("nothing reached the gateway: %v", err)
	}
	if got.ID != env.ID {
		t.Errorf("received id = %q, want %q", got.ID, env.ID)
	}
	if got.ClientID != "stt_1" {
		t.Errorf("client_id = %q, want stt_1", got.ClientID)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("client did not stop")
	}
}

func TestClientBuffersUntilConnected(t *testing.T) {
	t.Parallel()

	// Reserve a listener so the URL is known before the server starts.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	incoming := bus.NewQueue("incoming", 10)
	gw := gateway.New(incoming, bus.NewQueue("websocket_out", 10))

	client, err := stt.NewClient("ws://" + ln.Addr().String() + "/ws/stt_1")
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	// Nothing is listening yet: the send must fail but be buffered, and a
	// heartbeat must be dropped rather than buffered.
	env := bus.New(bus.TypeTranscription, map[string]any{"text": "buffered while offline"})
	if err := client.Send(ctx, env); err == nil {
		t.Fatal("Send() while disconnected should report an error")
	}
	hb := bus.New(bus.TypeHeartbeat, nil)
	client.Send(ctx, hb)

	srv := &http.Server{Handler: gw.Handler()}
	go srv.Serve(ln)
	defer srv.Close()

	recvCtx, recvCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer recvCancel()
	got, err := incoming.Dequeue(recvCtx)
	if err != nil {
		t.Fatalf("buffered envelope never arrived: %v", err)
	}
	if got.ID != env.ID {
		t.Errorf("received id = %q, want buffered transcription %q", got.ID, env.ID)
	}

	// Only the transcription was flushed; the heartbeat stayed dropped.
	time.Sleep(200 * time.Millisecond)
	if incoming.Len() != 0 {
		t.Errorf("incoming length = %d, want 0 (heartbeat must not be replayed)", incoming.Len())
	}
}
