package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"pairchat/internal/logging"
	"pairchat/internal/presence"
	"pairchat/internal/websocket"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

type fakeServer struct {
	listenErr error
	started   chan struct{}
	stop      chan struct{}
	shutdowns atomic.Int32
}

func newFakeServer() *fakeServer {
	return &fakeServer{started: make(chan struct{}, 1), stop: make(chan struct{})}
}

func (f *fakeServer) ListenAndServe() error {
	select {
	case f.started <- struct{}{}:
	default:
	}
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(context.Context) error {
	if f.shutdowns.Add(1) == 1 {
		close(f.stop)
	}
	return nil
}

func TestNewTreeAppliesDefaults(t *testing.T) {
	tree := NewTree(slog.New(logging.NewSlogHandler()), TreeConfig{})
	if tree.config != DefaultTreeConfig() {
		t.Errorf("config = %+v, want %+v", tree.config, DefaultTreeConfig())
	}
}

func TestHTTPService_ShutsDownOnCancel(t *testing.T) {
	server := newFakeServer()
	svc := NewHTTPService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	<-server.started
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if server.shutdowns.Load() != 1 {
		t.Errorf("Shutdown called %d times", server.shutdowns.Load())
	}
}

func TestHTTPService_ListenFailure(t *testing.T) {
	server := newFakeServer()
	server.listenErr = errors.New("address in use")

	err := NewHTTPService(server, time.Second).Serve(context.Background())
	if err == nil || !errors.Is(err, server.listenErr) {
		t.Errorf("Serve() = %v, want wrapped listen error", err)
	}
}

func TestTreeRunsHubAndServer(t *testing.T) {
	tree := NewTree(slog.New(logging.NewSlogHandler()), TreeConfig{ShutdownTimeout: time.Second})

	hub := websocket.NewHub(presence.NewRegistry[*websocket.Client]())
	server := newFakeServer()
	tree.AddRealtimeService(hub)
	tree.AddAPIService(NewHTTPService(server, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	select {
	case <-server.started:
	case <-time.After(time.Second):
		t.Fatal("http service not started")
	}

	// Register blocks until the hub loop is running.
	if !hub.Register(websocket.NewClient(hub, nil, "")) {
		t.Fatal("hub refused registration")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("tree stopped with %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop")
	}

	if server.shutdowns.Load() == 0 {
		t.Error("http server not shut down")
	}
	if hub.Register(websocket.NewClient(hub, nil, "")) {
		t.Error("hub still accepting clients after tree stopped")
	}
	if len(hub.OnlineUserIDs()) != 0 {
		t.Error("presence not cleared on shutdown")
	}
}
