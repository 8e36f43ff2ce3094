package main

import (
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"go-image-filter/internal/logger"
)

func TestServerGracefulShutdown(t *testing.T) {
	logger.SetOutput(io.Discard)

	requestStarted := make(chan struct{})
	releaseRequest := make(chan struct{})
	var released bool
	defer func() {
		if !released {
			close(releaseRequest)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		close(requestStarted)
		<-releaseRequest
		w.WriteHeader(http.StatusCreated)
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: mux}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, listener, signalCh)
	}()

	addr := listener.Addr().String()
	client := &http.Client{Timeout: 2 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := client.Post("http://"+addr+"/sessions", "application/json", nil)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-requestStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("request did not start in time")
	}

	signalCh <- syscall.SIGTERM
	time.Sleep(50 * time.Millisecond)
	close(releaseRequest)
	released = true

	select {
	case resp := <-respCh:
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("unexpected status: %d", resp.StatusCode)
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func TestServerReturnsServeError(t *testing.T) {
	logger.SetOutput(io.Discard)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	listener.Close()

	err = serveHTTPServerWithOptions(&http.Server{}, time.Second, listener, make(chan os.Signal))
	if err == nil {
		t.Fatal("expected error from closed listener")
	}
}
