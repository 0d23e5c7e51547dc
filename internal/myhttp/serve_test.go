package myhttp

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestServe(t *testing.T) {
	config := ServeConfig{
		KeepAlive:              true,
		MaxConnections:         4,
		TerminationGracePeriod: time.Second,
	}

	t.Run("ShutsDownWhenDone", func(t *testing.T) {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("Failed to listen: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- Serve(ctx, listener, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("OK"))
			}), config)
		}()

		response, err := http.Get("http://" + listener.Addr().String() + "/healthz")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		body, _ := io.ReadAll(response.Body)
		response.Body.Close()
		if string(body) != "OK" {
			t.Errorf("Expected OK, got %q", body)
		}

		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Serve did not return after cancellation")
		}

		if _, err := http.Get("http://" + listener.Addr().String() + "/healthz"); err == nil {
			t.Error("Expected the listener to be closed")
		}
	})

	t.Run("ListenerFailure", func(t *testing.T) {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("Failed to listen: %v", err)
		}
		listener.Close()

		if err := Serve(context.Background(), listener, http.NotFoundHandler(), config); err == nil {
			t.Error("Expected error from a closed listener")
		}
	})
}
