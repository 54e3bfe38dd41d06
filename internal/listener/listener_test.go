package listener

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"adsbus/internal/evloop"
	"adsbus/internal/packet"
	"adsbus/internal/transport"

	"golang.org/x/sys/unix"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestListenerAcceptsConnections(t *testing.T) {
	loop, err := evloop.New(discardLogger())
	if err != nil {
		t.Fatalf("evloop.New: %v", err)
	}
	loop.AddBidirectional()
	resolver, err := evloop.NewResolver(loop)
	if err != nil {
		t.Fatalf("evloop.NewResolver: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- loop.Run() }()
	defer func() {
		loop.Shutdown()
		<-done
	}()

	var mu sync.Mutex
	var got *transport.Conn
	var gotID packet.SourceID

	l := New(loop, resolver, discardLogger(), "127.0.0.1", "0", func(conn *transport.Conn, id packet.SourceID) {
		mu.Lock()
		got = conn
		gotID = id
		mu.Unlock()
	})

	deadline := time.Now().Add(2 * time.Second)
	for l.fd == -1 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the listener to bind")
		}
		time.Sleep(5 * time.Millisecond)
	}

	sa, err := unix.Getsockname(l.fd)
	if err != nil {
		t.Fatalf("getsockname: %v", err)
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		t.Fatalf("expected an IPv4 sockaddr, got %T", sa)
	}
	addr := fmt.Sprintf("127.0.0.1:%d", sa4.Port)

	client, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("net.Dial: %v", err)
	}
	defer client.Close()

	deadline = time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		ready := got != nil
		mu.Unlock()
		if ready {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for accept to fire")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	conn := got
	id := gotID
	mu.Unlock()
	defer conn.Close()

	if !id.Valid() {
		t.Errorf("expected a valid accepted-connection id, got %q", id)
	}

	if _, err := client.Write([]byte("hi")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	buf := make([]byte, 8)
	n, err := conn.Read(buf)
	if err != nil || n != 2 || string(buf[:n]) != "hi" {
		t.Fatalf("expected to read 'hi' via the accepted conn, got n=%d err=%v", n, err)
	}
}
