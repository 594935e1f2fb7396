package transport

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestSendReceive(t *testing.T) {
	a, err := Listen(0, 0)
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer a.Close()
	b, err := Listen(0, 0)
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer b.Close()

	dest := fmt.Sprintf("127.0.0.1:%d", b.LocalAddr().Port)
	if err := a.Send(dest, []byte("ping")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	got := make(chan Datagram, 1)
	go func() {
		dg, err := b.Receive()
		if err == nil {
			got <- dg
		}
	}()

	select {
	case dg := <-got:
		if string(dg.Data) != "ping" {
			t.Errorf("Expected payload %q, got %q", "ping", dg.Data)
		}
		if dg.Addr.Port != a.LocalAddr().Port {
			t.Errorf("Expected source port %d, got %d", a.LocalAddr().Port, dg.Addr.Port)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for datagram")
	}
}

func TestSendUsesDefaultPort(t *testing.T) {
	b, err := Listen(0, 0)
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer b.Close()
	a, err := Listen(0, b.LocalAddr().Port)
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer a.Close()

	if err := a.Send("127.0.0.1", []byte("no port")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	dg, err := b.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(dg.Data) != "no port" {
		t.Errorf("Expected payload %q, got %q", "no port", dg.Data)
	}
}

func TestSendUnresolvable(t *testing.T) {
	a, err := Listen(0, 0)
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer a.Close()

	err = a.Send("no-such-host.invalid:9000", []byte("x"))
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("Expected *Error, got %T: %v", err, err)
	}
	if terr.Op != "resolve" {
		t.Errorf("Expected op resolve, got %q", terr.Op)
	}
	if err := a.Send("", []byte("x")); err == nil {
		t.Error("Expected error for empty destination")
	}
}

func TestCloseUnblocksReceive(t *testing.T) {
	c, err := Listen(0, 0)
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Receive()
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	c.Close()

	select {
	case err := <-done:
		if !IsClosed(err) {
			t.Errorf("Expected closed error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive still blocked after Close")
	}
}

func TestConcurrentSendAndReceive(t *testing.T) {
	a, err := Listen(0, 0)
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer a.Close()
	b, err := Listen(0, 0)
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer b.Close()

	const n = 20
	received := make(chan struct{}, n)
	go func() {
		for {
			if _, err := a.Receive(); err != nil {
				return
			}
			received <- struct{}{}
		}
	}()

	var wg sync.WaitGroup
	toA := fmt.Sprintf("127.0.0.1:%d", a.LocalAddr().Port)
	toB := fmt.Sprintf("127.0.0.1:%d", b.LocalAddr().Port)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = b.Send(toA, []byte("in"))
		}()
		go func() {
			defer wg.Done()
			if err := a.Send(toB, []byte("out")); err != nil {
				t.Errorf("Send while receiving failed: %v", err)
			}
		}()
	}
	wg.Wait()

	deadline := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-received:
		case <-deadline:
			t.Fatalf("Only %d of %d datagrams arrived", i, n)
		}
	}
}
