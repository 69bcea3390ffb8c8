package ltoudp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tashrouter/tashrouter/pkg/link"
)

func TestTransmitLoopsBackButIsFilteredBySenderID(t *testing.T) {
	d := New(Config{})
	var mu sync.Mutex
	var got []byte
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx, func(frame []byte, _ link.Addr) {
		mu.Lock()
		got = append([]byte(nil), frame...)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	frame := []byte{0xFF, 0x05, 0x01, 0x00, 0x09, 4, 4, 1}
	if err := d.Transmit(frame, d.Broadcast()); err != nil {
		t.Fatalf("Transmit: %v", err)
	}

	// Multicast loopback delivers our own frame back to us; the sender-ID
	// prefix must cause the read loop to discard it rather than hand it to
	// the handler, so got should remain empty.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if got != nil {
		t.Fatalf("handler received %v, want nothing (self-transmission should be filtered)", got)
	}
}

func TestTwoDriversExchangeFrames(t *testing.T) {
	recv := make(chan []byte, 1)
	a := New(Config{})
	b := New(Config{})
	// Sender IDs are per process; give b another process's ID so the two
	// Drivers do not discard each other's frames as their own.
	b.senderID[3] ^= 0xFF

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx, func([]byte, link.Addr) {}); err != nil {
		t.Fatalf("a.Start: %v", err)
	}
	defer a.Stop()
	if err := b.Start(ctx, func(frame []byte, _ link.Addr) { recv <- frame }); err != nil {
		t.Fatalf("b.Start: %v", err)
	}
	defer b.Stop()

	frame := []byte{0xFF, 0x07, 0x01, 0x00, 0x09, 4, 4, 1}
	if err := a.Transmit(frame, a.Broadcast()); err != nil {
		t.Fatalf("Transmit: %v", err)
	}

	select {
	case got := <-recv:
		if len(got) != len(frame) || got[1] != 0x07 {
			t.Fatalf("received %v, want %v", got, frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("b never received a's frame")
	}
}
