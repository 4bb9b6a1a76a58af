package events

import (
	"context"
	"sync"
	"testing"
	"time"

	xerrors "NLP-Chain/internal/errors"
)

func TestMemoryBusDeliversEvents(t *testing.T) {
	bus := NewMemoryBus(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen []uint64
		done = make(chan struct{})
	)
	go func() {
		_ = bus.Consume(ctx, 2, func(_ context.Context, evt Event) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, evt.Index)
			if len(seen) == 3 {
				close(done)
			}
			return nil
		})
	}()

	for i := uint64(0); i < 3; i++ {
		evt := New(TypeBlockAppended)
		evt.Index = i
		if err := bus.Publish(ctx, evt); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("events were not consumed in time")
	}
}

func TestMemoryBusRejectsPublishAfterClose(t *testing.T) {
	bus := NewMemoryBus(1)
	if err := bus.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := bus.Publish(context.Background(), New(TypeProofSubmitted)); err == nil {
		t.Fatalf("expected publish on closed bus to fail")
	}
	// 关闭后消费者立即退出
	if err := bus.Consume(context.Background(), 1, func(context.Context, Event) error { return nil }); err != nil {
		t.Fatalf("consume on closed bus should return nil, got %v", err)
	}
}

func TestMemoryBusFullBufferDoesNotBlockClose(t *testing.T) {
	bus := NewMemoryBus(1)
	if err := bus.Publish(context.Background(), New(TypeBlockAppended)); err != nil {
		t.Fatalf("first publish failed: %v", err)
	}

	published := make(chan error, 1)
	go func() { published <- bus.Publish(context.Background(), New(TypeBlockAppended)) }()
	select {
	case err := <-published:
		if !xerrors.HasCode(err, xerrors.CodeQueueFailure) {
			t.Fatalf("expected queue failure on full buffer, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full buffer")
	}

	closed := make(chan struct{})
	go func() {
		_ = bus.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("close blocked")
	}
}

func TestMemoryBusDrainsBufferAfterClose(t *testing.T) {
	bus := NewMemoryBus(4)
	for i := 0; i < 3; i++ {
		if err := bus.Publish(context.Background(), New(TypeBlockAppended)); err != nil {
			t.Fatalf("publish %d failed: %v", i, err)
		}
	}
	_ = bus.Close()

	var handled int
	if err := bus.Consume(context.Background(), 1, func(context.Context, Event) error {
		handled++
		return nil
	}); err != nil {
		t.Fatalf("consume returned %v", err)
	}
	if handled != 3 {
		t.Fatalf("expected 3 buffered events after close, got %d", handled)
	}
}

func TestEncodeDecode(t *testing.T) {
	evt := New(TypeBlockVectorUpdated)
	evt.LedgerID = "ledger-1"
	evt.Index = 7
	evt.Attributes = map[string]string{"policy": "strict"}

	data, err := Encode(evt)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.ID != evt.ID || decoded.Index != 7 || decoded.Attributes["policy"] != "strict" {
		t.Fatalf("unexpected decoded event: %+v", decoded)
	}
	if _, err := Decode([]byte("{")); err == nil {
		t.Fatalf("expected decode error")
	}
}
