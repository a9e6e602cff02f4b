package notify_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"transfer-ledger/pkg/metrics/memory"
	"transfer-ledger/pkg/notify"
	"transfer-ledger/pkg/notify/mock"
)

func event(id string) notify.TransferCompleted {
	return notify.TransferCompleted{TransferID: id, From: "A", To: "B", At: time.Now()}
}

func TestNewDispatcher_Defaults(t *testing.T) {
	d := notify.NewDispatcher(&mock.Sink{}, notify.DispatcherConfig{}, nil, nil)
	defer d.Close()

	stats := d.Stats()
	if stats.QueueDepth != 0 || stats.Queued != 0 {
		t.Errorf("Expected empty stats, got %+v", stats)
	}
}

func TestDispatcher_Delivers(t *testing.T) {
	sink := &mock.Sink{}
	collector := memory.NewMemoryCollector()
	d := notify.NewDispatcher(sink, notify.DispatcherConfig{QueueSize: 10, Workers: 1}, collector, nil)

	for i := 0; i < 5; i++ {
		if err := d.Notify(context.Background(), event(fmt.Sprintf("t-%d", i))); err != nil {
			t.Fatalf("Notify failed: %v", err)
		}
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if len(sink.Events()) != 5 {
		t.Errorf("Expected 5 delivered events, got %d", len(sink.Events()))
	}
	if d.Stats().Delivered != 5 {
		t.Errorf("Expected 5 delivered, got %d", d.Stats().Delivered)
	}
	if sink.CloseCalls() != 1 {
		t.Errorf("Expected sink to be closed once, got %d", sink.CloseCalls())
	}
	if got := collector.Snapshot().Notifications["mock"]; got.Success != 5 {
		t.Errorf("Expected 5 recorded deliveries, got %+v", got)
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	sink := &mock.Sink{
		SendFunc: func(ctx context.Context, e notify.TransferCompleted) error {
			<-release
			return nil
		},
	}
	collector := memory.NewMemoryCollector()
	d := notify.NewDispatcher(sink, notify.DispatcherConfig{
		QueueSize:   1,
		Workers:     1,
		MaxWaitTime: time.Millisecond,
	}, collector, nil)

	var dropped int
	for i := 0; i < 10; i++ {
		err := d.Notify(context.Background(), event(fmt.Sprintf("t-%d", i)))
		if errors.Is(err, notify.ErrQueueFull) {
			dropped++
		}
	}

	close(release)
	d.Close()

	if dropped == 0 {
		t.Error("Expected some events to be dropped")
	}
	if d.Stats().Dropped != int64(dropped) {
		t.Errorf("Expected %d dropped in stats, got %d", dropped, d.Stats().Dropped)
	}
	if got := collector.Snapshot().Notifications["mock"].Dropped; got != int64(dropped) {
		t.Errorf("Expected %d dropped in metrics, got %d", dropped, got)
	}
}

func TestDispatcher_CountsFailures(t *testing.T) {
	sink := &mock.Sink{
		SendFunc: func(ctx context.Context, e notify.TransferCompleted) error {
			return errors.New("broker down")
		},
	}
	d := notify.NewDispatcher(sink, notify.DispatcherConfig{Workers: 1}, nil, nil)

	d.Notify(context.Background(), event("t-1"))
	d.Close()

	if d.Stats().Failed != 1 {
		t.Errorf("Expected 1 failure, got %d", d.Stats().Failed)
	}
}

func TestDispatcher_Closed(t *testing.T) {
	d := notify.NewDispatcher(&mock.Sink{}, notify.DispatcherConfig{}, nil, nil)
	d.Close()

	if err := d.Notify(context.Background(), event("t-1")); !errors.Is(err, notify.ErrDispatcherClosed) {
		t.Errorf("Expected ErrDispatcherClosed, got %v", err)
	}

	// Second close is a no-op
	if err := d.Close(); err != nil {
		t.Errorf("Expected nil on second close, got %v", err)
	}
}

func TestDispatcher_CloseDeliversEveryAcceptedEvent(t *testing.T) {
	for round := 0; round < 20; round++ {
		sink := &mock.Sink{}
		d := notify.NewDispatcher(sink, notify.DispatcherConfig{QueueSize: 64, Workers: 2}, nil, nil)

		var accepted int64
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for i := 0; ; i++ {
					err := d.Notify(context.Background(), event(fmt.Sprintf("t-%d-%d", g, i)))
					switch {
					case err == nil:
						atomic.AddInt64(&accepted, 1)
					case errors.Is(err, notify.ErrDispatcherClosed):
						return
					}
				}
			}(g)
		}

		time.Sleep(time.Millisecond)
		if err := d.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		wg.Wait()

		stats := d.Stats()
		if stats.Queued != accepted {
			t.Fatalf("Round %d: %d accepted but %d queued", round, accepted, stats.Queued)
		}
		if delivered := int64(len(sink.Events())); delivered != accepted {
			t.Fatalf("Round %d: %d accepted but %d delivered", round, accepted, delivered)
		}
	}
}

func TestDispatcher_Flush(t *testing.T) {
	var sent int64
	sink := &mock.Sink{
		SendFunc: func(ctx context.Context, e notify.TransferCompleted) error {
			atomic.AddInt64(&sent, 1)
			return nil
		},
	}
	d := notify.NewDispatcher(sink, notify.DispatcherConfig{QueueSize: 100, Workers: 2}, nil, nil)
	defer d.Close()

	for i := 0; i < 50; i++ {
		d.Notify(context.Background(), event(fmt.Sprintf("t-%d", i)))
	}

	if err := d.Flush(time.Second); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
}

func TestMulti(t *testing.T) {
	first := &mock.Notifier{}
	second := &mock.Notifier{Sink: mock.Sink{
		SendFunc: func(ctx context.Context, e notify.TransferCompleted) error {
			return errors.New("boom")
		},
	}}
	third := &mock.Notifier{}

	err := notify.Multi{first, second, third}.Notify(context.Background(), event("t-1"))
	if err == nil {
		t.Error("Expected joined error")
	}
	if len(first.Events()) != 1 || len(third.Events()) != 1 {
		t.Error("Expected every notifier to be tried")
	}

	if err := (notify.Nop{}).Notify(context.Background(), event("t-2")); err != nil {
		t.Errorf("Nop returned %v", err)
	}
}
