package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/GateChat/internal/models"
	"github.com/BTreeMap/GateChat/internal/store"
)

// recordingDispatcher records dispatched events and can block one conversation.
type recordingDispatcher struct {
	mu      sync.Mutex
	seen    map[int64][]string
	active  map[int64]int
	overlap bool
	block   map[int64]chan struct{}
	err     error
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{
		seen:   make(map[int64][]string),
		active: make(map[int64]int),
		block:  make(map[int64]chan struct{}),
	}
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, evt models.InboundEvent) error {
	d.mu.Lock()
	d.active[evt.ConversationID]++
	if d.active[evt.ConversationID] > 1 {
		d.overlap = true
	}
	gate := d.block[evt.ConversationID]
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	time.Sleep(time.Millisecond)

	d.mu.Lock()
	d.seen[evt.ConversationID] = append(d.seen[evt.ConversationID], evt.Body)
	d.active[evt.ConversationID]--
	d.mu.Unlock()
	return d.err
}

func (d *recordingDispatcher) bodies(id int64) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.seen[id]...)
}

func textEvent(id int64, body string) models.InboundEvent {
	return models.InboundEvent{Kind: models.EventText, ConversationID: id, Body: body}
}

func TestRouterPreservesPerConversationOrder(t *testing.T) {
	d := newRecordingDispatcher()
	r := NewRouter(d, nil)
	ctx := context.Background()

	want := []string{"a", "b", "c", "d", "e"}
	for _, b := range want {
		r.Submit(ctx, textEvent(1, b))
		r.Submit(ctx, textEvent(2, b))
	}
	r.Wait()

	for _, id := range []int64{1, 2} {
		got := d.bodies(id)
		if len(got) != len(want) {
			t.Fatalf("conversation %d: expected %d events, got %v", id, len(want), got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("conversation %d: order broken, got %v", id, got)
				break
			}
		}
	}
	if d.overlap {
		t.Error("events of one conversation were handled concurrently")
	}
}

func TestRouterConversationsRunIndependently(t *testing.T) {
	d := newRecordingDispatcher()
	gate := make(chan struct{})
	d.block[1] = gate
	r := NewRouter(d, nil)
	ctx := context.Background()

	r.Submit(ctx, textEvent(1, "stuck"))
	r.Submit(ctx, textEvent(2, "free"))

	deadline := time.After(2 * time.Second)
	for len(d.bodies(2)) == 0 {
		select {
		case <-deadline:
			t.Fatal("conversation 2 blocked behind conversation 1")
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(gate)
	r.Wait()
	if len(d.bodies(1)) != 1 {
		t.Error("conversation 1 event lost")
	}
}

func TestRouterDropsDuplicates(t *testing.T) {
	d := newRecordingDispatcher()
	st := store.NewInMemoryStore()
	r := NewRouter(d, st)
	ctx := context.Background()

	evt := textEvent(3, "once")
	evt.ID = "tg:3:100"
	r.Submit(ctx, evt)
	r.Submit(ctx, evt)
	r.Wait()

	if got := d.bodies(3); len(got) != 1 {
		t.Errorf("expected one dispatch, got %v", got)
	}
}

func TestRouterRunStopsOnClose(t *testing.T) {
	d := newRecordingDispatcher()
	d.err = errors.New("rejected")
	r := NewRouter(d, store.NewInMemoryStore())
	events := make(chan models.InboundEvent, 3)
	events <- textEvent(4, "x")
	events <- textEvent(4, "y")
	close(events)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), events)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the channel closed")
	}
	if got := d.bodies(4); len(got) != 2 {
		t.Errorf("expected both events handled before Run returned, got %v", got)
	}
}

type panickingDispatcher struct{}

func (panickingDispatcher) Dispatch(ctx context.Context, evt models.InboundEvent) error {
	panic("boom")
}

func TestRouterRecoversFromDispatcherPanic(t *testing.T) {
	r := NewRouter(panickingDispatcher{}, nil)
	r.Submit(context.Background(), textEvent(5, "x"))
	r.Wait()
}
