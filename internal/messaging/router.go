package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/GateChat/internal/models"
	"github.com/BTreeMap/GateChat/internal/store"
	"github.com/google/uuid"
)

// EventDispatcher handles one validated inbound event.
type EventDispatcher interface {
	Dispatch(ctx context.Context, evt models.InboundEvent) error
}

type routedEvent struct {
	evt      models.InboundEvent
	traceID  string
	recorded bool // evt.ID was written to the dedup log
}

// lane is the FIFO of pending events for one conversation.
type lane struct {
	queue []routedEvent
}

// Router feeds inbound events to the dispatcher. Events of one conversation
// are handled strictly in arrival order; different conversations run
// concurrently. Redelivered transport message ids are dropped.
type Router struct {
	dispatcher EventDispatcher
	dedup      store.DedupRepo

	mu    sync.Mutex
	lanes map[int64]*lane
	wg    sync.WaitGroup
}

// NewRouter creates a Router. dedup may be nil to disable deduplication.
func NewRouter(dispatcher EventDispatcher, dedup store.DedupRepo) *Router {
	return &Router{
		dispatcher: dispatcher,
		dedup:      dedup,
		lanes:      make(map[int64]*lane),
	}
}

// Run consumes events until ctx is cancelled or the channel is closed, then
// waits for queued events to finish.
func (r *Router) Run(ctx context.Context, events <-chan models.InboundEvent) {
	slog.Info("Router.Run: started")
	defer func() {
		r.Wait()
		slog.Info("Router.Run: stopped")
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			r.Submit(ctx, evt)
		}
	}
}

// Submit queues evt on its conversation's lane, starting the lane if idle.
func (r *Router) Submit(ctx context.Context, evt models.InboundEvent) {
	re := routedEvent{evt: evt, traceID: evt.ID}
	if evt.ID == "" {
		re.traceID = uuid.NewString()
	} else if r.dedup != nil {
		fresh, err := r.dedup.RecordInbound(ctx, evt.ID, evt.ConversationID)
		if err != nil {
			slog.Warn("Router.Submit: dedup record failed, processing anyway", "message_id", evt.ID, "error", err)
		} else if !fresh {
			slog.Info("Router.Submit: duplicate event dropped", "message_id", evt.ID, "conversation_id", evt.ConversationID)
			return
		} else {
			re.recorded = true
		}
	}

	r.mu.Lock()
	if l, busy := r.lanes[evt.ConversationID]; busy {
		l.queue = append(l.queue, re)
		r.mu.Unlock()
		return
	}
	l := &lane{queue: []routedEvent{re}}
	r.lanes[evt.ConversationID] = l
	r.wg.Add(1)
	r.mu.Unlock()

	// Queued events still run after shutdown begins.
	go r.drain(context.WithoutCancel(ctx), evt.ConversationID, l)
}

func (r *Router) drain(ctx context.Context, conversationID int64, l *lane) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		if len(l.queue) == 0 {
			delete(r.lanes, conversationID)
			r.mu.Unlock()
			return
		}
		re := l.queue[0]
		l.queue = l.queue[1:]
		r.mu.Unlock()

		r.handle(ctx, re)
	}
}

func (r *Router) handle(ctx context.Context, re routedEvent) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Router: dispatcher panicked", "trace_id", re.traceID, "conversation_id", re.evt.ConversationID, "panic", p)
		}
	}()
	slog.Debug("Router: dispatching", "trace_id", re.traceID, "conversation_id", re.evt.ConversationID, "kind", re.evt.Kind)
	if err := r.dispatcher.Dispatch(ctx, re.evt); err != nil {
		slog.Warn("Router: event rejected", "trace_id", re.traceID, "conversation_id", re.evt.ConversationID, "error", err)
	}
	if re.recorded {
		if err := r.dedup.MarkProcessed(ctx, re.evt.ID); err != nil {
			slog.Warn("Router: mark processed failed", "message_id", re.evt.ID, "error", err)
		}
	}
}

// Wait blocks until every lane has drained.
func (r *Router) Wait() {
	r.wg.Wait()
}
