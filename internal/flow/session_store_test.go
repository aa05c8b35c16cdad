package flow

import (
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/GateChat/internal/models"
)

func TestSessionStoreWithCreatesLazily(t *testing.T) {
	s := NewSessionStore()
	if _, ok := s.Snapshot(1); ok {
		t.Fatal("expected no session before first use")
	}
	s.With(1, func(sess *Session) {
		sess.Messages = append(sess.Messages, models.UserMessage("hi"))
	})
	msgs, ok := s.Snapshot(1)
	if !ok || len(msgs) != 1 {
		t.Fatalf("expected one message, got %v %v", msgs, ok)
	}
	// Snapshot is a copy.
	msgs[0].Content = "mutated"
	again, _ := s.Snapshot(1)
	if again[0].Content != "hi" {
		t.Error("snapshot aliases session storage")
	}
}

func TestSessionStoreDelete(t *testing.T) {
	s := NewSessionStore()
	s.Delete(5) // absent: no-op
	s.With(5, func(sess *Session) { sess.Messages = []models.ChatMessage{models.UserMessage("x")} })
	s.Delete(5)
	if _, ok := s.Snapshot(5); ok {
		t.Error("session survived Delete")
	}
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d", s.Len())
	}
	s.With(5, func(sess *Session) {
		if len(sess.Messages) != 0 {
			t.Error("recreated session should start empty")
		}
	})
}

func TestSessionStorePrune(t *testing.T) {
	s := NewSessionStore()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.With(1, func(*Session) {})
	now = now.Add(2 * time.Hour)
	s.With(2, func(*Session) {})

	if n := s.Prune(time.Hour); n != 1 {
		t.Fatalf("expected 1 pruned session, got %d", n)
	}
	if _, ok := s.Snapshot(1); ok {
		t.Error("idle session 1 should be pruned")
	}
	if _, ok := s.Snapshot(2); !ok {
		t.Error("active session 2 should survive")
	}
}

func TestSessionStorePruneSkipsBusySession(t *testing.T) {
	s := NewSessionStore()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.With(1, func(*Session) {})
	now = now.Add(48 * time.Hour)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		s.With(1, func(*Session) {
			close(entered)
			<-release
		})
		close(done)
	}()
	<-entered
	if n := s.Prune(time.Hour); n != 0 {
		t.Errorf("busy session must not be pruned, pruned %d", n)
	}
	close(release)
	<-done
}

func TestSessionStorePerKeyExclusion(t *testing.T) {
	s := NewSessionStore()
	entered := make(chan struct{})
	release := make(chan struct{})
	go s.With(1, func(*Session) {
		close(entered)
		<-release
	})
	<-entered

	// A different key proceeds while key 1 is held.
	finished := make(chan struct{})
	go func() {
		s.With(2, func(*Session) {})
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("unrelated conversation blocked by a busy one")
	}
	close(release)

	// Concurrent appends to one key never lose updates.
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.With(3, func(sess *Session) {
				sess.Messages = append(sess.Messages, models.UserMessage("x"))
			})
		}()
	}
	wg.Wait()
	msgs, _ := s.Snapshot(3)
	if len(msgs) != 50 {
		t.Errorf("expected 50 messages, got %d", len(msgs))
	}
}
