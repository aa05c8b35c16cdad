package scheduler

import (
	"testing"
	"time"
)

type countingPruner struct {
	calls int
	ttl   time.Duration
}

func (c *countingPruner) Prune(ttl time.Duration) int {
	c.calls++
	c.ttl = ttl
	return 2
}

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	// Should add a valid cron job without error
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("not a cron", func() {}); err == nil {
		t.Error("Expected error for invalid expression")
	}
}

func TestSchedulePrune(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	p := &countingPruner{}

	if err := s.SchedulePrune("", p, time.Hour); err != nil {
		t.Errorf("default schedule should be valid, got %v", err)
	}
	if err := s.SchedulePrune("61 * * * *", p, time.Hour); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if err := s.SchedulePrune("garbage", p, 0); err != nil {
		t.Errorf("disabled pruning should ignore the schedule, got %v", err)
	}
}

func TestPruneJob(t *testing.T) {
	p := &countingPruner{}
	PruneJob(p, 90*time.Minute)()
	if p.calls != 1 || p.ttl != 90*time.Minute {
		t.Errorf("expected one prune with ttl 90m, got calls=%d ttl=%v", p.calls, p.ttl)
	}
}
