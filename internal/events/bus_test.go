package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// ── Publish/Subscribe ────────────────────────────────────────────────

func TestBusPublishSubscribe(t *testing.T) {
	t.Run("subscriber_receives_published_event", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{})
		defer cancel()

		b.Publish(JobQueued, "", "job-1", map[string]string{"name": "promo"})

		select {
		case evt := <-ch:
			if evt.Type != JobQueued {
				t.Errorf("Type = %q, want job_queued", evt.Type)
			}
			if evt.JobID != "job-1" {
				t.Errorf("JobID = %q, want job-1", evt.JobID)
			}
			if evt.ID == "" {
				t.Error("expected non-empty event ID")
			}
			var payload map[string]string
			if err := json.Unmarshal(evt.Data, &payload); err != nil {
				t.Fatalf("Data is not valid JSON: %v", err)
			}
			if payload["name"] != "promo" {
				t.Errorf("payload name = %q, want promo", payload["name"])
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	})

	t.Run("filtered_subscriber_misses_non_matching", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{Types: []string{JobFailed}})
		defer cancel()

		b.Publish(JobStarted, "", "job-1", nil)

		select {
		case evt := <-ch:
			t.Errorf("unexpected event %q", evt.Type)
		case <-time.After(20 * time.Millisecond):
		}
	})

	t.Run("cancel_removes_subscriber", func(t *testing.T) {
		b := NewBus(8)
		_, cancel := b.Subscribe(Filter{})
		if b.SubscriberCount() != 1 {
			t.Fatalf("SubscriberCount = %d, want 1", b.SubscriberCount())
		}
		cancel()
		cancel()
		if b.SubscriberCount() != 0 {
			t.Errorf("SubscriberCount = %d after cancel, want 0", b.SubscriberCount())
		}
	})

	t.Run("slow_subscriber_does_not_block", func(t *testing.T) {
		b := NewBus(8)
		_, cancel := b.Subscribe(Filter{})
		defer cancel()

		done := make(chan struct{})
		go func() {
			for i := 0; i < 200; i++ {
				b.Publish(JobStarted, "", "job", i)
			}
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("publisher blocked on a full subscriber")
		}
	})

	t.Run("concurrent_publishers", func(t *testing.T) {
		b := NewBus(1024)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					b.Publish(JobQueued, "", "j", j)
				}
			}()
		}
		wg.Wait()
		if got := len(b.ReplaySince("", Filter{})); got != 400 {
			t.Errorf("ring holds %d events, want 400", got)
		}
	})
}

// ── ReplaySince ──────────────────────────────────────────────────────

func TestBusReplaySince(t *testing.T) {
	t.Run("replay_all_when_empty_lastID", func(t *testing.T) {
		b := NewBus(64)
		b.Publish(JobQueued, "", "a", nil)
		b.Publish(JobStarted, "", "a", nil)

		if events := b.ReplaySince("", Filter{}); len(events) != 2 {
			t.Fatalf("got %d events, want 2", len(events))
		}
	})

	t.Run("replay_after_specific_id", func(t *testing.T) {
		b := NewBus(64)
		b.Publish(JobQueued, "", "a", nil)
		firstID := b.ReplaySince("", Filter{})[0].ID

		b.Publish(JobStarted, "", "a", nil)

		events := b.ReplaySince(firstID, Filter{})
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1 (after first)", len(events))
		}
		if events[0].Type != JobStarted {
			t.Errorf("Type = %q, want job_started", events[0].Type)
		}
	})

	t.Run("replay_with_job_filter", func(t *testing.T) {
		b := NewBus(64)
		b.Publish(JobQueued, "", "a", nil)
		b.Publish(JobQueued, "", "b", nil)

		events := b.ReplaySince("", Filter{JobIDs: []string{"b"}})
		if len(events) != 1 || events[0].JobID != "b" {
			t.Fatalf("events = %+v, want only job b", events)
		}
	})

	t.Run("unknown_lastID_replays_all", func(t *testing.T) {
		b := NewBus(64)
		b.Publish(JobQueued, "", "a", nil)

		if events := b.ReplaySince("nonexistent-id", Filter{}); len(events) != 1 {
			t.Fatalf("got %d events, want 1 (fallback replay all)", len(events))
		}
	})

	t.Run("ring_wraps_oldest_first", func(t *testing.T) {
		b := NewBus(3)
		for _, id := range []string{"1", "2", "3", "4", "5"} {
			b.Publish(JobQueued, "", id, nil)
		}
		events := b.ReplaySince("", Filter{})
		if len(events) != 3 {
			t.Fatalf("got %d events, want 3", len(events))
		}
		if events[0].JobID != "3" || events[2].JobID != "5" {
			t.Errorf("order = %s..%s, want 3..5", events[0].JobID, events[2].JobID)
		}
	})
}

// ── Filter ───────────────────────────────────────────────────────────

func TestFilterMatches(t *testing.T) {
	tests := []struct {
		name   string
		event  Event
		filter Filter
		want   bool
	}{
		{"empty_filter_matches_all", Event{Type: JobQueued, JobID: "a"}, Filter{}, true},
		{"type_match", Event{Type: JobFailed}, Filter{Types: []string{JobFailed}}, true},
		{"type_no_match", Event{Type: JobFailed}, Filter{Types: []string{JobQueued}}, false},
		{"type_list_trimmed", Event{Type: JobStarted}, Filter{Types: []string{"job_queued", " job_started"}}, true},
		{"compound_match", Event{Type: JobCompleted, SubType: "needs_review"}, Filter{Types: []string{"job_completed:needs_review"}}, true},
		{"compound_wrong_subtype", Event{Type: JobCompleted, SubType: "completed"}, Filter{Types: []string{"job_completed:needs_review"}}, false},
		{"plain_type_matches_any_subtype", Event{Type: JobCompleted, SubType: "completed"}, Filter{Types: []string{JobCompleted}}, true},
		{"job_match_case_insensitive", Event{Type: JobQueued, JobID: "abc-def"}, Filter{JobIDs: []string{"ABC-DEF"}}, true},
		{"job_no_match", Event{Type: JobQueued, JobID: "abc"}, Filter{JobIDs: []string{"xyz"}}, false},
		{"type_and_job_both_required", Event{Type: JobQueued, JobID: "abc"}, Filter{Types: []string{JobFailed}, JobIDs: []string{"abc"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.event); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
