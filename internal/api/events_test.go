package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/snarg/scriptsync/internal/events"
)

// readEvents reads SSE frames from the stream until n "id:" lines are seen.
func readEvents(t *testing.T, sc *bufio.Scanner, n int) []string {
	t.Helper()
	var ids []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		for len(ids) < n && sc.Scan() {
			if id, ok := strings.CutPrefix(sc.Text(), "id: "); ok {
				ids = append(ids, id)
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out after %d of %d events", len(ids), n)
	}
	return ids
}

func TestStreamEvents_LiveAndFiltered(t *testing.T) {
	bus := events.NewBus(16)
	srv := httptest.NewServer(http.HandlerFunc(NewEventsHandler(bus).StreamEvents))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"?types=job_completed", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	// The subscription exists once headers are flushed.
	for bus.SubscriberCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	bus.Publish(events.JobStarted, "", "j1", map[string]string{"job_id": "j1"})
	bus.Publish(events.JobCompleted, "completed", "j1", map[string]string{"job_id": "j1"})

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	deadline := time.After(3 * time.Second)
	got := make(chan struct{})
	go func() {
		for sc.Scan() {
			lines = append(lines, sc.Text())
			if sc.Text() == "" && len(lines) > 1 {
				close(got)
				return
			}
		}
	}()
	select {
	case <-got:
	case <-deadline:
		t.Fatal("no event received")
	}
	frame := strings.Join(lines, "\n")
	if !strings.Contains(frame, "event: job_completed") || strings.Contains(frame, "job_started") {
		t.Errorf("frame = %q", frame)
	}
	if !strings.Contains(frame, `data: {"job_id":"j1"}`) {
		t.Errorf("frame = %q", frame)
	}
}

func TestStreamEvents_Replay(t *testing.T) {
	bus := events.NewBus(16)
	bus.Publish(events.JobQueued, "", "a", nil)
	bus.Publish(events.JobStarted, "", "a", nil)
	bus.Publish(events.JobCompleted, "completed", "a", nil)
	all := bus.ReplaySince("", events.Filter{})

	srv := httptest.NewServer(http.HandlerFunc(NewEventsHandler(bus).StreamEvents))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL, nil)
	req.Header.Set("Last-Event-ID", all[0].ID)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	ids := readEvents(t, bufio.NewScanner(resp.Body), 2)
	if ids[0] != all[1].ID || ids[1] != all[2].ID {
		t.Errorf("replayed %v, want %s and %s", ids, all[1].ID, all[2].ID)
	}
}

func TestStreamEvents_NoSource(t *testing.T) {
	rec := httptest.NewRecorder()
	NewEventsHandler(nil).StreamEvents(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
