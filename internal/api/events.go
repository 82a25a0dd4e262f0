package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/scriptsync/internal/events"
)

// EventSource is the part of events.Bus the stream handler needs.
type EventSource interface {
	Subscribe(filter events.Filter) (<-chan events.Event, func())
	ReplaySince(lastEventID string, filter events.Filter) []events.Event
}

type EventsHandler struct {
	source    EventSource
	keepalive time.Duration
}

func NewEventsHandler(source EventSource) *EventsHandler {
	return &EventsHandler{source: source, keepalive: 15 * time.Second}
}

func writeEvent(w io.Writer, e events.Event) {
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, e.Data)
}

// StreamEvents opens an SSE connection and pushes filtered job events.
// Filters: ?types=job_completed,job_failed and ?job_id=<id>,<id>.
func (h *EventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		WriteErrorWithCode(w, http.StatusServiceUnavailable, ErrUnavailable, "event streaming not available")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	filter := events.Filter{
		Types:  QueryStringList(r, "types"),
		JobIDs: QueryStringList(r, "job_id"),
	}

	// Streams outlive the server's write timeout.
	http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := h.source.Subscribe(filter)
	defer cancel()

	var replayed map[string]bool
	if id := r.Header.Get("Last-Event-ID"); id != "" {
		missed := h.source.ReplaySince(id, filter)
		replayed = make(map[string]bool, len(missed))
		for _, e := range missed {
			writeEvent(w, e)
			replayed[e.ID] = true
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	log := hlog.FromRequest(r)
	log.Info().Msg("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Info().Msg("SSE client disconnected")
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if replayed[e.ID] {
				continue
			}
			writeEvent(w, e)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// Routes registers event routes on the given router.
func (h *EventsHandler) Routes(r chi.Router) {
	r.Get("/events/stream", h.StreamEvents)
}
