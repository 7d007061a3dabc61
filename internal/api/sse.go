package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/ubertone/peacock-go/internal/models"
)

// sseEvents streams measurements as Server-Sent Events. Each event carries
// the measurement sequence number as its id. The last measurement is sent
// first unless the client's Last-Event-ID shows it already has it. A "gap"
// event precedes a measurement when earlier ones were dropped for this
// client.
func (h *Handlers) sseEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	id := uuid.New().String()
	ch := h.events.Subscribe(id)
	defer h.events.Unsubscribe(id)

	seen, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)
	if m, ok := h.ctrl.Last(); ok && m.Seq > seen {
		sendMeasurement(w, flusher, m)
	} else {
		// comment line so the client sees the stream open
		_, _ = fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()
	}

	for {
		select {
		case d, ok := <-ch:
			if !ok {
				return
			}
			if d.Missed > 0 {
				_, _ = fmt.Fprintf(w, "event: gap\ndata: {\"missed\":%d}\n\n", d.Missed)
			}
			sendMeasurement(w, flusher, d.Measurement)
		case <-r.Context().Done():
			return
		}
	}
}

func sendMeasurement(w http.ResponseWriter, flusher http.Flusher, m models.Measurement) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", m.Seq, data)
	flusher.Flush()
}
