package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/roadwatch/roadwatch/internal/api/response"
	"github.com/roadwatch/roadwatch/internal/incident"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 15 * time.Second

// EventsHandler streams controller events to clients over Server-Sent Events.
type EventsHandler struct {
	controller *incident.Controller
	logger     zerolog.Logger
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(controller *incident.Controller, logger zerolog.Logger) *EventsHandler {
	return &EventsHandler{
		controller: controller,
		logger:     logger,
	}
}

// Stream handles GET /v1/events - an SSE stream of collection lifecycle
// events. The stream ends when the client disconnects or the controller
// shuts down.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		response.InternalError(w, r, "streaming is not supported")
		return
	}

	events, cancel := h.controller.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error().Err(err).Msg("could not encode event")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
