package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"postal-service/internal/bus"
	"postal-service/internal/correlator"
	"postal-service/internal/model"
	"postal-service/internal/util"

	"github.com/go-chi/chi/v5"
)

const ssePingInterval = 15 * time.Second

// EventsHandler exposes the notification bus to clients: live event streams
// over SSE and a blocking wait that follows a subject's handshake.
type EventsHandler struct {
	eventBus     bus.Bus
	subjects     model.SubjectLedger
	parcels      model.ParcelLedger
	pollInterval time.Duration
	maxWait      time.Duration
}

func NewEventsHandler(eventBus bus.Bus, subjects model.SubjectLedger, parcels model.ParcelLedger, pollInterval, maxWait time.Duration) *EventsHandler {
	return &EventsHandler{
		eventBus:     eventBus,
		subjects:     subjects,
		parcels:      parcels,
		pollInterval: pollInterval,
		maxWait:      maxWait,
	}
}

// RegisterRoutes registers all event routes
func (h *EventsHandler) RegisterRoutes(router chi.Router) {
	router.Get("/events/subjects/{identifier}", h.StreamSubject)
	router.Get("/events/orders/{orderID}", h.StreamOrder)
	router.Get("/subjects/{identifier}/wait", h.WaitForAccess)
}

func (h *EventsHandler) StreamSubject(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, bus.SubjectTopic(chi.URLParam(r, "identifier")))
}

func (h *EventsHandler) StreamOrder(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, bus.ParcelTopic(chi.URLParam(r, "orderID")))
}

// stream pushes bus events for one topic as server-sent events until the
// client disconnects.
func (h *EventsHandler) stream(w http.ResponseWriter, r *http.Request, topic string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError,
			fmt.Errorf("streaming unsupported"), "Streaming unsupported")
		return
	}

	ctx := r.Context()
	events, cancel, err := h.eventBus.Subscribe(ctx, topic)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err, "Failed to subscribe")
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	util.Debug("SSE stream opened", util.String("topic", topic))

	ping := time.NewTicker(ssePingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()
		}
	}
}

// WaitForAccess blocks until the subject's handshake grants access or the
// wait budget runs out, then returns the subject-side snapshot.
func (h *EventsHandler) WaitForAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identifier := chi.URLParam(r, "identifier")

	c := correlator.New(h.subjects, h.parcels, h.eventBus, h.pollInterval, h.maxWait)
	snapshot, err := c.Run(ctx, identifier)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Verification wait ended without access")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(snapshot, "Access granted"))
}
