package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/txtx/moneymq-go/events"
)

// Handler serves the channel SSE surface over a Manager, optionally
// backed by a stateful broadcaster for durable cross-reconnect replay.
type Handler struct {
	manager  *Manager
	stateful *events.StatefulBroadcaster
}

// NewHandler builds a channel Handler.
func NewHandler(manager *Manager, stateful *events.StatefulBroadcaster) *Handler {
	return &Handler{manager: manager, stateful: stateful}
}

func bearerOrQueryToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	auth := r.Header.Get("Authorization")
	return strings.TrimPrefix(auth, "Bearer ")
}

// ServeChannel handles GET /channels/{id}.
func (h *Handler) ServeChannel(w http.ResponseWriter, r *http.Request, channelID string) {
	if !h.manager.Authorized(bearerOrQueryToken(r)) {
		writeSSEError(w, "unauthorized")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	q := r.URL.Query()
	streamID := q.Get("stream_id")
	replayN, _ := strconv.Atoi(q.Get("replay"))

	// Subscribe before reading replay so any event that lands mid-replay
	// is queued and delivered after the replay batch; the queue is the
	// subscriber's buffer, and Publish drops events once it is full.
	live, cancel, _ := h.manager.Subscribe(channelID)
	defer cancel()

	paymentStackID := q.Get("payment_stack_id")
	isSandbox := q.Get("sandbox") == "true"

	if streamID != "" && h.stateful != nil {
		h.replayStateful(r.Context(), w, flusher, streamID, paymentStackID, isSandbox)
	} else if replayN > 0 {
		for _, e := range h.manager.Replay(channelID, replayN) {
			writeEventJSON(w, e)
		}
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case e, open := <-live:
			if !open {
				return
			}
			writeEventJSON(w, e)
			flusher.Flush()
		}
	}
}

func (h *Handler) replayStateful(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, streamID, paymentStackID string, isSandbox bool) {
	result, err := h.stateful.Replay(ctx, streamID, paymentStackID, isSandbox, nil, 0)
	if err != nil {
		return
	}
	for _, stored := range result.Events {
		_, _ = fmt.Fprintf(w, "id: %d\nevent: payment\ndata: %s\n\n", stored.Seq, stored.EventJSON)
		_ = h.stateful.Ack(ctx, streamID, paymentStackID, isSandbox, stored.Seq)
	}
	flusher.Flush()
}

// ServeAttachment handles POST /channels/{id}/attachments.
func (h *Handler) ServeAttachment(w http.ResponseWriter, r *http.Request, channelID string) {
	if !h.manager.Authorized(bearerOrQueryToken(r)) {
		http.Error(w, `{"code":"unauthorized","message":"invalid or missing token"}`, http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"code":"client_protocol","message":"failed to read body"}`, http.StatusBadRequest)
		return
	}
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		http.Error(w, `{"code":"client_protocol","message":"invalid json body"}`, http.StatusBadRequest)
		return
	}

	actorID := r.URL.Query().Get("actor_id")
	if actorID == "" {
		actorID = "unknown"
	}

	event := h.manager.Attach(r.Context(), channelID, actorID, data)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(event)
}

// ServeTransactions handles GET /channels/transactions.
func (h *Handler) ServeTransactions(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)

	if !h.manager.Authorized(bearerOrQueryToken(r)) {
		writeSSEError(w, "unauthorized")
		flusher.Flush()
		return
	}

	live, cancel, _ := h.manager.TransactionsStream().Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, open := <-live:
			if !open {
				return
			}
			writeEventJSON(w, e)
			flusher.Flush()
		}
	}
}

func writeEventJSON(w http.ResponseWriter, e Event) {
	body, err := json.Marshal(e)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, body)
}

func writeSSEError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "event: error\ndata: {\"message\":%q}\n\n", message)
}
