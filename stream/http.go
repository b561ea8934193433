package stream

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// cursorIntervalMillis sets the granularity of the monotonic SSE cursor:
// floor((now_ms) / interval) strictly increases roughly once a second.
const cursorIntervalMillis = 1000

// keepAliveInterval is how often an idle SSE connection gets a comment
// line so intermediaries don't time it out.
const keepAliveInterval = 15 * time.Second

// Handler serves the durable-stream HTTP surface over a Store.
type Handler struct {
	store          *Store
	longPollWindow time.Duration
}

// NewHandler builds a Handler with the given long-poll timeout.
func NewHandler(store *Store, longPollWindow time.Duration) *Handler {
	return &Handler{store: store, longPollWindow: longPollWindow}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch r.Method {
	case http.MethodPut:
		h.handleCreate(w, r, path)
	case http.MethodHead:
		h.handleHead(w, r, path)
	case http.MethodGet:
		h.handleRead(w, r, path)
	case http.MethodPost:
		h.handleAppend(w, r, path)
	case http.MethodDelete:
		h.handleDelete(w, r, path)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func nextCursor(clientCursor int64) int64 {
	c := time.Now().UnixMilli() / cursorIntervalMillis
	if c <= clientCursor {
		c = clientCursor + 1
	}
	return c
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request, path string) {
	cfg := Config{ContentType: r.Header.Get("Content-Type")}

	if ttlHeader := r.Header.Get("Stream-TTL"); ttlHeader != "" {
		ttl, err := strconv.ParseInt(ttlHeader, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_ttl", "Stream-TTL must be an integer number of seconds")
			return
		}
		cfg.TTLSeconds = &ttl
	}
	if expiresHeader := r.Header.Get("Stream-Expires-At"); expiresHeader != "" {
		t, err := time.Parse(time.RFC3339, expiresHeader)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_expires_at", "Stream-Expires-At must be RFC 3339")
			return
		}
		cfg.ExpiresAt = &t
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to read request body")
		return
	}
	cfg.InitialData = body

	result, err := h.store.Create(path, cfg)
	if err != nil {
		if IsConfigMismatch(err) {
			writeError(w, http.StatusConflict, "config_mismatch", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "ttl_conflict", err.Error())
		return
	}

	st, _ := h.store.Get(path)
	w.Header().Set("Stream-Next-Offset", st.CurrentOffset)
	w.Header().Set("Location", path)
	if result == Created {
		w.WriteHeader(http.StatusCreated)
	} else {
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) handleHead(w http.ResponseWriter, r *http.Request, path string) {
	st, ok := h.store.Get(path)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	clientCursor := parseCursorParam(r)
	w.Header().Set("Stream-Next-Offset", st.CurrentOffset)
	w.Header().Set("Stream-Cursor", strconv.FormatInt(nextCursor(clientCursor), 10))
	w.Header().Set("ETag", fmt.Sprintf("%q", st.CurrentOffset))
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, path string) {
	if h.store.Delete(path) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *Handler) handleAppend(w http.ResponseWriter, r *http.Request, path string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to read request body")
		return
	}

	offset, err := h.store.Append(path, body, r.Header.Get("Content-Type"), r.Header.Get("Stream-Seq"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	w.Header().Set("Stream-Next-Offset", offset)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request, path string) {
	q := r.URL.Query()
	offset := q.Get("offset")
	if offset == "" {
		offset = "-1"
	}
	live := q.Get("live")
	clientCursor := parseCursorParam(r)

	switch live {
	case "sse":
		h.serveSSE(w, r, path, offset, clientCursor)
	case "long-poll":
		h.serveLongPoll(w, r, path, offset, clientCursor)
	default:
		h.serveCatchUp(w, path, offset, clientCursor)
	}
}

func (h *Handler) serveCatchUp(w http.ResponseWriter, path, offset string, clientCursor int64) {
	result, err := h.store.Read(path, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	body := h.store.FormatResponse(path, result.Messages)
	h.writeReadHeaders(w, path, result, clientCursor)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) serveLongPoll(w http.ResponseWriter, r *http.Request, path, offset string, clientCursor int64) {
	result, err := h.store.Read(path, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if len(result.Messages) > 0 {
		body := h.store.FormatResponse(path, result.Messages)
		h.writeReadHeaders(w, path, result, clientCursor)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}

	notifications, cancel := h.store.Subscribe()
	defer cancel()

	timer := time.NewTimer(h.longPollWindow)
	defer timer.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-timer.C:
			st, ok := h.store.Get(path)
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Stream-Next-Offset", st.CurrentOffset)
			w.Header().Set("Stream-Cursor", strconv.FormatInt(nextCursor(clientCursor), 10))
			w.Header().Set("Stream-Up-To-Date", "true")
			w.WriteHeader(http.StatusNoContent)
			return
		case n := <-notifications:
			if n.Path != path {
				continue
			}
			result, err := h.store.Read(path, offset)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			if len(result.Messages) == 0 {
				continue
			}
			body := h.store.FormatResponse(path, result.Messages)
			h.writeReadHeaders(w, path, result, clientCursor)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(body)
			return
		}
	}
}

func (h *Handler) serveSSE(w http.ResponseWriter, r *http.Request, path, offset string, clientCursor int64) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	result, err := h.store.Read(path, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	for _, m := range result.Messages {
		writeSSEData(w, m.Data)
	}
	lastOffset := result.NextOffset
	writeSSEControl(w, lastOffset, nextCursor(clientCursor), result.UpToDate)
	flusher.Flush()

	notifications, cancel := h.store.Subscribe()
	defer cancel()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			_, _ = io.WriteString(w, ": keepalive\n\n")
			flusher.Flush()
		case n, open := <-notifications:
			if !open {
				return
			}
			if n.Path != path {
				continue
			}
			result, err := h.store.Read(path, lastOffset)
			if err != nil {
				return
			}
			for _, m := range result.Messages {
				writeSSEData(w, m.Data)
			}
			lastOffset = result.NextOffset
			writeSSEControl(w, lastOffset, nextCursor(clientCursor), result.UpToDate)
			flusher.Flush()
		}
	}
}

func writeSSEData(w http.ResponseWriter, data []byte) {
	for _, line := range strings.Split(string(data), "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = io.WriteString(w, "\n")
}

func writeSSEControl(w http.ResponseWriter, nextOffset string, cursor int64, upToDate bool) {
	_, _ = fmt.Fprintf(w, "event: control\ndata: {\"streamNextOffset\":%q,\"streamCursor\":%d,\"upToDate\":%t}\n\n",
		nextOffset, cursor, upToDate)
}

func (h *Handler) writeReadHeaders(w http.ResponseWriter, path string, result ReadResult, clientCursor int64) {
	w.Header().Set("Stream-Next-Offset", result.NextOffset)
	w.Header().Set("Stream-Cursor", strconv.FormatInt(nextCursor(clientCursor), 10))
	w.Header().Set("Stream-Up-To-Date", strconv.FormatBool(result.UpToDate))
	w.Header().Set("ETag", fmt.Sprintf("%q", result.NextOffset))
}

func parseCursorParam(r *http.Request) int64 {
	v := r.URL.Query().Get("cursor")
	if v == "" {
		v = r.Header.Get("Stream-Cursor")
	}
	c, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return c
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case IsContentTypeMismatch(err), IsSequenceConflict(err), IsConfigMismatch(err):
		writeError(w, http.StatusConflict, "config_mismatch", err.Error())
	case IsEmptyBody(err), IsEmptyArrayNotAllowed(err), IsInvalidOffset(err):
		writeError(w, http.StatusBadRequest, "client_protocol", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"code":%q,"message":%q}`, code, message)
}
