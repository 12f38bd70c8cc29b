package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/signalbus"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// createRequestBody is the JSON payload for POST /api/requests.
type createRequestBody struct {
	MediaID        int64           `json:"mediaId"`
	MediaKind      domain.MediaKind `json:"mediaKind"`
	Title          string          `json:"title"`
	SourceLanguage string          `json:"sourceLanguage"`
	TargetLanguage string          `json:"targetLanguage"`
	ForcePriority  bool            `json:"forcePriority"`
}

func (s *Server) createRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req := domain.TranslationRequest{
		MediaID:        body.MediaID,
		MediaKind:      body.MediaKind,
		Title:          body.Title,
		SourceLanguage: body.SourceLanguage,
		TargetLanguage: body.TargetLanguage,
	}
	out, err := s.deps.Requests.CreateRequest(r.Context(), req, body.ForcePriority)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) listRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ListFilter{
		SearchQuery: q.Get("search"),
		Status:      domain.RequestStatus(q.Get("status")),
		OrderBy:     q.Get("orderBy"),
		Ascending:   q.Get("ascending") == "true",
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil {
		filter.Offset = offset
	}
	out, err := s.deps.Requests.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) activeCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Requests.GetActiveCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"activeCount": n})
}

func (s *Server) reenqueueQueued(w http.ResponseWriter, r *http.Request) {
	includeInProgress := r.URL.Query().Get("includeInProgress") == "true"
	result, err := s.deps.Requests.ReenqueueQueued(r.Context(), includeInProgress)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) dedupeQueued(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Requests.DedupeQueuedRequests(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) cancelRequest(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := s.deps.Requests.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) removeRequest(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.deps.Requests.Remove(r.Context(), id); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) retryRequest(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := s.deps.Requests.Retry(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) requestLogs(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	logs, err := s.deps.Requests.GetLogs(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) listMedia(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	out, err := s.deps.Media.ListMedia(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type boolBody struct {
	Value bool `json:"value"`
}

func (s *Server) setExclude(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var body boolBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.deps.Media.SetExcludeFromTranslation(r.Context(), id, body.Value); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setPriority(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var body boolBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.deps.Media.SetPriority(r.Context(), id, body.Value); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type durationBody struct {
	Seconds int64 `json:"seconds"`
}

func (s *Server) setAgeThreshold(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var body durationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	threshold := time.Duration(body.Seconds) * time.Second
	if err := s.deps.Media.SetAgeThreshold(r.Context(), id, threshold); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) triggerIntegrityCheck(w http.ResponseWriter, r *http.Request) {
	if s.deps.Integrity == nil {
		writeError(w, http.StatusServiceUnavailable, errIntegrityUnconfigured)
		return
	}
	if err := s.deps.Integrity.ScanCompleted(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) providerUsage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Usage == nil {
		writeError(w, http.StatusServiceUnavailable, errUsageUnconfigured)
		return
	}
	model := r.URL.Query().Get("model")
	used, allowed, paused, err := s.deps.Usage.Snapshot(r.Context(), model)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model":   model,
		"used":    used,
		"allowed": allowed,
		"paused":  paused,
	})
}

// logsStream is the dashboard's live tail of one request: it subscribes to
// the requestId query parameter's group and streams that request's
// log/state/progress events over one SSE connection. Framed as event: <kind>\ndata: <json>\n\n, grounded on the
// gin SSE handler the retrieval pack carries for streaming chat tokens,
// generalized from one channel to a heartbeat-guarded fanout.
func (s *Server) logsStream(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("requestId")
	if group == "" {
		writeError(w, http.StatusBadRequest, errMissingRequestID)
		return
	}
	s.streamEvents(w, r, group)
}

func (s *Server) testTranslationStream(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("requestId")
	if group == "" {
		writeError(w, http.StatusBadRequest, errMissingRequestID)
		return
	}
	s.streamEvents(w, r, group)
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, group string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errStreamingUnsupported)
		return
	}
	if s.deps.Bus == nil {
		writeError(w, http.StatusServiceUnavailable, errBusUnconfigured)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsubscribe := s.deps.Bus.Subscribe(group)
	defer unsubscribe()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
		case <-heartbeat.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev signalbus.Event) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return
	}
	w.Write([]byte("event: " + string(ev.Kind) + "\n"))
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}
