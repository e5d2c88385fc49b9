package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"example.com/certgate/internal/batch"
)

// runStream reports a generate run as newline-delimited JSON: one "start"
// event, a "result" per finished row, then a closing "summary" or "error".
// Batch workers call result concurrently.
type runStream struct {
	mu      sync.Mutex
	enc     *json.Encoder
	flusher http.Flusher
}

type streamEvent struct {
	Type   string        `json:"type"`
	JobID  string        `json:"jobId,omitempty"`
	Total  int           `json:"total,omitempty"`
	Result *batch.Result `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

func newRunStream(w http.ResponseWriter) *runStream {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-store")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	st := &runStream{enc: enc}
	if f, ok := w.(http.Flusher); ok {
		st.flusher = f
	}
	return st
}

func (st *runStream) start(jobID string, total int) error {
	return st.send(streamEvent{Type: "start", JobID: jobID, Total: total})
}

func (st *runStream) result(res batch.Result) error {
	return st.send(streamEvent{Type: "result", Result: &res})
}

func (st *runStream) fail(err error) error {
	return st.send(streamEvent{Type: "error", Error: err.Error()})
}

func (st *runStream) summary(resp generateResponse) error {
	resp.Type = "summary"
	return st.send(resp)
}

func (st *runStream) send(v any) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.enc.Encode(v); err != nil {
		return err
	}
	if st.flusher != nil {
		st.flusher.Flush()
	}
	return nil
}
