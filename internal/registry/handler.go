package registry

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/jarvus/sencha-buildd/internal"
	"github.com/jarvus/sencha-buildd/internal/pipeline"
)

// maxOptionsSize bounds the body accepted by POST /builds.
const maxOptionsSize = 1 << 20

type Handler struct {
	store  Store
	writer internal.Writer
	mux    *http.ServeMux
}

// NewHandler serves the build routes backed by store:
//
//	GET  /builds       every record keyed by identifier
//	GET  /builds/{id}  one record, or 404
//	POST /builds       stores the JSON body as a pending record and returns its new identifier
func NewHandler(store Store, w internal.Writer) *Handler {
	h := &Handler{
		store:  store,
		writer: w,
		mux:    http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /builds", h.list)
	h.mux.HandleFunc("GET /builds/{id}", h.get)
	h.mux.HandleFunc("POST /builds", h.create)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.store.List())
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	record, ok := h.store.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "build not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, record)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxOptionsSize+1))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read request body: %v", err), http.StatusBadRequest)
		return
	}
	if len(body) > maxOptionsSize {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "request body must be JSON", http.StatusBadRequest)
		return
	}

	id := uuid.NewString()
	h.store.Put(id, Record{Status: StatusPending, Options: body})
	h.writer.WithField("build", id).Printf("queued build")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, id)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.writer.Warningf("failed to write response: %v", err)
	}
}

// Start marks id as building, keeping the options of an existing record.
func Start(store Store, id string) {
	record, _ := store.Get(id)
	record.Status = StatusBuilding
	record.Error = ""
	record.OutputCommit = ""
	store.Put(id, record)
}

// Recorder returns a completion callback storing each pipeline outcome
// under its build identifier. Options of an existing record are kept.
func Recorder(store Store, w internal.Writer) func(pipeline.Outcome) {
	return func(outcome pipeline.Outcome) {
		id := outcome.BuildID.String()

		record, _ := store.Get(id)
		record.Error = ""
		record.OutputCommit = outcome.OutputCommit
		record.Status = StatusBuilt
		if outcome.Err != nil {
			record.Status = StatusFailed
			record.Error = outcome.Err.Error()
		}

		store.Put(id, record)
		w.WithField("build", id).Printf("recorded build status %s", record.Status)
	}
}
