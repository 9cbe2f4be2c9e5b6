package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/transfer"
)

const maxBodySize = 1 << 20

// Managers resolves an owner's manager. Manager creates it when needed,
// Lookup only finds one that already exists.
type Managers interface {
	Manager(owner string) (*transfer.Manager, error)
	Lookup(owner string) (*transfer.Manager, error)
	Owners() []string
}

// EnqueueRequest is the body of POST /v1/users/{owner}/transfers.
type EnqueueRequest struct {
	Direction transfer.Direction      `json:"direction"`
	File      transfer.File           `json:"file"`
	Simulated bool                    `json:"simulated"`
	Upload    *transfer.UploadOptions `json:"upload,omitempty"`
}

type enqueueResponse struct {
	ID uuid.UUID `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

type TransferHandler struct {
	managers Managers
	username string
	password string
}

// NewTransferHandler creates the transfer API. Basic auth is enforced when username is set.
func NewTransferHandler(managers Managers, username, password string) *TransferHandler {
	return &TransferHandler{
		managers: managers,
		username: username,
		password: password,
	}
}

func (h *TransferHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Get("/healthz", h.HandleHealth)

	r.Route("/v1/users/{owner}/transfers", func(r chi.Router) {
		r.Get("/", h.HandleStatus)
		r.Post("/", h.HandleEnqueue)
		r.Get("/find", h.HandleFind)
		r.Get("/{id}", h.HandleGet)
		r.Delete("/{id}", h.HandleCancel)
	})

	return r
}

// HandleHealth reports liveness and the owners with an active manager.
func (h *TransferHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status": "ok",
		"owners": h.managers.Owners(),
	})
}

// HandleStatus returns the owner's pending, running and completed queues.
func (h *TransferHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}

	status, err := m.Status(r.Context())
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, status)
}

// HandleEnqueue schedules a new transfer and returns its id.
func (h *TransferHandler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	m, ok := h.manager(w, r)
	if !ok {
		return
	}

	var body EnqueueRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&body); err != nil {
		logger.Error("failed to decode request", "err", err)
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid request body"})

		return
	}

	var opts []transfer.RequestOption
	if body.Simulated {
		opts = append(opts, transfer.Simulated())
	}

	var req transfer.Request

	switch body.Direction {
	case transfer.Download:
		req = transfer.NewDownloadRequest(m.Owner(), body.File, opts...)
	case transfer.Upload:
		var upload transfer.UploadOptions
		if body.Upload != nil {
			upload = *body.Upload
		}

		req = transfer.NewUploadRequest(m.Owner(), body.File, upload, opts...)
	default:
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "direction must be download or upload", Field: "direction"})

		return
	}

	if err := m.Enqueue(req); err != nil {
		writeError(w, r, err)

		return
	}

	logger.Info("transfer enqueued", "owner", req.Owner, "transfer_id", req.ID, "direction", req.Direction)

	writeJSON(w, r, http.StatusAccepted, enqueueResponse{ID: req.ID})
}

// HandleGet returns one transfer record.
func (h *TransferHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}

	id, ok := transferID(w, r)
	if !ok {
		return
	}

	t, found, err := m.Transfer(r.Context(), id)
	if err != nil {
		writeError(w, r, err)

		return
	}

	if !found {
		writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "transfer not found"})

		return
	}

	writeJSON(w, r, http.StatusOK, t)
}

// HandleFind returns the first transfer targeting ?remote_path=.
func (h *TransferHandler) HandleFind(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}

	remotePath := r.URL.Query().Get("remote_path")
	if remotePath == "" {
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "remote_path is required", Field: "remote_path"})

		return
	}

	t, found, err := m.TransferByFile(r.Context(), transfer.File{RemotePath: remotePath})
	if err != nil {
		writeError(w, r, err)

		return
	}

	if !found {
		writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "transfer not found"})

		return
	}

	writeJSON(w, r, http.StatusOK, t)
}

// HandleCancel stops a pending or running transfer.
func (h *TransferHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}

	id, ok := transferID(w, r)
	if !ok {
		return
	}

	found, err := m.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, r, err)

		return
	}

	if !found {
		writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "transfer not found or already finished"})

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// manager starts the owner's manager when needed. Only enqueue uses it.
func (h *TransferHandler) manager(w http.ResponseWriter, r *http.Request) (*transfer.Manager, bool) {
	return h.resolve(w, r, h.managers.Manager)
}

func (h *TransferHandler) lookup(w http.ResponseWriter, r *http.Request) (*transfer.Manager, bool) {
	return h.resolve(w, r, h.managers.Lookup)
}

func (h *TransferHandler) resolve(w http.ResponseWriter, r *http.Request, find func(string) (*transfer.Manager, error)) (*transfer.Manager, bool) {
	m, err := find(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, r, err)

		return nil, false
	}

	return m, true
}

func (h *TransferHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func transferID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid transfer id", Field: "id"})

		return uuid.Nil, false
	}

	return id, true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *transfer.ValidationError

	switch {
	case errors.As(err, &validation):
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: validation.Error(), Field: validation.Field})
	case errors.Is(err, transfer.ErrManagerClosed):
		writeJSON(w, r, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	case errors.Is(err, transfer.ErrUnknownOwner):
		writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "owner has no transfers"})
	default:
		logctx.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}
