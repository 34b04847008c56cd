package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/garnizeh/mockprep/internal/service"
	"github.com/garnizeh/mockprep/pkg/models"
	"github.com/gorilla/mux"
)

// InterviewsHandler serves the interview lifecycle to authenticated users.
type InterviewsHandler struct {
	svc       *service.Service
	maxUpload int64
}

func NewInterviewsHandler(svc *service.Service, maxUpload int64) *InterviewsHandler {
	return &InterviewsHandler{svc: svc, maxUpload: maxUpload}
}

type uploadTargetRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

type submitRequest struct {
	ObjectKey   string `json:"object_key"`
	ContentType string `json:"content_type"`
}

type statusResponse struct {
	ID       string                `json:"id"`
	Status   string                `json:"status"`
	Attempts int                   `json:"attempts"`
	Error    *models.PipelineError `json:"error,omitempty"`
}

func (h *InterviewsHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var in service.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	iv, err := h.svc.Create(r.Context(), userID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, iv, http.StatusCreated)
}

func (h *InterviewsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	list, err := h.svc.List(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Interview{}
	}
	writeJSON(w, list, http.StatusOK)
}

func (h *InterviewsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	iv, err := h.svc.Get(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, iv, http.StatusOK)
}

// Status is the lightweight poll endpoint used while a recording is processed.
func (h *InterviewsHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	iv, err := h.svc.Get(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, statusResponse{ID: iv.ID, Status: string(iv.Status), Attempts: iv.Attempts, Error: iv.Error}, http.StatusOK)
}

func (h *InterviewsHandler) UploadTarget(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req uploadTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	t, err := h.svc.IssueUploadTarget(r.Context(), userID, mux.Vars(r)["id"], req.Filename, req.ContentType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, t, http.StatusOK)
}

// UploadVideo streams a multipart "video" part into storage. An optional
// "object_key" field sent before it reuses a key from UploadTarget.
func (h *InterviewsHandler) UploadVideo(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "Expected multipart/form-data", http.StatusBadRequest)
		return
	}

	var key string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			uploadError(w, r, err)
			return
		}
		switch part.FormName() {
		case "object_key":
			b, err := io.ReadAll(io.LimitReader(part, 512))
			if err != nil {
				uploadError(w, r, err)
				return
			}
			key = strings.TrimSpace(string(b))
		case "video":
			ct := part.Header.Get("Content-Type")
			iv, err := h.svc.UploadVideo(r.Context(), userID, mux.Vars(r)["id"], key, part.FileName(), ct, part)
			if err != nil {
				uploadError(w, r, err)
				return
			}
			writeJSON(w, iv, http.StatusAccepted)
			return
		}
		part.Close()
	}
	http.Error(w, "Missing video part", http.StatusBadRequest)
}

func (h *InterviewsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	iv, err := h.svc.Submit(r.Context(), userID, mux.Vars(r)["id"], req.ObjectKey, req.ContentType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, iv, http.StatusAccepted)
}

func uploadError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		logger.Warn("upload too large", slog.String("path", r.URL.Path), slog.Int64("limit", tooLarge.Limit))
		http.Error(w, "Recording too large", http.StatusRequestEntityTooLarge)
		return
	}
	writeError(w, r, err)
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return n, nil
}
