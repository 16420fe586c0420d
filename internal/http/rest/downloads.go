package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mediaforge/media_downloader/internal/download"
	"github.com/mediaforge/media_downloader/internal/logctx"
	"github.com/mediaforge/media_downloader/internal/storage"
	"github.com/mediaforge/media_downloader/internal/telemetry"
)

// contentTypes maps destination file extensions to stream content types.
var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".webm": "video/webm",
	".m4v":  "video/x-m4v",
}

const defaultContentType = "application/octet-stream"

// ContentTypeForPath returns the stream content type for a destination path.
func ContentTypeForPath(path string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}

	return defaultContentType
}

// DownloadHandler exposes the download manager over REST.
type DownloadHandler struct {
	downloader *download.Downloader
	telemetry  *telemetry.Telemetry
}

// NewDownloadHandler creates a new download handler.
func NewDownloadHandler(dl *download.Downloader, tel *telemetry.Telemetry) *DownloadHandler {
	return &DownloadHandler{downloader: dl, telemetry: tel}
}

// Routes mounts the download endpoints.
func (h *DownloadHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/downloads", h.StartDownload)
	r.Get("/downloads", h.ListDownloads)
	r.Get("/downloads/{id}", h.GetDownload)
	r.Delete("/downloads/{id}", h.CancelDownload)
	r.Get("/downloads/{id}/stream", h.StreamDownload)

	return r
}

type startRequest struct {
	SourceID string `json:"sourceId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// StartDownload accepts a transfer request and returns the new id
// immediately; the transfer itself runs detached.
func (h *DownloadHandler) StartDownload(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("failed to decode start request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	receipt, err := h.downloader.Start(r.Context(), req.SourceID, req.UserID, req.Username)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusAccepted, receipt)
}

// GetDownload returns a single record, live or persisted.
func (h *DownloadHandler) GetDownload(w http.ResponseWriter, r *http.Request) {
	rec, err := h.downloader.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusOK, rec)
}

// ListDownloads merges active and completed downloads, optionally filtered
// by the userId query parameter.
func (h *DownloadHandler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	result, err := h.downloader.List(r.Context(), r.URL.Query().Get("userId"))
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusOK, result)
}

// CancelDownload deregisters an active download; the running transfer
// cleans up its partial file on its next chunk boundary.
func (h *DownloadHandler) CancelDownload(w http.ResponseWriter, r *http.Request) {
	if err := h.downloader.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// StreamDownload serves a finished file with byte-range support so clients
// can seek during playback.
func (h *DownloadHandler) StreamDownload(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	path, err := h.downloader.StreamPath(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.telemetry.RecordStreamRequest("not_found")
		h.writeError(w, r, err)

		return
	}

	f, err := os.Open(path)
	if err != nil {
		logger.Error("failed to open file for streaming", "file_path", path, "err", err)
		h.telemetry.RecordStreamRequest("error")
		http.Error(w, "file not available", http.StatusNotFound)

		return
	}

	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		logger.Error("failed to stat file for streaming", "file_path", path, "err", err)
		h.telemetry.RecordStreamRequest("error")
		http.Error(w, "file not available", http.StatusNotFound)

		return
	}

	h.telemetry.RecordStreamRequest("success")

	w.Header().Set("Content-Type", ContentTypeForPath(path))
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

func (h *DownloadHandler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	logger := logctx.LoggerFromContext(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "err", err)
	}
}

func (h *DownloadHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logctx.LoggerFromContext(r.Context())

	var validationErr *download.ValidationError

	switch {
	case errors.As(err, &validationErr):
		http.Error(w, validationErr.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "download not found", http.StatusNotFound)
	default:
		logger.Error("request failed", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
