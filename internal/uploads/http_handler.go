package uploads

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/OpenAds/loader/internal/auth"
	"github.com/OpenAds/loader/internal/uploads/drivers"
)

const maxUploadMemory = 32 << 20

type HTTPHandler struct {
	Library *MediaLibrary
}

func NewHTTPHandler(library *MediaLibrary) *HTTPHandler {
	return &HTTPHandler{Library: library}
}

// Upload handles POST /api/media/{kind} with a multipart "file" field.
func (h *HTTPHandler) Upload(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.GetAuthContext(r.Context())
	if authCtx == nil {
		writeJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	kind, ok := ParseKind(r.PathValue("kind"))
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "unknown media kind")
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to parse form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	metadata, err := h.Library.Upload(r.Context(), authCtx.TenantID(), kind, header.Filename, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		if errors.Is(err, ErrUnsupportedMimeType) {
			writeJSONError(w, http.StatusUnsupportedMediaType, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "Upload failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	writeJSONResponse(w, http.StatusCreated, metadata)
}

// Download handles GET /api/media/{kind}/{id}. The route is public so the
// ads platform can fetch creatives by URL.
func (h *HTTPHandler) Download(w http.ResponseWriter, r *http.Request) {
	kind, ok := ParseKind(r.PathValue("kind"))
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "unknown media kind")
		return
	}

	id, err := uuid.Parse(stripExt(r.PathValue("id")))
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "file not found")
		return
	}

	reader, contentType, err := h.Library.Open(r.Context(), kind, id)
	if err != nil {
		if errors.Is(err, ErrMediaNotFound) || errors.Is(err, drivers.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "file not found")
			return
		}
		slog.ErrorContext(r.Context(), "Download failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "download failed")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", contentType)
	if _, err := io.Copy(w, reader); err != nil {
		slog.WarnContext(r.Context(), "media download interrupted", "id", id, "error", err)
	}
}

// stripExt drops a file extension, so storage URLs like video/<id>.mp4 resolve.
func stripExt(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}

func writeJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSONResponse(w, status, map[string]string{"error": message})
}
