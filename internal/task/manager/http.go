package manager

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/OpenAds/loader/internal/auth"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// HandleListTasks is an HTTP handler listing the caller's tasks
func (m *Manager) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.GetAuthContext(r.Context())
	if authCtx == nil {
		writeJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"tasks": m.Tasks(authCtx.TenantID())})
}

// HandleRetryTask is an HTTP handler starting the retry cycle of a finished task
func (m *Manager) HandleRetryTask(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.GetAuthContext(r.Context())
	if authCtx == nil {
		writeJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	name := r.PathValue("name")
	if name == "" {
		writeJSONError(w, http.StatusBadRequest, "task name is required")
		return
	}

	if err := m.Retry(authCtx.TenantID(), name); err != nil {
		switch {
		case errors.Is(err, ErrTaskNotFound):
			writeJSONError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ErrTaskAlreadyRunning):
			writeJSONError(w, http.StatusConflict, err.Error())
		default:
			slog.ErrorContext(r.Context(), "failed to retry task", "taskName", name, "error", err)
			writeJSONError(w, http.StatusInternalServerError, "failed to retry task")
		}
		return
	}

	writeJSONResponse(w, http.StatusAccepted, errorResponse{Success: true})
}

func writeJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSONResponse(w, status, errorResponse{
		Success: false,
		Error:   message,
	})
}
