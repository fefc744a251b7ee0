package campaignload

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/OpenAds/loader/internal/auth"
	"github.com/OpenAds/loader/internal/task/manager"
	"github.com/OpenAds/loader/internal/task/persistence"
	"github.com/OpenAds/loader/utils"
)

type apiResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// LoadListResult is a page of a tenant's campaign loads.
type LoadListResult struct {
	TotalCount int64                    `json:"totalCount"`
	Loads      []persistence.LoadRecord `json:"loads"`
	Offset     int                      `json:"offset"`
	Limit      int                      `json:"limit"`
}

// HTTPHandler serves the campaign load and platform account routes.
type HTTPHandler struct {
	service  *Service
	accounts *Accounts
}

func NewHTTPHandler(service *Service, accounts *Accounts) *HTTPHandler {
	return &HTTPHandler{service: service, accounts: accounts}
}

// HandleCreateLoad handles POST /api/campaign-loads
func (h *HTTPHandler) HandleCreateLoad(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.GetAuthContext(r.Context())
	if authCtx == nil {
		writeJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var load Load
	if err := json.NewDecoder(r.Body).Decode(&load); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, err := h.service.Start(r.Context(), authCtx.TenantID(), load)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidLoad):
			writeJSONError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, manager.ErrTaskAlreadyRunning):
			writeJSONError(w, http.StatusConflict, err.Error())
		default:
			slog.ErrorContext(r.Context(), "failed to start campaign load", "tenantID", authCtx.TenantID(), "error", err)
			writeJSONError(w, http.StatusInternalServerError, "failed to start campaign load")
		}
		return
	}

	writeJSONResponse(w, http.StatusAccepted, apiResponse{Success: true, Data: record})
}

// HandleListLoads handles GET /api/campaign-loads?offset={offset}&limit={limit}
func (h *HTTPHandler) HandleListLoads(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.GetAuthContext(r.Context())
	if authCtx == nil {
		writeJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	offset, limit, err := utils.PaginationFromQuery(r.URL.Query())
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	loads, total, err := h.service.List(r.Context(), authCtx.TenantID(), offset, limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list campaign loads", "tenantID", authCtx.TenantID(), "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list campaign loads")
		return
	}

	writeJSONResponse(w, http.StatusOK, LoadListResult{TotalCount: total, Loads: loads, Offset: offset, Limit: limit})
}

// HandleGetLoad handles GET /api/campaign-loads/{id}
func (h *HTTPHandler) HandleGetLoad(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.GetAuthContext(r.Context())
	if authCtx == nil {
		writeJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid campaign load id")
		return
	}

	record, err := h.service.Get(r.Context(), authCtx.TenantID(), id)
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "failed to get campaign load", "id", id, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to get campaign load")
		return
	}

	writeJSONResponse(w, http.StatusOK, record)
}

// HandleConnectAccount handles POST /api/accounts
func (h *HTTPHandler) HandleConnectAccount(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.GetAuthContext(r.Context())
	if authCtx == nil {
		writeJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req ConnectAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, err := h.accounts.Connect(r.Context(), authCtx.TenantID(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAccount), errors.Is(err, persistence.ErrInvalidAccount):
			writeJSONError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrAdvertiserLookup):
			writeJSONError(w, http.StatusBadGateway, err.Error())
		default:
			slog.ErrorContext(r.Context(), "failed to connect platform account", "tenantID", authCtx.TenantID(), "error", err)
			writeJSONError(w, http.StatusInternalServerError, "failed to connect platform account")
		}
		return
	}

	writeJSONResponse(w, http.StatusCreated, account)
}

// HandleListAccounts handles GET /api/accounts
func (h *HTTPHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.GetAuthContext(r.Context())
	if authCtx == nil {
		writeJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	accounts, err := h.accounts.List(r.Context(), authCtx.TenantID())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list platform accounts", "tenantID", authCtx.TenantID(), "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list platform accounts")
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func writeJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSONResponse(w, status, apiResponse{Success: false, Error: message})
}
