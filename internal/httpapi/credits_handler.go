package httpapi

import (
	"net/http"
	"strconv"

	"charstudio/internal/credits"
	"charstudio/internal/middleware"
	"charstudio/internal/utils"
)

// CreditsHandler serves the user-facing credit endpoints.
type CreditsHandler struct {
	service credits.Service
}

// NewCreditsHandler creates a new credits handler
func NewCreditsHandler(service credits.Service) *CreditsHandler {
	return &CreditsHandler{service: service}
}

// GetBalance handles GET /api/credits - current balance for the caller
func (h *CreditsHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Missing user identity")
		return
	}

	uc, err := h.service.GetUserCredits(r.Context(), userID)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to get credits")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, uc)
}

// GetHistory handles GET /api/credits/history - paginated ledger, newest first
func (h *CreditsHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Missing user identity")
		return
	}

	limit := parseIntParam(r, "limit", 0)
	offset := parseIntParam(r, "offset", 0)

	history, err := h.service.GetCreditHistory(r.Context(), userID, limit, offset)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to get credit history")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": history,
		"limit":        limit,
		"offset":       offset,
	})
}

func parseIntParam(r *http.Request, name string, defaultValue int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return val
}
