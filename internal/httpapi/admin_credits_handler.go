package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"charstudio/internal/credits"
	"charstudio/internal/metrics"
	"charstudio/internal/models"
	"charstudio/internal/utils"
)

// AdminCreditsHandler serves the credit administration endpoints.
type AdminCreditsHandler struct {
	service credits.Service
	metrics *metrics.Metrics
}

// NewAdminCreditsHandler creates a new admin credits handler
func NewAdminCreditsHandler(service credits.Service, m *metrics.Metrics) *AdminCreditsHandler {
	return &AdminCreditsHandler{service: service, metrics: m}
}

// GrantRequest represents the request to grant credits to a user
type GrantRequest struct {
	UserID string `json:"user_id"`
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

// RefundRequest represents the request to refund credits to a user
type RefundRequest struct {
	UserID      string `json:"user_id"`
	Amount      int    `json:"amount"`
	APIEndpoint string `json:"api_endpoint,omitempty"`
	Reason      string `json:"reason"`
}

// UpsertConfigRequest represents the request to create or update a cost rule
type UpsertConfigRequest struct {
	Endpoint    string `json:"endpoint"`
	Method      string `json:"method"`
	CreditCost  int    `json:"credit_cost"`
	Description string `json:"description,omitempty"`
	IsEnabled   *bool  `json:"is_enabled,omitempty"`
}

// Grant handles POST /admin/credits/grant
func (h *AdminCreditsHandler) Grant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid user_id")
		return
	}
	if req.Amount <= 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "Amount must be positive")
		return
	}
	if req.Reason == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Reason is required")
		return
	}

	tx, err := h.service.GrantCredits(r.Context(), userID, req.Amount, req.Reason)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to grant credits")
		return
	}

	if h.metrics != nil {
		h.metrics.CreditsGranted.Add(float64(req.Amount))
	}
	utils.RespondWithJSON(w, http.StatusCreated, tx)
}

// Refund handles POST /admin/credits/refund
func (h *AdminCreditsHandler) Refund(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid user_id")
		return
	}
	if req.Amount <= 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "Amount must be positive")
		return
	}

	tx, err := h.service.RefundCredits(r.Context(), userID, req.Amount, req.APIEndpoint, req.Reason)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to refund credits")
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, tx)
}

// Configs handles /admin/credits/configs - GET lists the catalog, PUT
// creates or updates a rule.
func (h *AdminCreditsHandler) Configs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listConfigs(w, r)
	case http.MethodPut, http.MethodPost:
		h.upsertConfig(w, r)
	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *AdminCreditsHandler) listConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.service.ListAPICostConfigs(r.Context())
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list cost configs")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"configs": configs,
		"count":   len(configs),
	})
}

func (h *AdminCreditsHandler) upsertConfig(w http.ResponseWriter, r *http.Request) {
	var req UpsertConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if req.Endpoint == "" || req.Method == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Endpoint and method are required")
		return
	}
	if req.CreditCost < 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "Credit cost must be non-negative")
		return
	}

	enabled := true
	if req.IsEnabled != nil {
		enabled = *req.IsEnabled
	}

	saved, err := h.service.UpsertAPICostConfig(r.Context(), models.APICostConfig{
		Endpoint:    req.Endpoint,
		Method:      req.Method,
		CreditCost:  req.CreditCost,
		Description: req.Description,
		IsEnabled:   enabled,
	})
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to upsert cost config")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, saved)
}
