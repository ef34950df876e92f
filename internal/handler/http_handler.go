// Package handler exposes the approval workflow over HTTP. Handlers are thin:
// they parse input, build the acting principal, call a service and shape the
// response. All business logic lives in internal/service.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/receiptly/be-approvals/internal/apperrors"
	"github.com/receiptly/be-approvals/internal/repository"
	"github.com/receiptly/be-approvals/internal/service"
)

// HTTPHandler handles HTTP requests.
type HTTPHandler struct {
	engine      *service.RuleEngine
	approvals   *service.ApprovalService
	rules       *service.RuleService
	delegations *service.DelegationService
	audit       *repository.AuditRepository
	log         zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	engine *service.RuleEngine,
	approvals *service.ApprovalService,
	rules *service.RuleService,
	delegations *service.DelegationService,
	audit *repository.AuditRepository,
	log zerolog.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		engine:      engine,
		approvals:   approvals,
		rules:       rules,
		delegations: delegations,
		audit:       audit,
		log:         log,
	}
}

// principal builds the acting principal from the gateway-injected identity
// headers. Authentication itself happens upstream; an absent identity is a 401.
func principal(r *http.Request) (service.Principal, error) {
	p := service.Principal{
		ID:        r.Header.Get("X-User-Id"),
		CompanyID: r.Header.Get("X-Company-Id"),
		Role:      r.Header.Get("X-User-Role"),
	}
	if p.ID == "" || p.CompanyID == "" {
		return service.Principal{}, apperrors.New(apperrors.ErrCodeForbidden, "missing identity headers")
	}
	return p, nil
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *HTTPHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

// ── Rules ────────────────────────────────────────────────────────────────────

type ruleRequest struct {
	Name              string                        `json:"name"`
	Description       *string                       `json:"description"`
	IsActive          bool                          `json:"is_active"`
	Priority          int                           `json:"priority"`
	AmountThreshold   *decimal.Decimal              `json:"amount_threshold"`
	Categories        []string                      `json:"categories"`
	Vendors           []string                      `json:"vendors"`
	TimeWindowMinutes *int                          `json:"time_window_minutes"`
	UserRoles         []string                      `json:"user_roles"`
	RequiresApproval  bool                          `json:"requires_approval"`
	AutoApprove       bool                          `json:"auto_approve"`
	Approvers         []string                      `json:"approvers"`
	EscalationChain   []string                      `json:"escalation_chain"`
	Notifications     repository.NotificationConfig `json:"notifications"`
}

func (req *ruleRequest) toInput() service.RuleInput {
	return service.RuleInput{
		Name:              req.Name,
		Description:       req.Description,
		IsActive:          req.IsActive,
		Priority:          req.Priority,
		AmountThreshold:   req.AmountThreshold,
		Categories:        req.Categories,
		Vendors:           req.Vendors,
		TimeWindowMinutes: req.TimeWindowMinutes,
		UserRoles:         req.UserRoles,
		RequiresApproval:  req.RequiresApproval,
		AutoApprove:       req.AutoApprove,
		Approvers:         req.Approvers,
		EscalationChain:   req.EscalationChain,
		Notifications:     req.Notifications,
	}
}

// CreateRule handles rule creation.
func (h *HTTPHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	actor, err := principal(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperrors.InvalidInput("body", "invalid request body"))
		return
	}

	rule, err := h.rules.CreateRule(r.Context(), actor, req.toInput())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

// ListRules handles rule listing. ?active_only=true restricts to active rules.
func (h *HTTPHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	actor, err := principal(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	activeOnly := r.URL.Query().Get("active_only") == "true"
	rules, err := h.rules.ListRules(r.Context(), actor, activeOnly)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// GetRule handles single-rule fetches by ?id=.
func (h *HTTPHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	actor, err := principal(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		h.respondError(w, r, apperrors.InvalidInput("id", "rule id is required"))
		return
	}

	rule, err := h.rules.GetRule(r.Context(), actor, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// UpdateRule handles full-rule updates.
func (h *HTTPHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	actor, err := principal(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		h.respondError(w, r, apperrors.InvalidInput("id", "rule id is required"))
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperrors.InvalidInput("body", "invalid request body"))
		return
	}

	rule, err := h.rules.UpdateRule(r.Context(), actor, id, req.toInput())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// DeactivateRule handles rule deactivation.
func (h *HTTPHandler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	actor, err := principal(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		h.respondError(w, r, apperrors.InvalidInput("id", "rule id is required"))
		return
	}

	if err := h.rules.DeactivateRule(r.Context(), actor, req.ID); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// ── Approvals ────────────────────────────────────────────────────────────────

// Evaluate handles dry-run rule evaluation for a candidate submission.
func (h *HTTPHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	actor, err := principal(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req struct {
		Amount   decimal.Decimal `json:"amount"`
		Category string          `json:"category"`
		Vendor   *string         `json:"vendor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperrors.InvalidInput("body", "invalid request body"))
		return
	}

	requirement, err := h.engine.Evaluate(r.Context(), actor.CompanyID, service.Submission{
		Amount:        req.Amount,
		Category:      req.Category,
		Vendor:        req.Vendor,
		SubmitterRole: actor.Role,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, requirement)
}

// Submit evaluates a receipt submission and, when approval is required,
// opens the approval request in one call.
func (h *HTTPHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, err := principal(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req struct {
		ReceiptID string          `json:"receipt_id"`
		Amount    decimal.Decimal `json:"amount"`
		Category  string          `json:"category"`
		Vendor    *string         `json:"vendor"`
		Reason    *string         `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperrors.InvalidInput("body", "invalid request body"))
		return
	}

	requirement, err := h.engine.Evaluate(r.Context(), actor.CompanyID, service.Submission{
		Amount:        req.Amount,
		Category:      req.Category,
		Vendor:        req.Vendor,
		SubmitterRole: actor.Role,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if !requirement.RequiresApproval {
		respondJSON(w, http.StatusOK, map[string]any{"requires_approval": false})
		return
	}

	request, err := h.approvals.CreateRequest(r.Context(), service.CreateRequestInput{
		ReceiptID:   req.ReceiptID,
		SubmitterID: actor.ID,
		CompanyID:   actor.CompanyID,
		RuleID:      requirement.Rule.ID,
		Amount:      req.Amount,
		Category:    req.Category,
		Vendor:      req.Vendor,
		Reason:      req.Reason,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"requires_approval": true,
		"request":           request,
	})
}

// GetRequest handles single-request fetches by ?id=.
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	actor, err := principal(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		h.respondError(w, r, apperrors.InvalidInput("id", "request id is required"))
		return
	}

	request, err := h.approvals.GetRequest(r.Context(), id, actor)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, request)
}

// Action handles approve / reject / request_info decisions.
func (h *HTTPHandler) Action(w http.ResponseWriter, r *http.Request) {
	actor, err := principal(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req struct {
		RequestID string  `json:"request_id"`
		Action    string  `json:"action"`
		Comments  *string `json:"comments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperrors.InvalidInput("body", "invalid request body"))
		return
	}

	request, err := h.approvals.ProcessApprovalAction(r.Context(), req.RequestID, actor, service.Action(req.Action), req.Comments)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, request)
}

// Escalate advances a request to the next escalation tier.
func (h *HTTPHandler) Escalate(w http.ResponseWriter, r *http.Request) {
	actor, err := principal(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req struct {
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RequestID == "" {
		h.respondError(w, r, apperrors.InvalidInput("request_id", "request id is required"))
		return
	}

	request, err := h.approvals.EscalateApproval(r.Context(), req.RequestID, actor)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, request)
}

// PendingApprovals lists all live requests awaiting the caller's action.
func (h *HTTPHandler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	actor, err := principal(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	requests, err := h.approvals.GetPendingApprovalsForUser(r.Context(), actor)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

// AuditTrail returns the audit history for one approval request.
func (h *HTTPHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	if _, err := principal(r); err != nil {
		h.respondError(w, r, err)
		return
	}

	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		h.respondError(w, r, apperrors.InvalidInput("request_id", "request id is required"))
		return
	}

	entries, err := h.audit.ListByResource(r.Context(), "approval_request", requestID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ── Delegations ──────────────────────────────────────────────────────────────

// CreateDelegation grants the caller's approval authority to another user.
func (h *HTTPHandler) CreateDelegation(w http.ResponseWriter, r *http.Request) {
	actor, err := principal(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req struct {
		DelegateToID string           `json:"delegate_to_id"`
		StartDate    time.Time        `json:"start_date"`
		EndDate      time.Time        `json:"end_date"`
		MaxAmount    *decimal.Decimal `json:"max_amount"`
		Categories   []string         `json:"categories"`
		Reason       string           `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperrors.InvalidInput("body", "invalid request body"))
		return
	}

	delegation, err := h.delegations.CreateDelegation(r.Context(), actor, service.CreateDelegationInput{
		DelegateToID: req.DelegateToID,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		MaxAmount:    req.MaxAmount,
		Categories:   req.Categories,
		Reason:       req.Reason,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, delegation)
}

// ListDelegations lists the caller's delegations. ?history=true includes
// expired ones.
func (h *HTTPHandler) ListDelegations(w http.ResponseWriter, r *http.Request) {
	actor, err := principal(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var (
		delegations []*repository.ApprovalDelegation
		err2        error
	)
	if r.URL.Query().Get("history") == "true" {
		delegations, err2 = h.delegations.ListDelegationHistory(r.Context(), actor)
	} else {
		delegations, err2 = h.delegations.ListActiveDelegations(r.Context(), actor)
	}
	if err2 != nil {
		h.respondError(w, r, err2)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"delegations": delegations})
}
