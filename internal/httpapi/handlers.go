// Package httpapi holds the HTTP handlers. Keep these thin: parse and
// validate input, call internal services, return JSON.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"outdial-platform/internal/agents"
	"outdial-platform/internal/auth"
	"outdial-platform/internal/broadcast"
	"outdial-platform/internal/calls"
	"outdial-platform/internal/emotion"
	"outdial-platform/internal/events"
	"outdial-platform/internal/queue"
	"outdial-platform/internal/telephony"
	"outdial-platform/internal/transfer"
)

// Handlers groups HTTP handlers for dependency injection.
type Handlers struct {
	Auth      *auth.Manager
	Queue     *queue.Manager
	Processor *calls.Processor
	Transfers *transfer.Service
	Monitor   *emotion.Monitor
	Agents    agents.Directory
	Calls     calls.Repo
	Events    events.Log
	Hub       *broadcast.Hub
	Log       *slog.Logger
}

// --- Auth ---

type loginRequest struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: Skeleton-only endpoint; real deployments must validate credentials
// against an identity store.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.OrganizationID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, organization_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.OrganizationID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Provider webhooks ---

// TelnyxWebhook ingests provider callbacks. It always answers 200: a non-2xx
// makes the provider redeliver, and redeliveries are already handled by the
// dedupe layer, so failing the response buys nothing but retry load.
func (h Handlers) TelnyxWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	wh, err := telephony.ParseWebhook(body)
	if err != nil {
		h.Log.Warn("unparseable telnyx webhook", "error", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if err := h.Processor.HandleWebhook(c.Request.Context(), wh); err != nil {
		h.Log.Error("webhook processing failed",
			"event_type", wh.EventType, "call_control_id", wh.CallControlID, "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Queue ---

type startQueueRequest struct {
	PhoneNumberID string `json:"phone_number_id"`
}

func (h Handlers) StartQueue(c *gin.Context) {
	campaignID := c.Param("campaign_id")
	var req startQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.PhoneNumberID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone_number_id required"})
		return
	}

	st, err := h.Queue.StartQueue(c.Request.Context(), campaignID, req.PhoneNumberID)
	if errors.Is(err, queue.ErrQueueAlreadyRunning) {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "queue already running"})
		return
	}
	if errors.Is(err, queue.ErrCampaignNotEligible) {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.Log.Error("start queue failed", "campaign_id", campaignID, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "start queue failed"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h Handlers) StopQueue(c *gin.Context) {
	st, err := h.Queue.StopQueue(c.Param("campaign_id"))
	if errors.Is(err, queue.ErrQueueNotRunning) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "queue not running"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stop queue failed"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h Handlers) QueueStatus(c *gin.Context) {
	st, err := h.Queue.GetStatus(c.Param("campaign_id"))
	if errors.Is(err, queue.ErrQueueNotRunning) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no queue for campaign"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status lookup failed"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// --- Calls ---

func (h Handlers) GetCall(c *gin.Context) {
	call, ok := h.lookupCall(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) ListCallEvents(c *gin.Context) {
	call, ok := h.lookupCall(c)
	if !ok {
		return
	}
	entries, err := h.Events.ListByCall(c.Request.Context(), call.ID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": call.ID, "events": entries})
}

// lookupCall fetches the call and enforces tenancy. On failure it writes
// the response and reports false.
func (h Handlers) lookupCall(c *gin.Context) (calls.Call, bool) {
	orgID, err := auth.OrganizationID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "organization_id required"})
		return calls.Call{}, false
	}

	call, err := h.Calls.Get(c.Request.Context(), c.Param("call_id"))
	if errors.Is(err, calls.ErrNotFound) || (err == nil && call.OrganizationID != orgID) {
		// A foreign call looks identical to a missing one.
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return calls.Call{}, false
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return calls.Call{}, false
	}
	return call, true
}

// --- Transfers ---

type transferRequest struct {
	CallID  string `json:"call_id"`
	ToAgent string `json:"to_agent,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (h Handlers) RequestTransfer(c *gin.Context) {
	orgID, err := auth.OrganizationID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "organization_id required"})
		return
	}
	userID, _ := auth.UserID(c.Request.Context())

	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.CallID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return
	}

	tr, err := h.Transfers.RequestTransfer(c.Request.Context(), transfer.RequestParams{
		OrganizationID: orgID,
		CallID:         req.CallID,
		FromAgent:      userID,
		ToAgent:        req.ToAgent,
		Reason:         req.Reason,
	})
	if errors.Is(err, agents.ErrNoAgentAvailable) {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "no agent available"})
		return
	}
	if err != nil {
		h.Log.Error("transfer request failed", "call_id", req.CallID, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "transfer request failed"})
		return
	}
	c.JSON(http.StatusCreated, tr)
}

func (h Handlers) AcceptTransfer(c *gin.Context) {
	h.resolveTransfer(c, h.Transfers.Accept)
}

func (h Handlers) RejectTransfer(c *gin.Context) {
	h.resolveTransfer(c, h.Transfers.Reject)
}

func (h Handlers) CompleteTransfer(c *gin.Context) {
	h.resolveTransfer(c, h.Transfers.Complete)
}

func (h Handlers) resolveTransfer(c *gin.Context, op func(ctx context.Context, requestID, agentID string) (transfer.Request, error)) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}

	tr, err := op(c.Request.Context(), c.Param("transfer_id"), userID)
	switch {
	case errors.Is(err, transfer.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "transfer not found"})
	case errors.Is(err, transfer.ErrNotAuthorized):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not your transfer"})
	case errors.Is(err, transfer.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "transfer not in required state"})
	case errors.Is(err, transfer.ErrExpired):
		c.AbortWithStatusJSON(http.StatusGone, gin.H{"error": "transfer expired"})
	case err != nil:
		h.Log.Error("transfer operation failed", "transfer_id", c.Param("transfer_id"), "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "transfer operation failed"})
	default:
		c.JSON(http.StatusOK, tr)
	}
}

func (h Handlers) PendingTransfers(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	pending, err := h.Transfers.PendingForAgent(c.Request.Context(), userID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "pending lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfers": pending})
}

// --- Alerts ---

type resolveAlertRequest struct {
	Notes string `json:"notes,omitempty"`
}

func (h Handlers) ResolveAlert(c *gin.Context) {
	orgID, err := auth.OrganizationID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "organization_id required"})
		return
	}
	userID, _ := auth.UserID(c.Request.Context())

	// Notes are optional; an empty body is fine.
	var req resolveAlertRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	a, err := h.Monitor.Resolve(c.Request.Context(), orgID, c.Param("alert_id"), userID, req.Notes)
	if errors.Is(err, emotion.ErrNotFound) {
		// Covers missing, already resolved, and foreign-organization alerts.
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "alert not found or already resolved"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "resolve failed"})
		return
	}
	c.JSON(http.StatusOK, a)
}

// --- Agents ---

type availabilityRequest struct {
	Available *bool `json:"available"`
}

func (h Handlers) SetAvailability(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}

	var req availabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Available == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "available required"})
		return
	}

	if err := h.Agents.SetAvailable(c.Request.Context(), userID, *req.Available, time.Now().UTC()); err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": userID, "available": *req.Available})
}

// --- Live events ---

// Subscribe upgrades to WebSocket and attaches the caller to their
// organization's event stream.
func (h Handlers) Subscribe(c *gin.Context) {
	orgID, err := auth.OrganizationID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "organization_id required"})
		return
	}
	h.Hub.ServeWS(c.Writer, c.Request, orgID)
}
