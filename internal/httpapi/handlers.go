package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"crm-telephony/internal/orchestrator"
	"crm-telephony/internal/telephony"
	"crm-telephony/pkg/logger"
)

// Handlers exposes the call engine over HTTP. Handlers stay thin: every
// decision lives in the orchestrator, and responses only reshape its
// results.
type Handlers struct {
	Orch *orchestrator.Orchestrator
}

type dialRequest struct {
	Number   string `json:"number" binding:"required"`
	EntityID string `json:"entity_id"`
}

// Dial handles POST /v1/calls/dial.
func (h Handlers) Dial(c *gin.Context) {
	var req dialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "number is required"})
		return
	}
	if err := h.Orch.Dial(c.Request.Context(), req.Number, req.EntityID); err != nil {
		h.callError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Orch.View())
}

// End handles POST /v1/calls/end. Ending is always accepted.
func (h Handlers) End(c *gin.Context) {
	h.Orch.EndCall(c.Request.Context())
	c.JSON(http.StatusOK, h.Orch.View())
}

// Answer handles POST /v1/calls/answer.
func (h Handlers) Answer(c *gin.Context) {
	if err := h.Orch.AnswerIncoming(c.Request.Context()); err != nil {
		h.callError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Orch.View())
}

// Reject handles POST /v1/calls/reject.
func (h Handlers) Reject(c *gin.Context) {
	if err := h.Orch.RejectIncoming(c.Request.Context()); err != nil {
		h.callError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Orch.View())
}

type dtmfRequest struct {
	Digits string `json:"digits" binding:"required"`
}

// DTMF handles POST /v1/calls/dtmf. An unsupported or out-of-call send
// reports applied=false, never an error status.
func (h Handlers) DTMF(c *gin.Context) {
	var req dtmfRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "digits are required"})
		return
	}
	applied, err := h.Orch.SendDTMF(c.Request.Context(), req.Digits)
	if err != nil {
		h.callError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

// Mute handles POST /v1/calls/mute.
func (h Handlers) Mute(c *gin.Context) {
	muted, err := h.Orch.ToggleMute(c.Request.Context())
	if err != nil {
		h.callError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_muted": muted})
}

// Hold handles POST /v1/calls/hold.
func (h Handlers) Hold(c *gin.Context) {
	held, err := h.Orch.ToggleHold(c.Request.Context())
	if err != nil {
		h.callError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_on_hold": held})
}

// Current handles GET /v1/calls/current.
func (h Handlers) Current(c *gin.Context) {
	view := h.Orch.View()
	resp := gin.H{
		"view":     view,
		"incoming": h.Orch.Incoming(),
	}
	c.JSON(http.StatusOK, resp)
}

// History handles GET /v1/calls/history.
func (h Handlers) History(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = n
	}
	records, err := h.Orch.History(c.Request.Context(), limit)
	if err != nil {
		logger.FromGin(c).Error("history list failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// Logs handles GET /v1/calls/logs, proxying the provider's own log view.
func (h Handlers) Logs(c *gin.Context) {
	var r telephony.LogRange
	if v := c.Query("from"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be a unix timestamp"})
			return
		}
		r.From = time.Unix(ts, 0).UTC()
	}
	if v := c.Query("to"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be a unix timestamp"})
			return
		}
		r.To = time.Unix(ts, 0).UTC()
	}
	logs, err := h.Orch.FetchCallLogs(c.Request.Context(), r)
	if err != nil {
		h.callError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// Provider handles GET /v1/provider.
func (h Handlers) Provider(c *gin.Context) {
	view := h.Orch.View()
	c.JSON(http.StatusOK, gin.H{"provider": view.Provider, "capabilities": view.Caps})
}

type providerRequest struct {
	Provider string `json:"provider" binding:"required"`
	UserID   string `json:"user_id" binding:"required"`
}

// SetProvider handles POST /v1/provider. Switching during a live session
// is rejected with 409 and leaves the current provider untouched.
func (h Handlers) SetProvider(c *gin.Context) {
	var req providerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "provider and user_id are required"})
		return
	}
	dev, err := h.Orch.UseProvider(c.Request.Context(), req.Provider, req.UserID)
	if err != nil {
		h.callError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device": dev})
}

type smsRequest struct {
	To   string `json:"to" binding:"required"`
	Body string `json:"body" binding:"required"`
}

// SMS handles POST /v1/sms.
func (h Handlers) SMS(c *gin.Context) {
	var req smsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to and body are required"})
		return
	}
	res, err := h.Orch.SendSMS(c.Request.Context(), req.To, req.Body)
	if err != nil {
		h.callError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type incomingWebhook struct {
	Provider       string `json:"provider"`
	ProviderCallID string `json:"provider_call_id" binding:"required"`
	From           string `json:"from" binding:"required"`
	To             string `json:"to"`
}

// IncomingWebhook handles POST /webhooks/telephony/incoming. The payload
// matches the device push shape so both channels converge before the
// orchestrator sees them.
func (h Handlers) IncomingWebhook(c *gin.Context) {
	var req incomingWebhook
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "provider_call_id and from are required"})
		return
	}
	h.Orch.HandleIncoming(telephony.IncomingEvent{
		Provider:       req.Provider,
		ProviderCallID: req.ProviderCallID,
		From:           req.From,
		To:             req.To,
		OccurredAt:     time.Now().UTC(),
	})
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

type statusWebhook struct {
	ProviderCallID string `json:"provider_call_id" binding:"required"`
	Status         string `json:"status" binding:"required"`
	Reason         string `json:"reason"`
}

// StatusWebhook handles POST /webhooks/telephony/status: backend call
// progress for providers without a push channel.
func (h Handlers) StatusWebhook(c *gin.Context) {
	var req statusWebhook
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "provider_call_id and status are required"})
		return
	}
	ctx := c.Request.Context()
	switch req.Status {
	case "answered":
		h.Orch.HandleCallAccepted(ctx, req.ProviderCallID)
	case "completed":
		h.Orch.HandleCallDisconnected(ctx, req.ProviderCallID)
	case "failed":
		h.Orch.HandleCallFailed(ctx, req.ProviderCallID, req.Reason)
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "status must be answered, completed or failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// callError maps engine errors onto HTTP statuses.
func (h Handlers) callError(c *gin.Context, err error) {
	var invalid *telephony.InvalidNumberError
	var switchRejected *telephony.SwitchRejectedError
	var providerReq *telephony.ProviderRequestError

	switch {
	case errors.As(err, &invalid):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": invalid.Error(), "reason": invalid.Reason})
	case errors.As(err, &switchRejected):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": switchRejected.Error()})
	case errors.Is(err, orchestrator.ErrCallInProgress):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, orchestrator.ErrNoIncomingCall):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, orchestrator.ErrNoProvider), errors.Is(err, telephony.ErrUnknownProvider):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &providerReq):
		logger.FromGin(c).Error("provider request failed", "endpoint", providerReq.Endpoint, "status", providerReq.Status)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "provider request failed"})
	default:
		logger.FromGin(c).Error("call operation failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
