// services/ess/internal/api/handlers.go
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"example.com/backstage/services/ess/internal/core"
	"github.com/gin-gonic/gin"
)

const defaultRecordCount = 10

// APIHandlers holds all HTTP handlers.
type APIHandlers struct {
	session *core.SessionManager
}

// NewAPIHandlers creates a new handler instance.
func NewAPIHandlers(session *core.SessionManager) *APIHandlers {
	return &APIHandlers{session: session}
}

// HealthCheck returns service health status.
func (h *APIHandlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"service":   "ess-session-api",
	})
}

// --- Query Surface ---

// SessionSummary returns the connection summary.
func (h *APIHandlers) SessionSummary(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Summary())
}

// StateSnapshot returns the latest snapshot of one telemetry subsystem.
func (h *APIHandlers) StateSnapshot(c *gin.Context) {
	function := c.Param("function")

	snapshot, ok := h.session.Snapshot(function)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown state subsystem"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"function": function,
		"body":     snapshot,
	})
}

// EventLog returns the most recent events, newest first.
func (h *APIHandlers) EventLog(c *gin.Context) {
	events := h.session.EventTail(countParam(c))
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// ChargeRecords returns charge records by count or order identifier.
func (h *APIHandlers) ChargeRecords(c *gin.Context) {
	records := h.session.ChargeRecords(countParam(c), c.Query("order_sn"))
	c.JSON(http.StatusOK, gin.H{
		"records":     records,
		"count":       len(records),
		"total_money": h.session.TotalCost(),
	})
}

// DischargeRecords returns discharge records by count or order identifier.
func (h *APIHandlers) DischargeRecords(c *gin.Context) {
	records := h.session.DischargeRecords(countParam(c), c.Query("order_sn"))
	c.JSON(http.StatusOK, gin.H{
		"records":     records,
		"count":       len(records),
		"total_money": h.session.TotalCost(),
	})
}

// CommandHistory returns the recent command history tail.
func (h *APIHandlers) CommandHistory(c *gin.Context) {
	history := h.session.CommandHistory(countParam(c))
	c.JSON(http.StatusOK, gin.H{
		"history": history,
		"count":   len(history),
	})
}

// Commands returns the recent pending/completed command entries.
func (h *APIHandlers) Commands(c *gin.Context) {
	commands := h.session.Commands(countParam(c))
	c.JSON(http.StatusOK, gin.H{
		"commands": commands,
		"count":    len(commands),
	})
}

// CommandByIndex returns one command entry by message index.
func (h *APIHandlers) CommandByIndex(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message index"})
		return
	}

	cmd, ok := h.session.Command(index)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "command not found"})
		return
	}
	c.JSON(http.StatusOK, cmd)
}

// --- Command Surface ---

// PowerControl issues a charge start, discharge start or shutdown command.
func (h *APIHandlers) PowerControl(c *gin.Context) {
	var req struct {
		Action string `json:"action" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format", "details": err.Error()})
		return
	}

	var (
		index int
		err   error
	)
	switch req.Action {
	case "charge":
		index, err = h.session.StartCharge()
	case "discharge":
		index, err = h.session.StartDischarge()
	case "shutdown":
		index, err = h.session.Shutdown()
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be charge, discharge or shutdown"})
		return
	}

	h.respondIssued(c, index, err)
}

// PowerAdjust issues a charge or discharge power adjustment.
func (h *APIHandlers) PowerAdjust(c *gin.Context) {
	var req struct {
		Mode string `json:"mode" binding:"required"`
		core.PowerAdjustRequest
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format", "details": err.Error()})
		return
	}

	var (
		index int
		err   error
	)
	switch req.Mode {
	case "charge":
		index, err = h.session.AdjustChargePower(req.PowerAdjustRequest)
	case "discharge":
		index, err = h.session.AdjustDischargePower(req.PowerAdjustRequest)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be charge or discharge"})
		return
	}

	h.respondIssued(c, index, err)
}

// RateModel issues a charge or discharge rate-model set.
func (h *APIHandlers) RateModel(c *gin.Context) {
	var req struct {
		Mode string `json:"mode" binding:"required"`
		core.RateModelRequest
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format", "details": err.Error()})
		return
	}

	var (
		index int
		err   error
	)
	switch req.Mode {
	case "charge":
		index, err = h.session.SetChargeRateModel(req.RateModelRequest)
	case "discharge":
		index, err = h.session.SetDischargeRateModel(req.RateModelRequest)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be charge or discharge"})
		return
	}

	h.respondIssued(c, index, err)
}

// SOCLimit issues a charge or discharge state-of-charge limit.
func (h *APIHandlers) SOCLimit(c *gin.Context) {
	var req struct {
		Mode string `json:"mode" binding:"required"`
		core.SOCLimitRequest
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format", "details": err.Error()})
		return
	}

	var (
		index int
		err   error
	)
	switch req.Mode {
	case "charge":
		index, err = h.session.SetChargeSOCLimit(req.SOCLimitRequest)
	case "discharge":
		index, err = h.session.SetDischargeSOCLimit(req.SOCLimitRequest)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be charge or discharge"})
		return
	}

	h.respondIssued(c, index, err)
}

// --- Topic Administration ---

// SetTopicMode switches between derived and explicit topic resolution.
func (h *APIHandlers) SetTopicMode(c *gin.Context) {
	var req struct {
		Derived *bool `json:"derived" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	h.session.SetTopicMode(*req.Derived)
	c.JSON(http.StatusOK, gin.H{"derived": *req.Derived})
}

// SetTopicOverride pins an explicit topic for one category/direction slot.
func (h *APIHandlers) SetTopicOverride(c *gin.Context) {
	var req struct {
		Category  string `json:"category" binding:"required"`
		Direction string `json:"direction" binding:"required"`
		Topic     string `json:"topic" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	err := h.session.SetTopicOverride(core.Category(req.Category), core.Direction(req.Direction), req.Topic)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "topic override set"})
}

func (h *APIHandlers) respondIssued(c *gin.Context, index int, err error) {
	if err != nil {
		var be core.BusinessError
		switch {
		case errors.Is(err, core.ErrNotConnected):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "index": index})
		case errors.Is(err, core.ErrInvalidRateModel):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "index": index})
		case errors.As(err, &be):
			c.JSON(http.StatusBadGateway, gin.H{"error": be.Message, "code": be.Code, "index": index})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue command", "index": index})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"index": index})
}

func countParam(c *gin.Context) int {
	count, err := strconv.Atoi(c.DefaultQuery("count", strconv.Itoa(defaultRecordCount)))
	if err != nil || count < 0 {
		return defaultRecordCount
	}
	return count
}
