package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/halcyonlabs/remindcal/backend/internal/events"
	"github.com/halcyonlabs/remindcal/backend/internal/rules"
	"go.uber.org/zap"
)

type rulePayload struct {
	Label         string `json:"label"`
	OffsetsInDays []int  `json:"offsets_in_days"`
	DefaultTime   string `json:"default_time"`
	AvoidWeekends bool   `json:"avoid_weekends"`
}

type ruleUpdatePayload struct {
	Label         *string `json:"label"`
	OffsetsInDays []int   `json:"offsets_in_days"`
	DefaultTime   *string `json:"default_time"`
	AvoidWeekends *bool   `json:"avoid_weekends"`
}

type ruleResponsePayload struct {
	RuleID        string `json:"id"`
	Label         string `json:"label"`
	OffsetsInDays []int  `json:"offsets_in_days"`
	DefaultTime   string `json:"default_time"`
	AvoidWeekends bool   `json:"avoid_weekends"`
}

func ruleResponse(rule rules.Rule) ruleResponsePayload {
	return ruleResponsePayload{
		RuleID:        rule.RuleID,
		Label:         rule.Label,
		OffsetsInDays: rule.OffsetsInDays,
		DefaultTime:   rule.DefaultTime,
		AvoidWeekends: rule.AvoidWeekends,
	}
}

func (h *httpHandler) handleListRules(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	ruleRows, err := h.rules.List(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("rule listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	response := make([]ruleResponsePayload, 0, len(ruleRows))
	for _, rule := range ruleRows {
		response = append(response, ruleResponse(rule))
	}
	c.JSON(http.StatusOK, gin.H{"rules": response})
}

func (h *httpHandler) handleCreateRule(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request rulePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	label, err := rules.NewLabel(request.Label)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_label"})
		return
	}
	if _, err := events.NewClockTime(request.DefaultTime); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_default_time"})
		return
	}
	if err := rules.ValidateOffsets(request.OffsetsInDays); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_offsets"})
		return
	}

	rule, err := h.rules.Create(c.Request.Context(), userID, rules.CreateRequest{
		Label:         label,
		OffsetsInDays: request.OffsetsInDays,
		DefaultTime:   request.DefaultTime,
		AvoidWeekends: request.AvoidWeekends,
	})
	if err != nil {
		if errors.Is(err, rules.ErrDuplicateLabel) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "duplicate_label"})
			return
		}
		h.logger.Error("rule creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"rule": ruleResponse(rule)})
}

func (h *httpHandler) handleUpdateRule(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	ruleID := c.Param("id")

	var request ruleUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updateRequest := rules.UpdateRequest{
		OffsetsInDays: request.OffsetsInDays,
		DefaultTime:   request.DefaultTime,
		AvoidWeekends: request.AvoidWeekends,
	}
	if request.Label != nil {
		label, err := rules.NewLabel(*request.Label)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_label"})
			return
		}
		updateRequest.Label = &label
	}
	if request.DefaultTime != nil {
		if _, err := events.NewClockTime(*request.DefaultTime); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_default_time"})
			return
		}
	}
	if request.OffsetsInDays != nil {
		if err := rules.ValidateOffsets(request.OffsetsInDays); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_offsets"})
			return
		}
	}

	rule, err := h.rules.Update(c.Request.Context(), userID, ruleID, updateRequest)
	if err != nil {
		switch {
		case errors.Is(err, rules.ErrRuleNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "rule_not_found"})
		case errors.Is(err, rules.ErrDuplicateLabel):
			c.JSON(http.StatusBadRequest, gin.H{"error": "duplicate_label"})
		default:
			h.logger.Error("rule update failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"rule": ruleResponse(rule)})
}

func (h *httpHandler) handleDeleteRule(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	ruleID := c.Param("id")

	if err := h.rules.Delete(c.Request.Context(), userID, ruleID); err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule_not_found"})
			return
		}
		h.logger.Error("rule deletion failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
