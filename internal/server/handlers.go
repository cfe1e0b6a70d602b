package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/millbright/factoryops/backend/internal/alerts"
	"github.com/millbright/factoryops/backend/internal/auth"
	"github.com/millbright/factoryops/backend/internal/dispatch"
	"github.com/millbright/factoryops/backend/internal/floor"
	"github.com/millbright/factoryops/backend/internal/notify"
	"github.com/millbright/factoryops/backend/internal/reports"
)

const spreadsheetContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (h *httpHandler) handleListJobs(c *gin.Context) {
	jobs, err := h.floorService.ListJobs(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, jobs)
}

type createJobPayload struct {
	Machine string `json:"machine" validate:"required"`
	Product string `json:"product" validate:"required"`
	State   string `json:"state" validate:"required"`
	Stage   string `json:"stage" validate:"required"`
}

func (h *httpHandler) handleCreateJob(c *gin.Context) {
	var payload createJobPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	job, err := h.floorService.CreateJob(c.Request.Context(), floor.CreateJobRequest{
		Machine: payload.Machine,
		Product: payload.Product,
		State:   payload.State,
		Stage:   payload.Stage,
	})
	if errors.Is(err, floor.ErrMissingField) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("failed to create job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (h *httpHandler) handleListAlerts(c *gin.Context) {
	list, err := h.alertsService.ListAlerts(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list alerts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, list)
}

type createAlertPayload struct {
	Message string `json:"message" validate:"required"`
}

func (h *httpHandler) handleCreateAlert(c *gin.Context) {
	var payload createAlertPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	alert, err := h.alertsService.CreateAlert(c.Request.Context(), h.subjectID(c), payload.Message)
	if errors.Is(err, alerts.ErrMissingField) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("failed to create alert", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, alert)
}

// The operator identity always comes from the session token; an operatorId
// field in the body is ignored, so a client cannot submit on behalf of
// another operator.
type operatorUpdatePayload struct {
	Product        string          `json:"product" validate:"required"`
	ProcessSteps   map[string]bool `json:"processSteps" validate:"required,min=1"`
	DispatchStatus string          `json:"dispatchStatus" validate:"required"`
	DispatchedCost float64         `json:"dispatchedCost" validate:"gte=0"`
}

func (h *httpHandler) handleOperatorUpdate(c *gin.Context) {
	var payload operatorUpdatePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	update, err := h.dispatchService.CreateUpdate(c.Request.Context(), dispatch.CreateUpdateRequest{
		OperatorID:     h.subjectID(c),
		Product:        payload.Product,
		ProcessSteps:   dispatch.ProcessSteps(payload.ProcessSteps),
		DispatchStatus: payload.DispatchStatus,
		DispatchedCost: payload.DispatchedCost,
	})
	if errors.Is(err, dispatch.ErrMissingField) || errors.Is(err, dispatch.ErrInvalidStatus) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("failed to record operator update", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, update)
}

func (h *httpHandler) handlePendingInTransit(c *gin.Context) {
	items, err := h.dispatchService.PendingInTransit(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list pending items", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *httpHandler) handleDispatchedItems(c *gin.Context) {
	items, summary, err := h.dispatchService.DispatchedItems(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list dispatched items", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "summary": summary})
}

func (h *httpHandler) handleDispatchedDetails(c *gin.Context) {
	stats, err := h.dispatchService.TodayStats(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load dispatch stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats_failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *httpHandler) handleReportDownload(c *gin.Context) {
	report, err := h.reportsService.Generate(c.Request.Context(), c.Query("reportType"), c.Query("filter"))
	if errors.Is(err, reports.ErrUnsupportedFilter) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("failed to generate report", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "report_failed"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename))
	c.Data(http.StatusOK, spreadsheetContentType, report.Content)
}

func (h *httpHandler) handleReportHistory(c *gin.Context) {
	history, err := h.reportsService.History(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list report history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *httpHandler) handleUnreadAlerts(c *gin.Context) {
	count, err := h.alertsService.UnreadCount(c.Request.Context(), h.subjectID(c))
	if err != nil {
		h.logger.Error("failed to count unread alerts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unreadCount": count})
}

func (h *httpHandler) handleMarkAlertsRead(c *gin.Context) {
	if err := h.alertsService.MarkRead(c.Request.Context(), h.subjectID(c)); err != nil {
		h.logger.Error("failed to mark alerts read", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type verifyUserPayload struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required"`
}

func (h *httpHandler) handleVerifyUserOTP(c *gin.Context) {
	var payload verifyUserPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.verifier.VerifyUserOTP(c.Request.Context(), payload.Email, payload.OTP)
	if errors.Is(err, auth.ErrVerificationFailed) {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "verification failed"})
		return
	}
	if err != nil {
		h.logger.Error("user otp verification failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(c.Request.Context(), auth.Subject(auth.SubjectKindUser, user.ID))
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"access_token": token,
		"expires_in":   expiresIn,
		"token_type":   "Bearer",
		"user":         user,
	})
}

type verifyOperatorPayload struct {
	Phone string `json:"phone" validate:"required"`
	OTP   string `json:"otp" validate:"required"`
}

func (h *httpHandler) handleVerifyOperatorOTP(c *gin.Context) {
	var payload verifyOperatorPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	verification, err := h.verifier.VerifyOperatorOTP(c.Request.Context(), payload.Phone, payload.OTP)
	if errors.Is(err, auth.ErrVerificationFailed) {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "verification failed"})
		return
	}
	if err != nil {
		h.logger.Error("operator otp verification failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(c.Request.Context(), auth.Subject(auth.SubjectKindOperator, verification.Operator.ID))
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"access_token": token,
		"expires_in":   expiresIn,
		"token_type":   "Bearer",
		"operator":     verification.Operator,
		"firstTime":    verification.FirstTime,
	})
}

func (h *httpHandler) handleVAPIDKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"publicKey": h.vapidPublicKey})
}

type pushSubscribePayload struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
	Keys     struct {
		P256DH string `json:"p256dh" validate:"required"`
		Auth   string `json:"auth" validate:"required"`
	} `json:"keys" validate:"required"`
}

func (h *httpHandler) handlePushSubscribe(c *gin.Context) {
	var payload pushSubscribePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.push.SaveSubscription(c.Request.Context(), notify.PushSubscription{
		Endpoint: payload.Endpoint,
		P256DH:   payload.Keys.P256DH,
		Auth:     payload.Keys.Auth,
	})
	if err != nil {
		h.logger.Error("failed to save push subscription", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscribe_failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true})
}

type pushUnsubscribePayload struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
}

func (h *httpHandler) handlePushUnsubscribe(c *gin.Context) {
	var payload pushUnsubscribePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.push.DeleteSubscription(c.Request.Context(), payload.Endpoint); err != nil {
		h.logger.Error("failed to delete push subscription", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unsubscribe_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
