package routes

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/crm/pkg/admission"
	"github.com/crm/pkg/constant"
	"github.com/crm/pkg/domains/gateway"
	"github.com/crm/pkg/dtos"
	"github.com/crm/pkg/entities"
	"github.com/crm/pkg/middleware"
	"github.com/gin-gonic/gin"
)

// DashboardRoutes mounts the user-id-scoped family behind bearer auth
// (spec.md §6 "Dashboard family").
func DashboardRoutes(r *gin.RouterGroup, s *gateway.Service) {
	whatsapp := r.Group("/whatsapp", middleware.CheckAuth())
	{
		whatsapp.POST("/connect", dashConnect(s))
		whatsapp.GET("/session/:sessionId", dashSession(s))
		whatsapp.POST("/disconnect/:sessionId", dashDisconnect(s))
		whatsapp.POST("/send-otp", dashSendOTP(s))
		whatsapp.POST("/send-announcement", dashSendAnnouncement(s))
		whatsapp.POST("/test-message", dashTestMessage(s))
	}

	wallet := r.Group("/wallet", middleware.CheckAuth())
	{
		wallet.GET("/balance/:userId", dashWalletBalance(s))
		wallet.GET("/transactions/:userId", dashWalletTransactions(s))
		wallet.POST("/topup", dashTopup(s))
	}

	webhooks := r.Group("/webhooks", middleware.CheckAuth())
	{
		webhooks.GET("/:userId", dashListWebhooks(s))
		webhooks.POST("/:userId", dashCreateWebhook(s))
		webhooks.PUT("/:userId/:webhookId", dashUpdateWebhook(s))
		webhooks.DELETE("/:userId/:webhookId", dashDeleteWebhook(s))
		webhooks.GET("/:userId/:webhookId/logs", dashWebhookLogs(s))
		webhooks.GET("/:userId/:webhookId/stats", dashWebhookStats(s))
		webhooks.POST("/:userId/:webhookId/test", dashTestWebhook(s))
	}

	strength := r.Group("/account-strength", middleware.CheckAuth())
	{
		strength.GET("/:userId/:sessionId", dashAccountStrength(s))
		strength.GET("/:userId/:sessionId/logs", dashAccountStrengthLogs(s))
		strength.POST("/:userId/:sessionId/strengthen-comprehensive", dashStrengthenComprehensive(s))
	}

	subs := r.Group("/subscriptions", middleware.CheckAuth())
	{
		subs.GET("/tiers", dashSubscriptionTiers(s))
		subs.GET("/:userId", dashActiveSubscription(s))
		subs.POST("/:userId", dashSubscribe(s))
	}

	settings := r.Group("/settings", middleware.CheckAuth())
	{
		settings.PUT("/:userId", dashUpdateSettings(s))
	}
}

func userIDParam(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	if raw == "" {
		raw = c.Query(name)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		c.JSON(400, gin.H{"error": constant.INVALID_REQUEST})
		return 0, false
	}
	return uint(id), true
}

func dashConnect(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dtos.ConnectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": constant.INVALID_REQUEST})
			return
		}
		row, err := s.Connect(c.Request.Context(), req.UserID, req.SessionID)
		if err == gateway.ErrDuplicateConnect {
			c.JSON(400, gin.H{"error": constant.DUPLICATE_CONNECT})
			return
		}
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"message": constant.SESSION_CONNECTED, "data": toSessionDTO(row)})
	}
}

func dashSession(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		row, err := s.Session(c.Request.Context(), c.Param("sessionId"))
		if err == gateway.ErrSessionNotFound {
			c.JSON(404, gin.H{"error": constant.SESSION_NOT_FOUND})
			return
		}
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, toSessionDTO(row))
	}
}

func dashDisconnect(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.Disconnect(c.Request.Context(), c.Param("sessionId")); err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"message": constant.SESSION_DISCONNECTED})
	}
}

func dashSendOTP(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dtos.SendOTPRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": constant.INVALID_REQUEST})
			return
		}
		report := s.SendOTP(c.Request.Context(), req.UserID, req.SessionID, req.Recipient, req.Code, req.Language)
		respondReport(c, report)
	}
}

func dashSendAnnouncement(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dtos.SendAnnouncementRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": constant.INVALID_REQUEST})
			return
		}
		report := s.SendAnnouncement(c.Request.Context(), req.UserID, req.SessionID, req.Recipients, req.Message)
		respondReport(c, report)
	}
}

func dashTestMessage(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dtos.TestMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": constant.INVALID_REQUEST})
			return
		}
		report := s.SendAPIMessage(c.Request.Context(), req.UserID, req.SessionID, req.Recipient, req.Message)
		respondReport(c, report)
	}
}

func dashWalletBalance(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDParam(c, "userId")
		if !ok {
			return
		}
		balance, err := s.WalletBalance(c.Request.Context(), userID)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, dtos.WalletBalanceResponse{UserID: userID, Balance: balance})
	}
}

func dashWalletTransactions(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDParam(c, "userId")
		if !ok {
			return
		}
		txns, err := s.WalletTransactions(c.Request.Context(), userID)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"transactions": txns})
	}
}

func dashTopup(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dtos.WalletTopupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": constant.INVALID_REQUEST})
			return
		}
		amount, bonus, balance, err := s.Topup(c.Request.Context(), req.UserID, req.Amount)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, dtos.WalletTopupResponse{Amount: amount, Bonus: bonus, NewBalance: balance})
	}
}

func dashListWebhooks(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDParam(c, "userId")
		if !ok {
			return
		}
		hooks, err := s.ListWebhooks(c.Request.Context(), userID)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"webhooks": hooks})
	}
}

func dashCreateWebhook(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDParam(c, "userId")
		if !ok {
			return
		}
		var req dtos.WebhookRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": constant.INVALID_REQUEST})
			return
		}
		hook := webhookFromRequest(userID, req)
		created, err := s.CreateWebhook(c.Request.Context(), hook)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(201, gin.H{"message": constant.WEBHOOK_CREATED, "data": created})
	}
}

func dashUpdateWebhook(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDParam(c, "userId")
		if !ok {
			return
		}
		webhookID, ok := userIDParam(c, "webhookId")
		if !ok {
			return
		}
		var req dtos.WebhookRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": constant.INVALID_REQUEST})
			return
		}
		updates := map[string]interface{}{
			"url":                 req.URL,
			"success_webhook_url": req.SuccessWebhookURL,
			"failure_webhook_url": req.FailureWebhookURL,
			"max_attempts":        req.MaxAttempts,
			"retry_delay_seconds": req.RetryDelaySeconds,
		}
		if req.RetryEnabled != nil {
			updates["retry_on_failure"] = *req.RetryEnabled
		}
		if req.CustomPayload != nil {
			payload, _ := json.Marshal(req.CustomPayload)
			updates["custom_payload"] = string(payload)
		}
		if req.Headers != nil {
			headers, _ := json.Marshal(req.Headers)
			updates["headers"] = string(headers)
		}
		hook, err := s.UpdateWebhook(c.Request.Context(), webhookID, userID, updates)
		if err == gateway.ErrWebhookNotFound {
			c.JSON(404, gin.H{"error": fmt.Sprintf(constant.CANT_FIND, "Webhook")})
			return
		}
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"message": constant.WEBHOOK_UPDATED, "data": hook})
	}
}

func dashDeleteWebhook(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDParam(c, "userId")
		if !ok {
			return
		}
		webhookID, ok := userIDParam(c, "webhookId")
		if !ok {
			return
		}
		err := s.DeleteWebhook(c.Request.Context(), webhookID, userID)
		if err == gateway.ErrWebhookNotFound {
			c.JSON(404, gin.H{"error": fmt.Sprintf(constant.CANT_FIND, "Webhook")})
			return
		}
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"message": constant.WEBHOOK_DELETED})
	}
}

func dashWebhookLogs(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		webhookID, ok := userIDParam(c, "webhookId")
		if !ok {
			return
		}
		logs, err := s.WebhookLogs(c.Request.Context(), webhookID, 0)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"logs": logs})
	}
}

func dashWebhookStats(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDParam(c, "userId")
		if !ok {
			return
		}
		webhookID, ok := userIDParam(c, "webhookId")
		if !ok {
			return
		}
		hook, err := s.WebhookStats(c.Request.Context(), webhookID, userID)
		if err == gateway.ErrWebhookNotFound {
			c.JSON(404, gin.H{"error": fmt.Sprintf(constant.CANT_FIND, "Webhook")})
			return
		}
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{
			"total_calls":     hook.TotalCalls,
			"success_calls":   hook.SuccessCalls,
			"failed_calls":    hook.FailedCalls,
			"last_called_at":  hook.LastCalledAt,
			"last_success_at": hook.LastSuccessAt,
			"last_failure_at": hook.LastFailureAt,
		})
	}
}

func dashTestWebhook(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDParam(c, "userId")
		if !ok {
			return
		}
		webhookID, ok := userIDParam(c, "webhookId")
		if !ok {
			return
		}
		if err := s.TestWebhook(c.Request.Context(), webhookID, userID); err != nil {
			c.JSON(404, gin.H{"error": fmt.Sprintf(constant.CANT_FIND, "Webhook")})
			return
		}
		c.JSON(200, gin.H{"message": constant.WEBHOOK_TEST_FIRED})
	}
}

func dashAccountStrength(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDParam(c, "userId")
		if !ok {
			return
		}
		metric, err := s.AccountStrength(c.Request.Context(), userID, c.Param("sessionId"))
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"metric": metric})
	}
}

func dashAccountStrengthLogs(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDParam(c, "userId")
		if !ok {
			return
		}
		metrics, err := s.AccountStrengthLogs(c.Request.Context(), userID, c.Param("sessionId"))
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"logs": metrics})
	}
}

func dashStrengthenComprehensive(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDParam(c, "userId")
		if !ok {
			return
		}
		metric, err := s.StrengthenComprehensive(c.Request.Context(), userID, c.Param("sessionId"))
		if err == gateway.ErrSessionNotFound {
			c.JSON(503, gin.H{"error": constant.SESSION_NOT_READY})
			return
		}
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"metric": metric})
	}
}

func dashSubscriptionTiers(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, gin.H{"tiers": s.Subscriptions()})
	}
}

func dashActiveSubscription(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDParam(c, "userId")
		if !ok {
			return
		}
		sub, err := s.ActiveSubscription(c.Request.Context(), userID)
		if err != nil {
			c.JSON(404, gin.H{"error": fmt.Sprintf(constant.CANT_FIND, "Subscription")})
			return
		}
		c.JSON(200, sub)
	}
}

func dashSubscribe(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDParam(c, "userId")
		if !ok {
			return
		}
		var req dtos.SubscribeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": constant.INVALID_REQUEST})
			return
		}
		sub, err := s.Subscribe(c.Request.Context(), userID, entities.SubscriptionTier(req.Tier))
		if err != nil {
			c.JSON(400, gin.H{"error": constant.UNKNOWN_TIER})
			return
		}
		c.JSON(200, sub)
	}
}

func dashUpdateSettings(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDParam(c, "userId")
		if !ok {
			return
		}
		var req dtos.RateLimitSettingsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": constant.INVALID_REQUEST})
			return
		}
		if err := s.UpdateRateLimitSettings(c.Request.Context(), userID, req.PerMinute, req.PerHour, req.PerDay); err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"message": constant.UPDATED})
	}
}

func respondReport(c *gin.Context, report admission.Report) {
	if report.Reason != admission.ReasonNone {
		if report.RateLimit != nil {
			reason := fmt.Sprintf("rate_limit_%s", report.RateLimit.Window)
			c.JSON(report.HTTPStatus, gin.H{
				"error":   reason,
				"reason":  reason,
				"limit":   report.RateLimit.Limit,
				"current": report.RateLimit.CurrentCount,
			})
			return
		}
		c.JSON(report.HTTPStatus, gin.H{"error": string(report.Reason)})
		return
	}

	results := make([]dtos.RecipientResultDTO, len(report.Results))
	for i, r := range report.Results {
		results[i] = dtos.RecipientResultDTO{Recipient: r.Recipient, Sent: r.Sent, Reason: r.Reason}
	}
	c.JSON(200, dtos.SendReportResponse{
		Sent:     report.SentCount,
		Failed:   report.FailCount,
		Refunded: report.RefundedAmount,
		Results:  results,
	})
}

func toSessionDTO(row *entities.Session) dtos.SessionResponse {
	return dtos.SessionResponse{
		SessionID:    row.SessionID,
		UserID:       row.UserID,
		PhoneNumber:  row.PhoneNumber,
		Status:       string(row.Status),
		HasQRCode:    len(row.LastQRCode) > 0,
		LastActivity: row.LastActivity,
	}
}

func webhookFromRequest(userID uint, req dtos.WebhookRequest) entities.Webhook {
	retryEnabled := true
	if req.RetryEnabled != nil {
		retryEnabled = *req.RetryEnabled
	}
	customPayload, _ := json.Marshal(req.CustomPayload)
	headers, _ := json.Marshal(req.Headers)
	return entities.Webhook{
		UserID:            userID,
		SessionID:         req.SessionID,
		WebhookType:       entities.WebhookEventType(req.WebhookType),
		URL:               req.URL,
		SuccessWebhookURL: req.SuccessWebhookURL,
		FailureWebhookURL: req.FailureWebhookURL,
		CustomPayload:     string(customPayload),
		Headers:           string(headers),
		IsActive:          true,
		RetryEnabled:      retryEnabled,
		MaxAttempts:       req.MaxAttempts,
		RetryDelaySeconds: req.RetryDelaySeconds,
	}
}
