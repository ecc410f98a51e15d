package routes

import (
	"github.com/crm/pkg/apikey"
	"github.com/crm/pkg/constant"
	"github.com/crm/pkg/domains/gateway"
	"github.com/crm/pkg/dtos"
	"github.com/crm/pkg/middleware"
	"github.com/crm/pkg/state"
	"github.com/gin-gonic/gin"
)

// V1Routes mounts the API-key-scoped external family (spec.md §6
// "API-key family"), authenticated by middleware.APIKeyAuth.
func V1Routes(r *gin.RouterGroup, s *gateway.Service, keys *apikey.Service) {
	r.Use(middleware.APIKeyAuth(keys))

	r.GET("/auth/info", v1AuthInfo())
	r.GET("/session/status", v1SessionStatus(s))
	r.GET("/wallet/balance", v1WalletBalance(s))
	r.GET("/wallet/transactions", v1WalletTransactions(s))
	r.POST("/messages/send", v1MessagesSend(s))
	r.POST("/messages/send-bulk", v1MessagesSendBulk(s))
	r.POST("/otp/send", v1OTPSend(s))
}

func boundIdentity(c *gin.Context) (userID uint, sessionID string) {
	if v, ok := c.Get(state.CurrentUserId); ok {
		userID, _ = v.(uint)
	}
	if v, ok := c.Get(state.CurrentSession); ok {
		sessionID, _ = v.(string)
	}
	return
}

func v1AuthInfo() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, sessionID := boundIdentity(c)
		c.JSON(200, dtos.AuthInfoResponse{UserID: userID, SessionID: sessionID})
	}
}

func v1SessionStatus(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, sessionID := boundIdentity(c)
		row, err := s.Session(c.Request.Context(), sessionID)
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

func v1WalletBalance(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := boundIdentity(c)
		balance, err := s.WalletBalance(c.Request.Context(), userID)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, dtos.WalletBalanceResponse{UserID: userID, Balance: balance})
	}
}

func v1WalletTransactions(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := boundIdentity(c)
		txns, err := s.WalletTransactions(c.Request.Context(), userID)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"transactions": txns})
	}
}

func v1MessagesSend(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, sessionID := boundIdentity(c)
		var req dtos.TestMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": constant.INVALID_REQUEST})
			return
		}
		report := s.SendAPIMessage(c.Request.Context(), userID, sessionID, req.Recipient, req.Message)
		respondReport(c, report)
	}
}

func v1MessagesSendBulk(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, sessionID := boundIdentity(c)
		var req dtos.BulkMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": constant.INVALID_REQUEST})
			return
		}
		report := s.SendBulkAPIMessage(c.Request.Context(), userID, sessionID, req.Recipients, req.Message)
		respondReport(c, report)
	}
}

func v1OTPSend(s *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, sessionID := boundIdentity(c)
		var req dtos.SendOTPRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": constant.INVALID_REQUEST})
			return
		}
		report := s.SendOTP(c.Request.Context(), userID, sessionID, req.Recipient, req.Code, req.Language)
		respondReport(c, report)
	}
}
