package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"trade-setup-assistant/internal/exchange"
	"trade-setup-assistant/internal/logging"
)

type credentialsRequest struct {
	Profile   string `json:"profile"`
	APIKey    string `json:"api_key" binding:"required"`
	SecretKey string `json:"secret_key" binding:"required"`
}

// handleStoreCredentials saves exchange keys under a profile
func (s *Server) handleStoreCredentials(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}
	if s.deps.Credentials == nil {
		errorResponse(c, http.StatusServiceUnavailable, "credential store not configured")
		return
	}

	creds := exchange.Credentials{
		APIKey:    strings.TrimSpace(req.APIKey),
		SecretKey: strings.TrimSpace(req.SecretKey),
	}
	if err := s.deps.Credentials.Store(c.Request.Context(), req.Profile, creds); err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, gin.H{"profile": req.Profile, "stored": true})
}

func (s *Server) handleDeleteCredentials(c *gin.Context) {
	if s.deps.Credentials == nil {
		errorResponse(c, http.StatusServiceUnavailable, "credential store not configured")
		return
	}
	if err := s.deps.Credentials.Delete(c.Request.Context(), c.Param("profile")); err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, gin.H{"deleted": true})
}

// handleGetPrice returns the last traded price for a symbol
func (s *Server) handleGetPrice(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	price, err := s.deps.Exchange.GetPrice(c.Request.Context(), symbol)
	if err != nil {
		exchangeError(c, err)
		return
	}
	successResponse(c, gin.H{"symbol": symbol, "price": price})
}

// handleListSymbols returns the enabled USDT pairs
func (s *Server) handleListSymbols(c *gin.Context) {
	symbols, err := s.deps.Exchange.ListSymbols(c.Request.Context())
	if err != nil {
		exchangeError(c, err)
		return
	}
	successResponse(c, gin.H{"symbols": symbols, "count": len(symbols)})
}

// handleGetAccount returns the raw account plus the parsed non-zero balances
func (s *Server) handleGetAccount(c *gin.Context) {
	creds, ok := s.credentials(c, profileParam(c))
	if !ok {
		return
	}
	account, err := s.deps.Exchange.GetAccountInfo(c.Request.Context(), creds)
	if err != nil {
		exchangeError(c, err)
		return
	}
	balances, err := account.NonZeroBalances()
	if err != nil {
		errorResponse(c, http.StatusBadGateway, err.Error())
		return
	}
	successResponse(c, gin.H{"account": account, "balances": balances})
}

// handleGetAuthorizedSymbols returns the symbols the key may trade
func (s *Server) handleGetAuthorizedSymbols(c *gin.Context) {
	creds, ok := s.credentials(c, profileParam(c))
	if !ok {
		return
	}
	symbols, err := s.deps.Exchange.GetAuthorizedSymbols(c.Request.Context(), creds)
	if err != nil {
		exchangeError(c, err)
		return
	}
	successResponse(c, gin.H{"symbols": symbols})
}

type diagnosticsRequest struct {
	Profile   string `json:"profile"`
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
}

// handleDiagnostics runs the probe with inline keys, or a stored profile.
// Missing keys still produce a report; the key checks simply fail.
func (s *Server) handleDiagnostics(c *gin.Context) {
	var req diagnosticsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
			return
		}
	}

	creds := exchange.Credentials{APIKey: req.APIKey, SecretKey: req.SecretKey}
	if creds.APIKey == "" && creds.SecretKey == "" && s.deps.Credentials != nil {
		if stored, err := s.deps.Credentials.Get(c.Request.Context(), req.Profile); err == nil {
			creds = stored
		}
	}

	report := exchange.NewProbe(s.deps.Exchange).Run(c.Request.Context(), creds)
	logging.FromContext(c.Request.Context()).WithComponent("api").
		Info("Diagnostics completed", "passed", report.Passed, "checks", len(report.Checks))
	successResponse(c, report)
}
