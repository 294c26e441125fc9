package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"trade-setup-assistant/internal/analysis"
	"trade-setup-assistant/internal/circuit"
	"trade-setup-assistant/internal/events"
	"trade-setup-assistant/internal/logging"
	"trade-setup-assistant/internal/risk"
)

const quoteAsset = "USDT"

func (s *Server) handleListStrategies(c *gin.Context) {
	successResponse(c, gin.H{"strategies": s.deps.Catalog.Names()})
}

func (s *Server) handleGetRiskParameters(c *gin.Context) {
	successResponse(c, s.deps.Risk.Parameters())
}

func (s *Server) handleSetRiskParameters(c *gin.Context) {
	var params risk.Parameters
	if err := c.ShouldBindJSON(&params); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}
	if params.RiskPercentagePerTrade <= 0 || params.RiskPercentagePerTrade > 100 {
		errorResponse(c, http.StatusBadRequest, "riskPercentagePerTrade must be in (0, 100]")
		return
	}
	s.deps.Risk.SetParameters(params)
	successResponse(c, params)
}

type evaluateRequest struct {
	Balance    float64          `json:"balance"`
	Trade      risk.Trade       `json:"trade"`
	Parameters *risk.Parameters `json:"parameters,omitempty"`
}

// handleEvaluateRisk sizes a trade. With explicit parameters the daily
// counters are still taken from the live manager.
func (s *Server) handleEvaluateRisk(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}
	if req.Balance <= 0 {
		errorResponse(c, http.StatusBadRequest, "balance must be positive")
		return
	}

	var assessment risk.Assessment
	if req.Parameters != nil {
		tradesToday, open := s.deps.Risk.Counters()
		assessment = risk.Evaluate(*req.Parameters, req.Balance, req.Trade, tradesToday, open)
	} else {
		assessment = s.deps.Risk.Assess(req.Balance, req.Trade)
	}
	successResponse(c, assessment)
}

type placeOrderRequest struct {
	Profile  string         `json:"profile"`
	Symbol   string         `json:"symbol" binding:"required"`
	Trade    analysis.Trade `json:"trade"`
	Quantity float64        `json:"quantity"`
}

// handlePlaceOrder places the entry and the enabled protective legs. With no
// quantity the position is sized from the free quote balance.
func (s *Server) handlePlaceOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	symbol := strings.ToUpper(req.Symbol)

	creds, ok := s.credentials(c, req.Profile)
	if !ok {
		return
	}

	intent := req.Trade.Intent()
	params := s.deps.Risk.Parameters()
	quantity := req.Quantity

	if quantity <= 0 {
		entry := intent.EntryPrice
		if entry <= 0 {
			price, err := s.deps.Exchange.GetPrice(ctx, symbol)
			if err != nil {
				exchangeError(c, err)
				return
			}
			entry = price
		}
		account, err := s.deps.Exchange.GetAccountInfo(ctx, creds)
		if err != nil {
			exchangeError(c, err)
			return
		}
		assessment := s.deps.Risk.Assess(account.FreeBalance(quoteAsset), risk.Trade{
			Symbol: symbol,
			Entry:  entry,
			Stop:   intent.StopLoss,
			Target: intent.TakeProfit,
		})
		if !assessment.Allowed {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":      true,
				"message":    "trade rejected by risk settings",
				"assessment": assessment,
			})
			return
		}
		quantity = assessment.Quantity
	}

	report, err := s.deps.Orders.Execute(ctx, creds, intent, symbol, quantity, params)
	if s.deps.Executions != nil && report != nil && report.Entry != nil {
		if _, saveErr := s.deps.Executions.SaveExecution(ctx, report); saveErr != nil {
			logging.FromContext(ctx).WithComponent("api").Warn("Failed to persist execution", "error", saveErr)
		}
	}
	if errors.Is(err, circuit.ErrOpen) {
		errorResponse(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   true,
			"message": err.Error(),
			"report":  report,
		})
		return
	}

	if s.deps.Bus != nil {
		s.deps.Bus.Publish(events.Event{
			Type: events.EventOrderPlaced,
			Data: map[string]interface{}{
				"symbol":   symbol,
				"state":    string(report.State),
				"quantity": quantity,
				"orderId":  report.Entry.OrderID,
			},
		})
	}
	successResponse(c, report)
}

func (s *Server) handleOrderHistory(c *gin.Context) {
	successResponse(c, gin.H{"orders": s.deps.Orders.History()})
}

// handleBreakerStatus reports the order circuit breaker
func (s *Server) handleBreakerStatus(c *gin.Context) {
	b := s.deps.Orders.Breaker()
	if b == nil {
		successResponse(c, gin.H{"enabled": false})
		return
	}
	successResponse(c, b.Stats())
}

func (s *Server) handleBreakerReset(c *gin.Context) {
	b := s.deps.Orders.Breaker()
	if b == nil {
		errorResponse(c, http.StatusNotFound, "circuit breaker not configured")
		return
	}
	b.Reset()
	logging.FromContext(c.Request.Context()).WithComponent("api").Info("Circuit breaker reset")
	successResponse(c, b.Stats())
}
