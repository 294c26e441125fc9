package exchange

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"trade-setup-assistant/internal/logging"
)

const (
	minAPIKeyLength    = 10
	minSecretKeyLength = 16

	signatureProbeMessage = "symbol=BTCUSDT&timestamp=1700000000000"
)

var (
	apiKeyPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	signaturePattern = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// CheckResult is the outcome of one diagnostic step
type CheckResult struct {
	Name    string                 `json:"name"`
	Passed  bool                   `json:"passed"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// DiagnosticReport is the full probe output
type DiagnosticReport struct {
	Checks   []CheckResult `json:"checks"`
	Passed   bool          `json:"passed"`
	Duration string        `json:"duration"`
}

// Probe runs connectivity and authentication checks against a client.
// It only informs; it never blocks use of the client.
type Probe struct {
	client ExchangeClient
}

func NewProbe(client ExchangeClient) *Probe {
	return &Probe{client: client}
}

// Run executes every check in order. A failing check never skips later ones.
func (p *Probe) Run(ctx context.Context, creds Credentials) *DiagnosticReport {
	start := time.Now()
	checks := []func(context.Context, Credentials) CheckResult{
		p.checkPublicEndpoint,
		p.checkAPIKeyFormat,
		p.checkSecretKey,
		p.checkSignature,
		p.checkAuthenticatedCall,
	}

	report := &DiagnosticReport{Passed: true}
	for _, check := range checks {
		result := check(ctx, creds)
		if !result.Passed {
			report.Passed = false
		}
		report.Checks = append(report.Checks, result)
	}
	report.Duration = time.Since(start).String()

	logging.WithComponent("diagnostics").Info("Exchange diagnostics finished",
		"passed", report.Passed, "duration", report.Duration)
	return report
}

func (p *Probe) checkPublicEndpoint(ctx context.Context, _ Credentials) CheckResult {
	result := CheckResult{Name: "Public endpoint reachability"}
	start := time.Now()
	if err := p.client.Ping(ctx); err != nil {
		result.Message = "Cannot reach the exchange public API"
		result.Details = map[string]interface{}{"error": err.Error()}
		return result
	}
	result.Passed = true
	result.Message = "Exchange public API is reachable"
	result.Details = map[string]interface{}{"latency": time.Since(start).String()}
	return result
}

func (p *Probe) checkAPIKeyFormat(_ context.Context, creds Credentials) CheckResult {
	result := CheckResult{Name: "API key format"}
	key := creds.APIKey
	details := map[string]interface{}{"length": len(key)}
	result.Details = details

	switch {
	case key == "":
		result.Message = "API key is missing"
	case key != strings.TrimSpace(key):
		result.Message = "API key has leading or trailing whitespace"
	case len(key) < minAPIKeyLength:
		result.Message = fmt.Sprintf("API key is too short (minimum %d characters)", minAPIKeyLength)
	case !apiKeyPattern.MatchString(key):
		result.Message = "API key contains unexpected characters"
	default:
		result.Passed = true
		result.Message = "API key format looks valid"
		details["prefix"] = key[:4]
	}
	return result
}

func (p *Probe) checkSecretKey(_ context.Context, creds Credentials) CheckResult {
	result := CheckResult{Name: "Secret key presence"}
	secret := creds.SecretKey
	result.Details = map[string]interface{}{"length": len(secret)}

	switch {
	case secret == "":
		result.Message = "Secret key is missing"
	case secret != strings.TrimSpace(secret):
		result.Message = "Secret key has leading or trailing whitespace"
	case len(secret) < minSecretKeyLength:
		result.Message = fmt.Sprintf("Secret key is too short (minimum %d characters)", minSecretKeyLength)
	default:
		result.Passed = true
		result.Message = "Secret key is present"
	}
	return result
}

func (p *Probe) checkSignature(_ context.Context, creds Credentials) CheckResult {
	result := CheckResult{Name: "Signature generation"}

	first, err := Sign([]byte(creds.SecretKey), signatureProbeMessage)
	if err != nil {
		result.Message = "Cannot generate a request signature"
		result.Details = map[string]interface{}{"error": err.Error()}
		return result
	}
	second, _ := Sign([]byte(creds.SecretKey), signatureProbeMessage)

	result.Details = map[string]interface{}{"length": len(first)}
	switch {
	case !signaturePattern.MatchString(first):
		result.Message = "Signature is not 64 lowercase hex characters"
	case first != second:
		result.Message = "Signature is not deterministic"
	default:
		result.Passed = true
		result.Message = "Signature generation works"
	}
	return result
}

func (p *Probe) checkAuthenticatedCall(ctx context.Context, creds Credentials) CheckResult {
	result := CheckResult{Name: "Authenticated request"}

	info, err := p.client.GetAccountInfo(ctx, creds)
	if err != nil {
		result.Message = "Authenticated account request failed"
		details := map[string]interface{}{"error": err.Error()}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			details["status"] = apiErr.StatusCode
			details["body"] = apiErr.Body
		}
		result.Details = details
		return result
	}

	result.Passed = true
	result.Message = "Authenticated account request succeeded"
	result.Details = map[string]interface{}{
		"can_trade":    info.CanTrade,
		"account_type": info.AccountType,
		"balances":     len(info.Balances),
		"permissions":  info.Permissions,
	}
	return result
}
