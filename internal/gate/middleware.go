// Package gate provides the Gin middleware that payment-gates routes: it
// builds the payment terms for the request, runs the x402 pipeline over
// the X-PAYMENT header, and either admits the request or writes the
// structured 402/500 rejection.
package gate

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/x402labs/x402-gateway/internal/receipts"
	"github.com/x402labs/x402-gateway/internal/server"
	"github.com/x402labs/x402-gateway/internal/wire"
)

// Context keys set on successful payment.
const (
	PayerKey  = "x402_payer"
	TxHashKey = "x402_tx_hash"
)

// Resolver derives the payment terms for a request. This is the one
// required hook; implementations may additionally satisfy the optional
// observer interfaces below.
type Resolver interface {
	Resolve(c *gin.Context) (server.CreateConfig, error)
}

// SuccessHook is notified exactly once after a settled payment, before
// the downstream handler runs.
type SuccessHook interface {
	OnPaymentSuccess(c *gin.Context, payer, txHash string)
}

// ErrorHook is notified about configuration and unexpected errors.
type ErrorHook interface {
	OnError(c *gin.Context, err error)
}

// PaymentRequiredHook is notified before a 402 response is written.
type PaymentRequiredHook interface {
	On402(c *gin.Context, resp *wire.PaymentRequired)
}

// Middleware returns the payment gate. journal may be nil to disable
// receipt recording.
func Middleware(srv *server.Server, resolver Resolver, journal *receipts.Journal, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		cfg, err := resolver.Resolve(c)
		if err != nil {
			abortConfigError(c, resolver, err, log)
			return
		}
		if cfg.Resource == "" {
			cfg.Resource = resourceURL(c.Request)
		}

		reqs, err := srv.CreateRequirements(c.Request.Context(), cfg)
		if err != nil {
			abortConfigError(c, resolver, err, log)
			return
		}

		header := c.GetHeader("X-Payment")
		result := srv.Process(c.Request.Context(), header, *reqs)
		if !result.Success {
			if hook, ok := resolver.(PaymentRequiredHook); ok && result.StatusCode == http.StatusPaymentRequired {
				hook.On402(c, result.Response)
			}
			c.AbortWithStatusJSON(result.StatusCode, result.Response)
			return
		}

		c.Set(PayerKey, result.Payer)
		c.Set(TxHashKey, result.TxHash)

		if journal != nil {
			journal.Record(c.Request.Context(), receipts.Receipt{
				Payer:    result.Payer,
				TxHash:   result.TxHash,
				Network:  reqs.Network,
				Resource: reqs.Resource,
				Asset:    reqs.Asset,
				Amount:   reqs.MaxAmountRequired,
			})
		}
		if hook, ok := resolver.(SuccessHook); ok {
			hook.OnPaymentSuccess(c, result.Payer, result.TxHash)
		}
		c.Next()
	}
}

// abortConfigError maps requirement-building failures: schema validation
// becomes 400 with field issues, everything else 500. The payer is never
// logged here; the request is unauthenticated.
func abortConfigError(c *gin.Context, resolver Resolver, err error, log *zap.Logger) {
	if hook, ok := resolver.(ErrorHook); ok {
		hook.OnError(c, err)
	}
	if ve, ok := wire.AsValidationError(err); ok {
		log.Warn("invalid payment configuration",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid payment configuration",
			"message": ve.Error(),
			"details": ve.Issues,
		})
		return
	}
	log.Error("payment gate error",
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// resourceURL reconstructs the resource URL the client requested.
func resourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.Path
}
