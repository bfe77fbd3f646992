package gate

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/x402labs/x402-gateway/internal/server"
)

// Static resolves every request to the same fixed payment terms. The
// resource URL is still derived per request.
type Static struct {
	Config server.CreateConfig
	Logger *zap.Logger
}

func (s Static) Resolve(*gin.Context) (server.CreateConfig, error) {
	return s.Config, nil
}

func (s Static) OnPaymentSuccess(c *gin.Context, payer, txHash string) {
	if s.Logger != nil {
		s.Logger.Info("payment accepted",
			zap.String("path", c.Request.URL.Path),
			zap.String("payer", payer),
			zap.String("txHash", txHash),
		)
	}
}
