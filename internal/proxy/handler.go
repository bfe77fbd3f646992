// Package proxy forwards admitted requests to the protected origin. It
// runs behind the payment gate: by the time a request reaches it, the
// payment has settled and the payer identity sits in the Gin context.
package proxy

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/x402labs/x402-gateway/internal/gate"
)

// Headers added to every forwarded request so the origin can attribute
// the call without understanding x402.
const (
	PayerHeader  = "X-402-Payer"
	TxHashHeader = "X-402-Tx-Hash"
)

// Handler is a single-origin reverse proxy for payment-gated traffic.
type Handler struct {
	target *url.URL
	rp     *httputil.ReverseProxy
	log    *zap.Logger
}

// NewHandler builds a proxy for the given origin URL.
func NewHandler(target *url.URL, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	rp := httputil.NewSingleHostReverseProxy(target)

	orig := rp.Director
	rp.Director = func(req *http.Request) {
		orig(req)
		// The payment header is spent; the origin never sees it.
		req.Header.Del("X-Payment")
		req.Host = target.Host
	}
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Error("upstream unreachable",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		w.WriteHeader(http.StatusBadGateway)
	}

	return &Handler{target: target, rp: rp, log: log}
}

// Handle forwards the request, stamping the settled payment identity.
func (h *Handler) Handle(c *gin.Context) {
	if payer := c.GetString(gate.PayerKey); payer != "" {
		c.Request.Header.Set(PayerHeader, payer)
	}
	if tx := c.GetString(gate.TxHashKey); tx != "" {
		c.Request.Header.Set(TxHashHeader, tx)
	}
	h.rp.ServeHTTP(safeWriter{c.Writer}, c.Request)
}

// safeWriter wraps gin.ResponseWriter and overrides CloseNotify so that the
// reverse proxy never triggers a type-assertion on the underlying writer.
// gin.ResponseWriter implements the deprecated http.CloseNotifier, but the
// concrete writer in tests (*httptest.ResponseRecorder) does not, causing a
// panic inside net/http when the interface method is called.
//
//nolint:staticcheck
type safeWriter struct{ gin.ResponseWriter }

//nolint:staticcheck
func (s safeWriter) CloseNotify() <-chan bool { return make(chan bool, 1) }
