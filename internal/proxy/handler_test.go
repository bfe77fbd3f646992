package proxy

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/x402labs/x402-gateway/internal/gate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHandle_ForwardsWithPaymentIdentity(t *testing.T) {
	var gotPayer, gotTx, gotPayment, gotHost string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPayer = r.Header.Get(PayerHeader)
		gotTx = r.Header.Get(TxHashHeader)
		gotPayment = r.Header.Get("X-Payment")
		gotHost = r.Host
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("origin says hi")) //nolint:errcheck
	}))
	defer origin.Close()

	target, err := url.Parse(origin.URL)
	if err != nil {
		t.Fatal(err)
	}
	h := NewHandler(target, nil)

	r := gin.New()
	r.GET("/data", func(c *gin.Context) {
		// Simulate the payment gate having admitted the request.
		c.Set(gate.PayerKey, "0x1111111111111111111111111111111111111111")
		c.Set(gate.TxHashKey, "0xfeedbeef")
		h.Handle(c)
	})

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set("X-Payment", "spent-header")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusTeapot {
		t.Fatalf("status: got %d", w.Code)
	}
	if w.Body.String() != "origin says hi" {
		t.Errorf("body: %q", w.Body.String())
	}
	if gotPayer != "0x1111111111111111111111111111111111111111" || gotTx != "0xfeedbeef" {
		t.Errorf("identity headers: payer=%q tx=%q", gotPayer, gotTx)
	}
	if gotPayment != "" {
		t.Error("X-Payment leaked to origin")
	}
	if gotHost != target.Host {
		t.Errorf("host: got %q want %q", gotHost, target.Host)
	}
}

func TestHandle_UpstreamDown(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	origin.Close()

	target, _ := url.Parse(origin.URL)
	h := NewHandler(target, nil)

	r := gin.New()
	r.GET("/data", h.Handle)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/data", nil))

	if w.Code != http.StatusBadGateway {
		t.Errorf("status: got %d want 502", w.Code)
	}
}
