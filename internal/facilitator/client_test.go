package facilitator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/x402labs/x402-gateway/internal/wire"
)

func testPayload() wire.PaymentPayload {
	return wire.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "bsc",
		Payload: wire.AuthorizationPayload{
			Type: wire.TypeEIP3009,
			EIP3009: &wire.EIP3009Authorization{
				From:        "0x1111111111111111111111111111111111111111",
				To:          "0x2222222222222222222222222222222222222222",
				Value:       "1000000",
				ValidAfter:  "0",
				ValidBefore: "1893456000",
				Nonce:       "0xabc",
				Signature:   "0xsig",
			},
		},
	}
}

func testRequirements() wire.PaymentRequirements {
	return wire.PaymentRequirements{
		Scheme:            "exact",
		Network:           "bsc",
		MaxAmountRequired: "1000000",
		PayTo:             "0x2222222222222222222222222222222222222222",
		Asset:             "0x3333333333333333333333333333333333333333",
		PaymentType:       wire.TypeEIP3009,
		MaxTimeoutSeconds: 300,
	}
}

func TestVerify_Success(t *testing.T) {
	var gotPath, gotAuth, gotCT string
	var gotBody wire.VerifyRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(wire.VerifyResponse{ //nolint:errcheck
			Success: true,
			Payer:   "0x1111111111111111111111111111111111111111",
		})
	}))
	defer ts.Close()

	c := New(ts.URL, WithAPIKey("sk-test"))
	vr, err := c.Verify(context.Background(), testPayload(), testRequirements())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if !vr.Success || vr.Payer != "0x1111111111111111111111111111111111111111" {
		t.Errorf("response: %+v", vr)
	}
	if gotPath != "/verify" {
		t.Errorf("path: got %q", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth header: got %q", gotAuth)
	}
	if gotCT != "application/json" {
		t.Errorf("content-type: got %q", gotCT)
	}
	if gotBody.X402Version != 1 || gotBody.PaymentPayload.Network != "bsc" {
		t.Errorf("request body: %+v", gotBody)
	}
}

func TestVerify_Declined(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wire.VerifyResponse{ //nolint:errcheck
			Success:      false,
			Error:        "invalid_signature",
			ErrorMessage: "signer mismatch",
		})
	}))
	defer ts.Close()

	vr, err := New(ts.URL).Verify(context.Background(), testPayload(), testRequirements())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if vr.Success || vr.Error != "invalid_signature" {
		t.Errorf("response: %+v", vr)
	}
}

func TestVerify_TransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	ts.Close() // connection refused from here on

	vr, err := New(ts.URL).Verify(context.Background(), testPayload(), testRequirements())
	if err != nil {
		t.Fatalf("transport failure must not surface as error, got %v", err)
	}
	if vr.Success || vr.Error != "facilitator_unreachable" || vr.ErrorMessage == "" {
		t.Errorf("response: %+v", vr)
	}
}

func TestVerify_Non2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway exploded", http.StatusBadGateway)
	}))
	defer ts.Close()

	vr, err := New(ts.URL).Verify(context.Background(), testPayload(), testRequirements())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if vr.Success || vr.Error != "facilitator_error" {
		t.Errorf("response: %+v", vr)
	}
	if !strings.Contains(vr.ErrorMessage, "502") {
		t.Errorf("error message %q missing status", vr.ErrorMessage)
	}
}

func TestVerify_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New("http://127.0.0.1:1").Verify(ctx, testPayload(), testRequirements())
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestSettle_SendsWaitConfirmed(t *testing.T) {
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/settle" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody) //nolint:errcheck
		json.NewEncoder(w).Encode(wire.SettleResponse{ //nolint:errcheck
			Success:     true,
			Transaction: "0xfeed",
			Network:     "bsc",
		})
	}))
	defer ts.Close()

	sr, err := New(ts.URL).Settle(context.Background(), testPayload(), testRequirements())
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !sr.Success || sr.Transaction != "0xfeed" {
		t.Errorf("response: %+v", sr)
	}
	if gotBody["waitUntil"] != "confirmed" {
		t.Errorf("waitUntil: got %v", gotBody["waitUntil"])
	}
}

func TestSettle_TransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	ts.Close()

	sr, err := New(ts.URL).Settle(context.Background(), testPayload(), testRequirements())
	if err != nil {
		t.Fatalf("transport failure must not surface as error, got %v", err)
	}
	if sr.Success || sr.Error != "facilitator_unreachable" {
		t.Errorf("response: %+v", sr)
	}
}

func TestSupported_QueryParams(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(wire.SupportedResponse{ //nolint:errcheck
			Kinds: []wire.SupportedKind{{X402Version: 1, Scheme: "exact", Network: "bsc"}},
		})
	}))
	defer ts.Close()

	sup, err := New(ts.URL).Supported(context.Background(), "56", "0x3333333333333333333333333333333333333333")
	if err != nil {
		t.Fatalf("Supported: %v", err)
	}
	if len(sup.Kinds) != 1 || sup.Kinds[0].Network != "bsc" {
		t.Errorf("response: %+v", sup)
	}
	if !strings.Contains(gotQuery, "chainId=56") ||
		!strings.Contains(gotQuery, "tokenAddress=0x3333333333333333333333333333333333333333") {
		t.Errorf("query: got %q", gotQuery)
	}
}

func TestSupported_FailuresDegradeToEmpty(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	down.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer broken.Close()

	for _, base := range []string{down.URL, broken.URL} {
		sup, err := New(base).Supported(context.Background(), "56", "")
		if err != nil {
			t.Fatalf("Supported(%s): %v", base, err)
		}
		if len(sup.Kinds) != 0 {
			t.Errorf("Supported(%s): kinds %+v, want empty", base, sup.Kinds)
		}
	}
}

func TestNew_DefaultBaseURL(t *testing.T) {
	if got := New("").BaseURL(); got != DefaultBaseURL {
		t.Errorf("BaseURL: got %q want %q", got, DefaultBaseURL)
	}
	if got := New("http://localhost:9999").BaseURL(); got != "http://localhost:9999" {
		t.Errorf("BaseURL: got %q", got)
	}
}
