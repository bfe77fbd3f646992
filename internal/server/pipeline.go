package server

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/x402labs/x402-gateway/internal/wire"
)

// ProcessResult is the outcome of one pipeline run. Exactly one of
// {200 success, 402 parse, 402 verify, 500 settle} holds.
type ProcessResult struct {
	Success    bool
	StatusCode int

	// Payer and TxHash are set on success: the recovered payer from
	// verify and the settlement transaction hash.
	Payer  string
	TxHash string

	// Response is the 402/500 body on failure.
	Response *wire.PaymentRequired
}

// parsed couples the decoded client payload with the server's expected
// requirements; the requirements are never taken from the client.
type parsed struct {
	payload      wire.PaymentPayload
	requirements wire.PaymentRequirements
}

// Process runs parse → verify → settle over an X-PAYMENT header value.
// Stage failures are categorized: parse and verify are client-attributable
// (402, the client can re-sign with corrected input); settle is
// chain-attributable (500, retrying the same authorization is meaningless).
func (s *Server) Process(ctx context.Context, header string, reqs wire.PaymentRequirements) *ProcessResult {
	p, result := s.parse(header, reqs)
	if result != nil {
		return result
	}

	payer, result := s.verify(ctx, p)
	if result != nil {
		return result
	}

	txHash, result := s.settle(ctx, p)
	if result != nil {
		return result
	}

	s.log.Info("payment settled",
		zap.String("txHash", txHash),
		zap.String("network", p.requirements.Network),
	)
	return &ProcessResult{
		Success:    true,
		StatusCode: http.StatusOK,
		Payer:      payer,
		TxHash:     txHash,
	}
}

func (s *Server) parse(header string, reqs wire.PaymentRequirements) (parsed, *ProcessResult) {
	if header == "" {
		return parsed{}, s.fail(http.StatusPaymentRequired, wire.StageParse, "missing_payment_header", reqs)
	}
	payload, err := wire.DecodePayment(header)
	if err != nil {
		return parsed{}, s.fail(http.StatusPaymentRequired, wire.StageParse, "invalid_payment_header: "+err.Error(), reqs)
	}
	return parsed{payload: payload, requirements: reqs}, nil
}

func (s *Server) verify(ctx context.Context, p parsed) (string, *ProcessResult) {
	vr, err := s.fac.Verify(ctx, p.payload, p.requirements)
	if err != nil {
		return "", s.fail(http.StatusPaymentRequired, wire.StageVerify, err.Error(), p.requirements)
	}
	if !vr.Success {
		return "", s.fail(http.StatusPaymentRequired, wire.StageVerify, errorText(vr.Error, vr.ErrorMessage, "verification failed"), p.requirements)
	}
	if vr.Payer == "" {
		return "", s.fail(http.StatusPaymentRequired, wire.StageVerify, "Payer address not found in verification result", p.requirements)
	}
	return vr.Payer, nil
}

func (s *Server) settle(ctx context.Context, p parsed) (string, *ProcessResult) {
	sr, err := s.fac.Settle(ctx, p.payload, p.requirements)
	if err != nil {
		return "", s.fail(http.StatusInternalServerError, wire.StageSettle, err.Error(), p.requirements)
	}
	if !sr.Success {
		return "", s.fail(http.StatusInternalServerError, wire.StageSettle, errorText(sr.Error, sr.ErrorMessage, "settlement failed"), p.requirements)
	}
	return sr.Transaction, nil
}

func (s *Server) fail(status int, stage wire.Stage, msg string, reqs wire.PaymentRequirements) *ProcessResult {
	s.log.Debug("payment rejected",
		zap.String("stage", string(stage)),
		zap.Int("status", status),
		zap.String("error", msg),
	)
	return &ProcessResult{
		Success:    false,
		StatusCode: status,
		Response: &wire.PaymentRequired{
			X402Version: wire.X402Version,
			Accepts:     []wire.PaymentRequirements{reqs},
			Error:       msg,
			ErrorStage:  stage,
		},
	}
}

func errorText(code, message, fallback string) string {
	if code != "" {
		return code
	}
	if message != "" {
		return message
	}
	return fallback
}
