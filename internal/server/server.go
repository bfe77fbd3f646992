// Package server is the x402 payment core: it builds PaymentRequirements
// for protected resources and runs the parse → verify → settle pipeline
// over incoming X-PAYMENT headers.
package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/x402labs/x402-gateway/internal/detector"
	"github.com/x402labs/x402-gateway/internal/rpc"
	"github.com/x402labs/x402-gateway/internal/wire"
)

// Facilitator is the remote verification/settlement service the pipeline
// delegates to. Implemented by facilitator.Client.
type Facilitator interface {
	Verify(ctx context.Context, payload wire.PaymentPayload, reqs wire.PaymentRequirements) (*wire.VerifyResponse, error)
	Settle(ctx context.Context, payload wire.PaymentPayload, reqs wire.PaymentRequirements) (*wire.SettleResponse, error)
	Supported(ctx context.Context, chainID, tokenAddress string) (*wire.SupportedResponse, error)
}

// Config carries the collaborators a Server needs.
type Config struct {
	// RPC performs chain reads for capability detection. Required.
	RPC rpc.Client

	// Facilitator verifies and settles authorizations. Required.
	Facilitator Facilitator

	// Network overrides chain-id based network resolution.
	Network string

	// PayTo is the default receiving address when a resource does not
	// specify its own.
	PayTo string

	Logger *zap.Logger
}

// Server owns one token detector (and its cache) and one facilitator
// client for the lifetime of the process. Safe for concurrent use.
type Server struct {
	rpc     rpc.Client
	fac     Facilitator
	det     *detector.Detector
	network string
	payTo   string
	log     *zap.Logger
}

// New constructs a Server. The detector cache starts cold; use
// Detector().Initialize to warm it.
func New(cfg Config) (*Server, error) {
	if cfg.RPC == nil {
		return nil, fmt.Errorf("server: rpc client is required")
	}
	if cfg.Facilitator == nil {
		return nil, fmt.Errorf("server: facilitator is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		rpc:     cfg.RPC,
		fac:     cfg.Facilitator,
		det:     detector.New(cfg.RPC, log.Named("detector")),
		network: cfg.Network,
		payTo:   cfg.PayTo,
		log:     log,
	}, nil
}

// Detector exposes the server's token detector for warm-up and cache
// maintenance.
func (s *Server) Detector() *detector.Detector { return s.det }
