package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/x402labs/x402-gateway/internal/detector"
	"github.com/x402labs/x402-gateway/internal/network"
	"github.com/x402labs/x402-gateway/internal/wire"
)

// PaymentTypeAuto asks the builder to pick the payment type from detected
// token capabilities.
const PaymentTypeAuto = "auto"

// ErrNoPaymentMethod is returned when auto-detection finds no usable
// authorization flavor on the token.
var ErrNoPaymentMethod = errors.New("token does not support advanced payment methods")

// CreateConfig is the input for CreateRequirements.
type CreateConfig struct {
	Asset             string
	MaxAmountRequired string

	// PayTo overrides the server-level receiving address.
	PayTo string

	// Network overrides the server default; when both are empty the
	// network is resolved from the RPC chain id.
	Network string

	// Scheme defaults to "exact" (the only accepted value).
	Scheme string

	// PaymentType is permit, eip3009, permit2, or "auto"/empty for
	// detection.
	PaymentType string

	// AutoDetect defaults to true. When explicitly false, PaymentType is
	// required and the detector is skipped.
	AutoDetect *bool

	Resource          string
	Description       string
	MimeType          string
	MaxTimeoutSeconds int
	Extra             map[string]any
	OutputSchema      map[string]any
}

func (c CreateConfig) autoDetect() bool {
	return c.AutoDetect == nil || *c.AutoDetect
}

// validate checks the input fields that do not need I/O.
func (c CreateConfig) validate(defaultPayTo string) error {
	ve := &wire.ValidationError{}
	if !wire.ValidAddress(c.Asset) {
		ve.Add("asset", "must be a 0x-prefixed 20-byte hex address, got %q", c.Asset)
	}
	if !wire.ValidAmount(c.MaxAmountRequired) {
		ve.Add("maxAmountRequired", "must be a non-negative decimal integer, got %q", c.MaxAmountRequired)
	}
	payTo := c.PayTo
	if payTo == "" {
		payTo = defaultPayTo
	}
	if !wire.ValidAddress(payTo) {
		ve.Add("payTo", "must be a 0x-prefixed 20-byte hex address, got %q", payTo)
	}
	if c.Scheme != "" && c.Scheme != wire.SchemeExact {
		ve.Add("scheme", "must be %q, got %q", wire.SchemeExact, c.Scheme)
	}
	if c.MaxTimeoutSeconds < 0 {
		ve.Add("maxTimeoutSeconds", "must not be negative, got %d", c.MaxTimeoutSeconds)
	}
	switch c.PaymentType {
	case "", PaymentTypeAuto, string(wire.TypePermit), string(wire.TypeEIP3009), string(wire.TypePermit2):
	default:
		ve.Add("paymentType", "must be one of permit, eip3009, permit2, auto, got %q", c.PaymentType)
	}
	if !c.autoDetect() && (c.PaymentType == "" || c.PaymentType == PaymentTypeAuto) {
		ve.Add("paymentType", "must specify paymentType when autoDetect is false")
	}
	return ve.OrNil()
}

// CreateRequirements validates cfg, determines the payment type (running
// the detector unless disabled), cross-checks facilitator support, and
// emits a validated PaymentRequirements record.
func (s *Server) CreateRequirements(ctx context.Context, cfg CreateConfig) (*wire.PaymentRequirements, error) {
	if err := cfg.validate(s.payTo); err != nil {
		return nil, err
	}

	netName, err := s.resolveNetwork(ctx, cfg.Network)
	if err != nil {
		return nil, err
	}

	asset := common.HexToAddress(cfg.Asset)

	var (
		paymentType wire.PaymentType
		caps        *detector.Capabilities
	)
	if cfg.autoDetect() {
		caps, err = s.det.Detect(ctx, asset)
		if err != nil {
			return nil, fmt.Errorf("detect token capabilities: %w", err)
		}
		if cfg.PaymentType != "" && cfg.PaymentType != PaymentTypeAuto {
			paymentType = wire.PaymentType(cfg.PaymentType)
		} else {
			method, ok, err := s.det.RecommendedMethod(ctx, asset)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, ErrNoPaymentMethod
			}
			paymentType = wire.PaymentType(method)
		}
	} else {
		paymentType = wire.PaymentType(cfg.PaymentType)
	}

	if err := s.checkFacilitatorSupport(ctx, netName, cfg.Asset, paymentType); err != nil {
		return nil, err
	}

	reqs := &wire.PaymentRequirements{
		Scheme:            wire.SchemeExact,
		Network:           netName,
		MaxAmountRequired: cfg.MaxAmountRequired,
		PayTo:             cfg.PayTo,
		Asset:             cfg.Asset,
		PaymentType:       paymentType,
		MaxTimeoutSeconds: cfg.MaxTimeoutSeconds,
		Resource:          cfg.Resource,
		Description:       cfg.Description,
		MimeType:          cfg.MimeType,
		OutputSchema:      cfg.OutputSchema,
	}
	if reqs.PayTo == "" {
		reqs.PayTo = s.payTo
	}
	if reqs.MaxTimeoutSeconds == 0 {
		reqs.MaxTimeoutSeconds = 300
	}
	if reqs.MimeType == "" {
		reqs.MimeType = "application/json"
	}

	if len(cfg.Extra) > 0 || caps != nil {
		reqs.Extra = make(map[string]any, len(cfg.Extra)+2)
		for k, v := range cfg.Extra {
			reqs.Extra[k] = v
		}
		if caps != nil {
			if caps.Name != "" {
				reqs.Extra["name"] = caps.Name
			}
			if caps.Version != "" {
				reqs.Extra["version"] = caps.Version
			}
		}
	}

	if err := reqs.Validate(); err != nil {
		return nil, err
	}
	return reqs, nil
}

// resolveNetwork picks the network name: explicit, then server default,
// then RPC chain-id lookup.
func (s *Server) resolveNetwork(ctx context.Context, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if s.network != "" {
		return s.network, nil
	}
	id, err := s.rpc.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve network: %w", err)
	}
	return network.FromChainID(id), nil
}

// checkFacilitatorSupport confirms (network, asset, primaryType) appears
// in the facilitator's support matrix. An empty or unreachable matrix is
// tolerated; a populated matrix without a match is a configuration error
// that enumerates every supported combination.
func (s *Server) checkFacilitatorSupport(ctx context.Context, netName, asset string, pt wire.PaymentType) error {
	var chainID string
	if id := network.ChainID(netName); id != nil {
		chainID = id.String()
	}
	sup, err := s.fac.Supported(ctx, chainID, asset)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("facilitator supported() failed, skipping support check", zap.Error(err))
		return nil
	}
	if len(sup.Kinds) == 0 {
		s.log.Warn("facilitator returned no supported kinds, skipping support check",
			zap.String("network", netName),
		)
		return nil
	}

	primary := pt.PrimaryType()
	var combos []string
	for _, kind := range sup.Kinds {
		for _, sa := range kind.Extra.Assets {
			if kind.Network == netName &&
				strings.EqualFold(sa.Address, asset) &&
				sa.EIP712.PrimaryType == primary {
				return nil
			}
			combos = append(combos, fmt.Sprintf("%s/%s/%s", kind.Network, strings.ToLower(sa.Address), sa.EIP712.PrimaryType))
		}
	}
	return fmt.Errorf("facilitator does not support %s for %s on %s (supported: %s)",
		pt, strings.ToLower(asset), netName, strings.Join(combos, ", "))
}
