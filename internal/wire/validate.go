package wire

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

var addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidAddress reports whether s is a 20-byte 0x-prefixed hex address.
func ValidAddress(s string) bool {
	return addressRe.MatchString(s)
}

// ValidAmount reports whether s is a non-negative decimal integer of
// arbitrary precision.
func ValidAmount(s string) bool {
	n, ok := new(big.Int).SetString(s, 10)
	return ok && n.Sign() >= 0 && !strings.ContainsAny(s, "+- ")
}

// Issue is one field-level validation failure.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates field-level issues. The gate middleware maps
// it to HTTP 400 instead of 402.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, iss := range e.Issues {
		parts[i] = iss.Field + ": " + iss.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Add(field, format string, args ...any) {
	e.Issues = append(e.Issues, Issue{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) OrNil() error {
	if len(e.Issues) == 0 {
		return nil
	}
	return e
}

// AsValidationError unwraps err into a *ValidationError if it is one.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// Validate checks a PaymentRequirements record against the schema.
func (r PaymentRequirements) Validate() error {
	ve := &ValidationError{}
	if r.Scheme != SchemeExact {
		ve.Add("scheme", "must be %q, got %q", SchemeExact, r.Scheme)
	}
	if r.Network == "" {
		ve.Add("network", "required")
	}
	if !ValidAmount(r.MaxAmountRequired) {
		ve.Add("maxAmountRequired", "must be a non-negative decimal integer, got %q", r.MaxAmountRequired)
	}
	if !ValidAddress(r.PayTo) {
		ve.Add("payTo", "must be a 0x-prefixed 20-byte hex address, got %q", r.PayTo)
	}
	if !ValidAddress(r.Asset) {
		ve.Add("asset", "must be a 0x-prefixed 20-byte hex address, got %q", r.Asset)
	}
	if !r.PaymentType.Valid() {
		ve.Add("paymentType", "must be one of permit, eip3009, permit2, got %q", r.PaymentType)
	}
	if r.MaxTimeoutSeconds <= 0 {
		ve.Add("maxTimeoutSeconds", "must be positive, got %d", r.MaxTimeoutSeconds)
	}
	return ve.OrNil()
}

// Validate checks a decoded PaymentPayload against the schema.
func (p PaymentPayload) Validate() error {
	ve := &ValidationError{}
	if p.X402Version != X402Version {
		ve.Add("x402Version", "must be %d, got %d", X402Version, p.X402Version)
	}
	if p.Scheme != SchemeExact {
		ve.Add("scheme", "must be %q, got %q", SchemeExact, p.Scheme)
	}
	if p.Network == "" {
		ve.Add("network", "required")
	}
	switch p.Payload.Type {
	case TypePermit:
		validatePermit(ve, p.Payload.Permit)
	case TypeEIP3009:
		validateEIP3009(ve, p.Payload.EIP3009)
	case TypePermit2:
		validatePermit2(ve, p.Payload.Permit2)
	default:
		ve.Add("payload.authorizationType", "must be one of permit, eip3009, permit2, got %q", p.Payload.Type)
	}
	return ve.OrNil()
}

func validatePermit(ve *ValidationError, a *PermitAuthorization) {
	if a == nil {
		ve.Add("payload", "permit authorization missing")
		return
	}
	if !ValidAddress(a.Owner) {
		ve.Add("payload.owner", "invalid address %q", a.Owner)
	}
	if !ValidAddress(a.Spender) {
		ve.Add("payload.spender", "invalid address %q", a.Spender)
	}
	if !ValidAmount(a.Value) {
		ve.Add("payload.value", "invalid amount %q", a.Value)
	}
	if a.Deadline == "" {
		ve.Add("payload.deadline", "required")
	}
	if a.Signature == "" {
		ve.Add("payload.signature", "required")
	}
}

func validateEIP3009(ve *ValidationError, a *EIP3009Authorization) {
	if a == nil {
		ve.Add("payload", "eip3009 authorization missing")
		return
	}
	if !ValidAddress(a.From) {
		ve.Add("payload.from", "invalid address %q", a.From)
	}
	if !ValidAddress(a.To) {
		ve.Add("payload.to", "invalid address %q", a.To)
	}
	if !ValidAmount(a.Value) {
		ve.Add("payload.value", "invalid amount %q", a.Value)
	}
	if a.ValidBefore == "" {
		ve.Add("payload.validBefore", "required")
	}
	if a.Nonce == "" {
		ve.Add("payload.nonce", "required")
	}
	if a.Signature == "" {
		ve.Add("payload.signature", "required")
	}
}

func validatePermit2(ve *ValidationError, a *Permit2Authorization) {
	if a == nil {
		ve.Add("payload", "permit2 authorization missing")
		return
	}
	if !ValidAddress(a.Owner) {
		ve.Add("payload.owner", "invalid address %q", a.Owner)
	}
	if !ValidAddress(a.Token) {
		ve.Add("payload.token", "invalid address %q", a.Token)
	}
	if !ValidAmount(a.Amount) {
		ve.Add("payload.amount", "invalid amount %q", a.Amount)
	}
	if a.Deadline == "" {
		ve.Add("payload.deadline", "required")
	}
	if a.Signature == "" {
		ve.Add("payload.signature", "required")
	}
}
