// Package wire defines the x402 protocol types carried between client,
// resource server, and facilitator, together with the header codec and
// schema validation.
package wire

import (
	"encoding/json"
	"fmt"
)

// X402Version is the protocol version emitted by this server.
const X402Version = 1

// SchemeExact is the only payment scheme supported.
const SchemeExact = "exact"

// PaymentType identifies the EIP-712 authorization flavor of a payment.
type PaymentType string

const (
	TypePermit  PaymentType = "permit"
	TypeEIP3009 PaymentType = "eip3009"
	TypePermit2 PaymentType = "permit2"
)

// Valid reports whether t is one of the closed set of payment types.
func (t PaymentType) Valid() bool {
	switch t {
	case TypePermit, TypeEIP3009, TypePermit2:
		return true
	}
	return false
}

// PrimaryType returns the EIP-712 primary type name the facilitator
// advertises for this payment type.
func (t PaymentType) PrimaryType() string {
	switch t {
	case TypePermit:
		return "Permit"
	case TypeEIP3009:
		return "TransferWithAuthorization"
	case TypePermit2:
		return "Permit2"
	}
	return ""
}

// Stage names the pipeline stage a failure is attributed to.
type Stage string

const (
	StageParse  Stage = "parse"
	StageVerify Stage = "verify"
	StageSettle Stage = "settle"
)

// PaymentRequirements describes the terms the server will accept for a
// protected resource. It is the element type of the 402 "accepts" array.
type PaymentRequirements struct {
	// Scheme is always "exact".
	Scheme string `json:"scheme"`

	// Network is a chain identifier from the closed set in internal/network.
	Network string `json:"network"`

	// MaxAmountRequired is a non-negative decimal integer in base units of
	// the token, as a string (may exceed 64-bit range).
	MaxAmountRequired string `json:"maxAmountRequired"`

	// PayTo is the merchant's receiving address.
	PayTo string `json:"payTo"`

	// Asset is the ERC-20 token contract address.
	Asset string `json:"asset"`

	// PaymentType is the authorization flavor the client must sign.
	PaymentType PaymentType `json:"paymentType"`

	// MaxTimeoutSeconds is the validity window for the authorization.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	Resource    string `json:"resource,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`

	// OutputSchema is an opaque mapping returned to the client untouched.
	OutputSchema map[string]any `json:"outputSchema,omitempty"`

	// Extra carries scheme-specific data; the detector injects the EIP-712
	// domain "name" and "version" when known.
	Extra map[string]any `json:"extra,omitempty"`
}

// PaymentRequired is the 402 (or 500, for settle failures) response body.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Accepts     []PaymentRequirements `json:"accepts"`
	Error       string                `json:"error,omitempty"`
	ErrorStage  Stage                 `json:"errorStage,omitempty"`
}

// PaymentPayload is the client's signed authorization, carried base64-JSON
// in the X-PAYMENT header.
type PaymentPayload struct {
	X402Version int                  `json:"x402Version"`
	Scheme      string               `json:"scheme"`
	Network     string               `json:"network"`
	Payload     AuthorizationPayload `json:"payload"`
}

// AuthorizationPayload is the inner authorization, discriminated by the
// "authorizationType" tag. Exactly one of the case pointers is non-nil.
type AuthorizationPayload struct {
	Type    PaymentType
	Permit  *PermitAuthorization
	EIP3009 *EIP3009Authorization
	Permit2 *Permit2Authorization
}

// PermitAuthorization carries the typed fields of an EIP-2612 permit.
type PermitAuthorization struct {
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Value     string `json:"value"`
	Nonce     string `json:"nonce"`
	Deadline  string `json:"deadline"`
	Signature string `json:"signature"`
}

// EIP3009Authorization carries the typed fields of an EIP-3009
// transferWithAuthorization.
type EIP3009Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
	Signature   string `json:"signature"`
}

// Permit2Authorization carries the typed fields of a Permit2
// SignatureTransfer, with an optional witness.
type Permit2Authorization struct {
	Owner     string         `json:"owner"`
	To        string         `json:"to"`
	Token     string         `json:"token"`
	Amount    string         `json:"amount"`
	Nonce     string         `json:"nonce"`
	Deadline  string         `json:"deadline"`
	Witness   map[string]any `json:"witness,omitempty"`
	Signature string         `json:"signature"`
}

type taggedPayload struct {
	AuthorizationType PaymentType `json:"authorizationType"`
}

// UnmarshalJSON decodes the tagged union: the authorizationType field is
// read first, then the body is decoded into the matching case.
func (a *AuthorizationPayload) UnmarshalJSON(data []byte) error {
	var tag taggedPayload
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	switch tag.AuthorizationType {
	case TypePermit:
		a.Permit = &PermitAuthorization{}
		if err := json.Unmarshal(data, a.Permit); err != nil {
			return err
		}
	case TypeEIP3009:
		a.EIP3009 = &EIP3009Authorization{}
		if err := json.Unmarshal(data, a.EIP3009); err != nil {
			return err
		}
	case TypePermit2:
		a.Permit2 = &Permit2Authorization{}
		if err := json.Unmarshal(data, a.Permit2); err != nil {
			return err
		}
	case "":
		return fmt.Errorf("payload missing authorizationType")
	default:
		return fmt.Errorf("unknown authorizationType %q", tag.AuthorizationType)
	}
	a.Type = tag.AuthorizationType
	return nil
}

// MarshalJSON emits the active case with its authorizationType tag.
func (a AuthorizationPayload) MarshalJSON() ([]byte, error) {
	var body any
	switch a.Type {
	case TypePermit:
		body = a.Permit
	case TypeEIP3009:
		body = a.EIP3009
	case TypePermit2:
		body = a.Permit2
	default:
		return nil, fmt.Errorf("unknown authorizationType %q", a.Type)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	// Splice the tag into the case object.
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	m["authorizationType"], _ = json.Marshal(a.Type)
	return json.Marshal(m)
}

// Payer returns the authorizing address carried by the payload, or "".
func (a AuthorizationPayload) Payer() string {
	switch a.Type {
	case TypePermit:
		if a.Permit != nil {
			return a.Permit.Owner
		}
	case TypeEIP3009:
		if a.EIP3009 != nil {
			return a.EIP3009.From
		}
	case TypePermit2:
		if a.Permit2 != nil {
			return a.Permit2.Owner
		}
	}
	return ""
}

// ── Facilitator wire types ──────────────────────────────────────────────────

// WaitUntil selects how long the facilitator blocks on /settle.
// Only "confirmed" is emitted today; "simulated" and "submitted" are
// reserved future values.
type WaitUntil string

const WaitConfirmed WaitUntil = "confirmed"

// VerifyRequest is the POST /verify body.
type VerifyRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse is the POST /verify result.
type VerifyResponse struct {
	Success      bool   `json:"success"`
	Payer        string `json:"payer,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// SettleRequest is the POST /settle body.
type SettleRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
	WaitUntil           WaitUntil           `json:"waitUntil"`
}

// SettleResponse is the POST /settle result.
type SettleResponse struct {
	Success      bool           `json:"success"`
	Transaction  string         `json:"transaction,omitempty"`
	Network      string         `json:"network,omitempty"`
	Receipt      map[string]any `json:"receipt,omitempty"`
	Error        string         `json:"error,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

// EIP712Info is the domain data a facilitator advertises per asset.
type EIP712Info struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	PrimaryType string `json:"primaryType"`
}

// SupportedAsset is one asset entry in a facilitator's support matrix.
type SupportedAsset struct {
	Address string     `json:"address"`
	EIP712  EIP712Info `json:"eip712"`
}

// SupportedExtra is the extra block of a supported kind.
type SupportedExtra struct {
	Assets []SupportedAsset `json:"assets,omitempty"`
}

// SupportedKind is one entry of the facilitator's GET /supported response.
type SupportedKind struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Extra       SupportedExtra `json:"extra,omitempty"`
}

// SupportedResponse is the GET /supported body.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}
