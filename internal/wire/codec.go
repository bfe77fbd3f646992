package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// dataURIPrefix is tolerated on incoming X-PAYMENT headers and stripped
// before decoding.
const dataURIPrefix = "data:application/json;base64,"

// EncodePayment converts a PaymentPayload to the base64-JSON form carried
// in the X-PAYMENT header.
func EncodePayment(p PaymentPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePayment decodes an X-PAYMENT header value into a PaymentPayload
// and schema-validates it. An optional data-URI prefix is stripped.
func DecodePayment(header string) (PaymentPayload, error) {
	var p PaymentPayload

	header = strings.TrimPrefix(header, dataURIPrefix)
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return p, fmt.Errorf("decode base64: %w", err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("unmarshal payment: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}
