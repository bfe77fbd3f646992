package wire

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

func validEIP3009Payload() PaymentPayload {
	return PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "bsc",
		Payload: AuthorizationPayload{
			Type: TypeEIP3009,
			EIP3009: &EIP3009Authorization{
				From:        "0x1111111111111111111111111111111111111111",
				To:          "0x2222222222222222222222222222222222222222",
				Value:       "1000000",
				ValidAfter:  "0",
				ValidBefore: "1893456000",
				Nonce:       "0xabc123",
				Signature:   "0xdeadbeef",
			},
		},
	}
}

func TestEncodeDecodePayment_RoundTrip(t *testing.T) {
	in := validEIP3009Payload()

	encoded, err := EncodePayment(in)
	if err != nil {
		t.Fatalf("EncodePayment: %v", err)
	}

	out, err := DecodePayment(encoded)
	if err != nil {
		t.Fatalf("DecodePayment: %v", err)
	}

	if out.X402Version != in.X402Version || out.Scheme != in.Scheme || out.Network != in.Network {
		t.Errorf("envelope mismatch: got %+v", out)
	}
	if out.Payload.Type != TypeEIP3009 {
		t.Fatalf("payload type: got %q", out.Payload.Type)
	}
	if *out.Payload.EIP3009 != *in.Payload.EIP3009 {
		t.Errorf("authorization mismatch:\n got %+v\nwant %+v", *out.Payload.EIP3009, *in.Payload.EIP3009)
	}
}

func TestDecodePayment_DataURIPrefix(t *testing.T) {
	encoded, err := EncodePayment(validEIP3009Payload())
	if err != nil {
		t.Fatal(err)
	}

	out, err := DecodePayment("data:application/json;base64," + encoded)
	if err != nil {
		t.Fatalf("DecodePayment with prefix: %v", err)
	}
	if out.Payload.Type != TypeEIP3009 {
		t.Errorf("payload type: got %q", out.Payload.Type)
	}
}

func TestDecodePayment_Errors(t *testing.T) {
	validJSON, _ := json.Marshal(validEIP3009Payload())

	badSchema := validEIP3009Payload()
	badSchema.Scheme = "lightning"
	badSchemaJSON, _ := json.Marshal(badSchema)

	tests := []struct {
		name    string
		header  string
		wantSub string
	}{
		{"not base64", "!!!not-base64!!!", "decode base64"},
		{"not json", base64.StdEncoding.EncodeToString([]byte("{nope")), "unmarshal payment"},
		{"schema failure", base64.StdEncoding.EncodeToString(badSchemaJSON), "scheme"},
		{"valid control", base64.StdEncoding.EncodeToString(validJSON), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePayment(tt.header)
			if tt.wantSub == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("error %v, want substring %q", err, tt.wantSub)
			}
		})
	}
}

func TestAuthorizationPayload_Tagged(t *testing.T) {
	tests := []struct {
		name string
		json string
		typ  PaymentType
	}{
		{
			"permit",
			`{"authorizationType":"permit","owner":"0x1111111111111111111111111111111111111111","spender":"0x2222222222222222222222222222222222222222","value":"5","nonce":"1","deadline":"99","signature":"0x01"}`,
			TypePermit,
		},
		{
			"eip3009",
			`{"authorizationType":"eip3009","from":"0x1111111111111111111111111111111111111111","to":"0x2222222222222222222222222222222222222222","value":"5","validAfter":"0","validBefore":"99","nonce":"0x01","signature":"0x01"}`,
			TypeEIP3009,
		},
		{
			"permit2",
			`{"authorizationType":"permit2","owner":"0x1111111111111111111111111111111111111111","to":"0x2222222222222222222222222222222222222222","token":"0x3333333333333333333333333333333333333333","amount":"5","nonce":"1","deadline":"99","signature":"0x01"}`,
			TypePermit2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a AuthorizationPayload
			if err := json.Unmarshal([]byte(tt.json), &a); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if a.Type != tt.typ {
				t.Fatalf("type: got %q want %q", a.Type, tt.typ)
			}

			// Marshal back and make sure the tag survives.
			raw, err := json.Marshal(a)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var m map[string]any
			json.Unmarshal(raw, &m) //nolint:errcheck
			if m["authorizationType"] != string(tt.typ) {
				t.Errorf("authorizationType: got %v want %q", m["authorizationType"], tt.typ)
			}
		})
	}
}

func TestAuthorizationPayload_UnknownTag(t *testing.T) {
	var a AuthorizationPayload
	err := json.Unmarshal([]byte(`{"authorizationType":"hugs"}`), &a)
	if err == nil || !strings.Contains(err.Error(), "hugs") {
		t.Fatalf("error %v, want unknown authorizationType", err)
	}

	err = json.Unmarshal([]byte(`{"owner":"0x"}`), &a)
	if err == nil || !strings.Contains(err.Error(), "missing authorizationType") {
		t.Fatalf("error %v, want missing authorizationType", err)
	}
}

func TestAuthorizationPayload_Payer(t *testing.T) {
	p := validEIP3009Payload()
	if got := p.Payload.Payer(); got != "0x1111111111111111111111111111111111111111" {
		t.Errorf("Payer: got %q", got)
	}
}
