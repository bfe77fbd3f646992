// x402pay is a test client for x402-gated endpoints: it fetches the 402
// payment terms, signs a matching authorization with a local private key,
// and prints (or replays with) the X-Payment header.
//
// Usage:
//
//	x402pay -url http://localhost:8080/premium -key <hex> [-send] [-nonce N]
//
// The signature is cryptographically real but only settles if the key
// actually holds the token balance on the target chain.
package main

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/x402labs/x402-gateway/internal/network"
	"github.com/x402labs/x402-gateway/internal/typeddata"
	"github.com/x402labs/x402-gateway/internal/wire"
)

var permit2Contract = common.HexToAddress("0x000000000022D473030F116dDEE9F6B43aC78BA3")

func main() {
	var (
		urlFlag   = flag.String("url", "", "payment-gated endpoint")
		keyFlag   = flag.String("key", "", "hex private key (no 0x)")
		nonceFlag = flag.Int64("nonce", 0, "nonce for permit/permit2 authorizations")
		sendFlag  = flag.Bool("send", false, "replay the request with the payment header")
	)
	flag.Parse()
	if *urlFlag == "" || *keyFlag == "" {
		flag.Usage()
		os.Exit(2)
	}

	key, err := crypto.HexToECDSA(*keyFlag)
	if err != nil {
		fatal("parse key: %v", err)
	}
	payer := crypto.PubkeyToAddress(key.PublicKey)

	reqs, err := fetchTerms(*urlFlag)
	if err != nil {
		fatal("fetch payment terms: %v", err)
	}
	fmt.Printf("terms:   %s %s on %s, max %s (as %s)\n",
		reqs.PaymentType, reqs.Asset, reqs.Network, reqs.MaxAmountRequired, payer.Hex())

	payload, err := buildPayload(reqs, key, payer, *nonceFlag)
	if err != nil {
		fatal("build payment: %v", err)
	}
	header, err := wire.EncodePayment(payload)
	if err != nil {
		fatal("encode payment: %v", err)
	}
	fmt.Printf("header:  %s\n", header)

	if *sendFlag {
		req, err := http.NewRequest(http.MethodGet, *urlFlag, nil)
		if err != nil {
			fatal("build request: %v", err)
		}
		req.Header.Set("X-Payment", header)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fatal("send: %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		fmt.Printf("status:  %d\nbody:    %s\n", resp.StatusCode, body)
	}
}

// fetchTerms hits the endpoint without payment and takes the first entry
// of the 402 accepts array.
func fetchTerms(url string) (wire.PaymentRequirements, error) {
	resp, err := http.Get(url)
	if err != nil {
		return wire.PaymentRequirements{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		return wire.PaymentRequirements{}, fmt.Errorf("expected 402, got %d", resp.StatusCode)
	}
	var pr wire.PaymentRequired
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return wire.PaymentRequirements{}, err
	}
	if len(pr.Accepts) == 0 {
		return wire.PaymentRequirements{}, fmt.Errorf("402 carried no accepts")
	}
	return pr.Accepts[0], nil
}

func buildPayload(reqs wire.PaymentRequirements, key *ecdsa.PrivateKey, payer common.Address, nonce int64) (wire.PaymentPayload, error) {
	chainID := network.ChainID(reqs.Network)
	if chainID == nil {
		return wire.PaymentPayload{}, fmt.Errorf("no chain id for network %q", reqs.Network)
	}
	domain := typeddata.Domain{
		Name:              extraString(reqs.Extra, "name"),
		Version:           extraString(reqs.Extra, "version"),
		ChainID:           chainID,
		VerifyingContract: common.HexToAddress(reqs.Asset),
	}
	value, ok := new(big.Int).SetString(reqs.MaxAmountRequired, 10)
	if !ok {
		return wire.PaymentPayload{}, fmt.Errorf("bad amount %q", reqs.MaxAmountRequired)
	}
	payTo := common.HexToAddress(reqs.PayTo)
	deadline := big.NewInt(time.Now().Unix() + int64(reqs.MaxTimeoutSeconds))

	payload := wire.PaymentPayload{
		X402Version: wire.X402Version,
		Scheme:      reqs.Scheme,
		Network:     reqs.Network,
	}

	switch reqs.PaymentType {
	case wire.TypeEIP3009:
		var nonce32 [32]byte
		if _, err := rand.Read(nonce32[:]); err != nil {
			return wire.PaymentPayload{}, err
		}
		digest := typeddata.TransferWithAuthorizationDigest(domain, payer, payTo,
			value, big.NewInt(0), deadline, nonce32)
		sig, err := typeddata.Sign(digest, key)
		if err != nil {
			return wire.PaymentPayload{}, err
		}
		payload.Payload = wire.AuthorizationPayload{
			Type: wire.TypeEIP3009,
			EIP3009: &wire.EIP3009Authorization{
				From:        payer.Hex(),
				To:          payTo.Hex(),
				Value:       value.String(),
				ValidAfter:  "0",
				ValidBefore: deadline.String(),
				Nonce:       "0x" + hex.EncodeToString(nonce32[:]),
				Signature:   "0x" + hex.EncodeToString(sig),
			},
		}

	case wire.TypePermit:
		digest := typeddata.PermitDigest(domain, payer, payTo,
			value, big.NewInt(nonce), deadline)
		sig, err := typeddata.Sign(digest, key)
		if err != nil {
			return wire.PaymentPayload{}, err
		}
		payload.Payload = wire.AuthorizationPayload{
			Type: wire.TypePermit,
			Permit: &wire.PermitAuthorization{
				Owner:     payer.Hex(),
				Spender:   payTo.Hex(),
				Value:     value.String(),
				Nonce:     big.NewInt(nonce).String(),
				Deadline:  deadline.String(),
				Signature: "0x" + hex.EncodeToString(sig),
			},
		}

	case wire.TypePermit2:
		digest := typeddata.Permit2TransferDigest(chainID, permit2Contract,
			common.HexToAddress(reqs.Asset), payTo, value, big.NewInt(nonce), deadline)
		sig, err := typeddata.Sign(digest, key)
		if err != nil {
			return wire.PaymentPayload{}, err
		}
		payload.Payload = wire.AuthorizationPayload{
			Type: wire.TypePermit2,
			Permit2: &wire.Permit2Authorization{
				Owner:     payer.Hex(),
				To:        payTo.Hex(),
				Token:     reqs.Asset,
				Amount:    value.String(),
				Nonce:     big.NewInt(nonce).String(),
				Deadline:  deadline.String(),
				Signature: "0x" + hex.EncodeToString(sig),
			},
		}

	default:
		return wire.PaymentPayload{}, fmt.Errorf("unsupported paymentType %q", reqs.PaymentType)
	}
	return payload, nil
}

func extraString(extra map[string]any, key string) string {
	if s, ok := extra[key].(string); ok {
		return s
	}
	return ""
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
