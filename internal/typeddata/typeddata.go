// Package typeddata computes the EIP-712 digests a client signs to
// authorize an x402 payment: EIP-2612 Permit, EIP-3009
// TransferWithAuthorization, and Permit2 PermitTransferFrom. The gateway
// itself never signs; these helpers exist for the x402pay test client and
// for recovering payer addresses in tests.
package typeddata

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	permitTypeHash = crypto.Keccak256Hash([]byte(
		"Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)",
	))
	transferWithAuthTypeHash = crypto.Keccak256Hash([]byte(
		"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)",
	))
	// Nested type: the TokenPermissions definition is appended per EIP-712
	// encodeType rules.
	permitTransferFromTypeHash = crypto.Keccak256Hash([]byte(
		"PermitTransferFrom(TokenPermissions permitted,address spender,uint256 nonce,uint256 deadline)TokenPermissions(address token,uint256 amount)",
	))
	tokenPermissionsTypeHash = crypto.Keccak256Hash([]byte(
		"TokenPermissions(address token,uint256 amount)",
	))
)

// Domain is the EIP-712 domain of the verifying contract. For permit and
// eip3009 that is the token itself, with the name and version the detector
// reads on-chain.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Separator computes the 4-field domain separator
// (name, version, chainId, verifyingContract).
func (d Domain) Separator() [32]byte {
	typeHash := crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	enc := newEncoder(5)
	enc.hash(typeHash)
	enc.hash(crypto.Keccak256Hash([]byte(d.Name)))
	enc.hash(crypto.Keccak256Hash([]byte(d.Version)))
	enc.uint(d.ChainID)
	enc.address(d.VerifyingContract)
	return crypto.Keccak256Hash(enc.bytes())
}

// permit2Separator computes Permit2's version-less domain separator. The
// name is fixed; the deployment address is the same on every chain.
func permit2Separator(chainID *big.Int, contract common.Address) [32]byte {
	typeHash := crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,uint256 chainId,address verifyingContract)",
	))
	enc := newEncoder(4)
	enc.hash(typeHash)
	enc.hash(crypto.Keccak256Hash([]byte("Permit2")))
	enc.uint(chainID)
	enc.address(contract)
	return crypto.Keccak256Hash(enc.bytes())
}

// PermitDigest is the digest of an EIP-2612 permit.
func PermitDigest(d Domain, owner, spender common.Address, value, nonce, deadline *big.Int) [32]byte {
	enc := newEncoder(6)
	enc.hash(permitTypeHash)
	enc.address(owner)
	enc.address(spender)
	enc.uint(value)
	enc.uint(nonce)
	enc.uint(deadline)
	return finalDigest(d.Separator(), crypto.Keccak256Hash(enc.bytes()))
}

// TransferWithAuthorizationDigest is the digest of an EIP-3009
// transferWithAuthorization.
func TransferWithAuthorizationDigest(d Domain, from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte) [32]byte {
	enc := newEncoder(7)
	enc.hash(transferWithAuthTypeHash)
	enc.address(from)
	enc.address(to)
	enc.uint(value)
	enc.uint(validAfter)
	enc.uint(validBefore)
	enc.word(nonce)
	return finalDigest(d.Separator(), crypto.Keccak256Hash(enc.bytes()))
}

// Permit2TransferDigest is the digest of a Permit2 PermitTransferFrom.
// permit2 is the Permit2 contract address; spender is the settlement
// contract the facilitator drives.
func Permit2TransferDigest(chainID *big.Int, permit2, token, spender common.Address, amount, nonce, deadline *big.Int) [32]byte {
	perm := newEncoder(3)
	perm.hash(tokenPermissionsTypeHash)
	perm.address(token)
	perm.uint(amount)
	permittedHash := crypto.Keccak256Hash(perm.bytes())

	enc := newEncoder(5)
	enc.hash(permitTransferFromTypeHash)
	enc.hash(permittedHash)
	enc.address(spender)
	enc.uint(nonce)
	enc.uint(deadline)
	return finalDigest(permit2Separator(chainID, permit2), crypto.Keccak256Hash(enc.bytes()))
}

// Sign produces a 65-byte R||S||V signature with V in {27,28}, the form
// Solidity's ecrecover and the facilitator expect.
func Sign(digest [32]byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// Recover extracts the signer address from a typed-data signature.
func Recover(digest [32]byte, sig []byte) (common.Address, error) {
	sigCopy := make([]byte, 65)
	copy(sigCopy, sig)
	if len(sig) == 65 && sigCopy[64] >= 27 {
		sigCopy[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], sigCopy)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func finalDigest(separator, structHash [32]byte) [32]byte {
	msg := make([]byte, 2+32+32)
	msg[0] = 0x19
	msg[1] = 0x01
	copy(msg[2:34], separator[:])
	copy(msg[34:66], structHash[:])
	return crypto.Keccak256Hash(msg)
}

// encoder lays out abi.encode-style 32-byte words.
type encoder struct {
	buf []byte
	off int
}

func newEncoder(words int) *encoder {
	return &encoder{buf: make([]byte, words*32)}
}

func (e *encoder) hash(h common.Hash) {
	copy(e.buf[e.off:e.off+32], h[:])
	e.off += 32
}

func (e *encoder) word(w [32]byte) {
	copy(e.buf[e.off:e.off+32], w[:])
	e.off += 32
}

func (e *encoder) uint(v *big.Int) {
	if v != nil {
		v.FillBytes(e.buf[e.off : e.off+32])
	}
	e.off += 32
}

// address is right-aligned in its 32-byte slot.
func (e *encoder) address(a common.Address) {
	copy(e.buf[e.off+12:e.off+32], a.Bytes())
	e.off += 32
}

func (e *encoder) bytes() []byte { return e.buf }
