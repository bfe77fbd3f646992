// Package detector decides which EIP-712 authorization flavors an ERC-20
// token supports, by inspecting on-chain bytecode and storage, and extracts
// the EIP-712 domain data needed to verify signatures. Results are cached
// for the lifetime of the process.
package detector

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/x402labs/x402-gateway/internal/network"
	"github.com/x402labs/x402-gateway/internal/rpc"
)

// Method is one detectable payment capability.
type Method string

const (
	MethodEIP3009        Method = "eip3009"
	MethodPermit         Method = "permit"
	MethodPermit2        Method = "permit2"
	MethodPermit2Witness Method = "permit2-witness"
)

// Permit2Address is the universal Permit2 deployment (same on every chain).
var Permit2Address = common.HexToAddress("0x000000000022D473030F116dDEE9F6B43aC78BA3")

// Function selectors searched for in token bytecode.
const (
	selTransferWithAuthorization = "e3ee160e"
	selReceiveWithAuthorization  = "cf092995"
	selPermit                    = "d505accf"
)

// ERC-165 interface IDs probed on the merchant's receiving contract.
var (
	ifaceSettleWithPermit  = [4]byte{0x02, 0xcc, 0xc2, 0x3e}
	ifaceSettleWithERC3009 = [4]byte{0x1f, 0xe2, 0x00, 0xd9}
	ifaceSettleWithPermit2 = [4]byte{0xa7, 0xfc, 0xaf, 0xbb}
)

// Capabilities is the detection result for one (chain, token) pair.
type Capabilities struct {
	SupportedMethods []Method
	HasEIP3009       bool
	HasPermit        bool
	HasPermit2       bool
	Name             string
	Version          string
}

// Supports reports whether m is among the supported methods.
func (c *Capabilities) Supports(m Method) bool {
	for _, s := range c.SupportedMethods {
		if s == m {
			return true
		}
	}
	return false
}

// SettleMethods reports which settlement entry points the merchant's
// receiving contract implements.
type SettleMethods struct {
	SupportsSettleWithPermit  bool
	SupportsSettleWithERC3009 bool
	SupportsSettleWithPermit2 bool
}

// CacheStats is a snapshot of the detection cache.
type CacheStats struct {
	Entries int
	Keys    []string
}

// Detector inspects token contracts and caches the results. Safe for
// concurrent use; concurrent misses on the same key are coalesced.
type Detector struct {
	rpc rpc.Client
	log *zap.Logger

	mu    sync.RWMutex
	cache map[string]*Capabilities

	group singleflight.Group

	chainMu sync.Mutex
	chainID *big.Int

	permit2Mu   sync.Mutex
	permit2Seen bool
	permit2OK   bool
}

// New creates a Detector over the given RPC client.
func New(client rpc.Client, log *zap.Logger) *Detector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{
		rpc:   client,
		log:   log,
		cache: make(map[string]*Capabilities),
	}
}

// Detect returns the capabilities of the token at addr, serving from cache
// when possible. It fails only when the token name cannot be read; every
// other RPC failure degrades the affected capability to absent.
func (d *Detector) Detect(ctx context.Context, addr common.Address) (*Capabilities, error) {
	chainID, err := d.resolveChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve chain id: %w", err)
	}
	key := cacheKey(chainID, addr)

	if caps := d.cached(key); caps != nil {
		return caps, nil
	}

	v, err, _ := d.group.Do(key, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have stored.
		if caps := d.cached(key); caps != nil {
			return caps, nil
		}
		caps, err := d.detect(ctx, addr, chainID)
		if err != nil {
			return nil, err
		}
		d.store(key, caps)
		return caps, nil
	})
	if err != nil {
		return nil, err
	}
	return copyCaps(v.(*Capabilities)), nil
}

// RecommendedMethod picks the preferred payment type for the token:
// eip3009 over permit over permit2. permit2-witness folds into permit2.
// The second return is false when the token supports none.
func (d *Detector) RecommendedMethod(ctx context.Context, addr common.Address) (Method, bool, error) {
	caps, err := d.Detect(ctx, addr)
	if err != nil {
		return "", false, err
	}
	switch {
	case caps.Supports(MethodEIP3009):
		return MethodEIP3009, true, nil
	case caps.Supports(MethodPermit):
		return MethodPermit, true, nil
	case caps.Supports(MethodPermit2) || caps.Supports(MethodPermit2Witness):
		return MethodPermit2, true, nil
	}
	return "", false, nil
}

// DetectSettleMethods probes ERC-165 supportsInterface on the merchant's
// receiving contract. Probe failures degrade to false.
func (d *Detector) DetectSettleMethods(ctx context.Context, recipient common.Address) (SettleMethods, error) {
	var sm SettleMethods
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sm.SupportsSettleWithPermit = d.supportsInterface(gctx, recipient, ifaceSettleWithPermit)
		return nil
	})
	g.Go(func() error {
		sm.SupportsSettleWithERC3009 = d.supportsInterface(gctx, recipient, ifaceSettleWithERC3009)
		return nil
	})
	g.Go(func() error {
		sm.SupportsSettleWithPermit2 = d.supportsInterface(gctx, recipient, ifaceSettleWithPermit2)
		return nil
	})
	_ = g.Wait()
	return sm, ctx.Err()
}

// Initialize warms the cache for a batch of tokens in parallel. Individual
// failures are logged and do not abort the batch.
func (d *Detector) Initialize(ctx context.Context, addrs []common.Address) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, addr := range addrs {
		addr := addr
		g.Go(func() error {
			if _, err := d.Detect(ctx, addr); err != nil {
				d.log.Warn("detector warm-up failed",
					zap.String("token", addr.Hex()),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// ClearCache drops cached results. With no arguments the whole cache is
// cleared; otherwise only entries for the given tokens (on any chain).
func (d *Detector) ClearCache(addrs ...common.Address) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(addrs) == 0 {
		d.cache = make(map[string]*Capabilities)
		return
	}
	for _, addr := range addrs {
		suffix := ":" + strings.ToLower(addr.Hex())
		for key := range d.cache {
			if strings.HasSuffix(key, suffix) {
				delete(d.cache, key)
			}
		}
	}
}

// Stats returns a snapshot of the cache contents.
func (d *Detector) Stats() CacheStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	stats := CacheStats{Entries: len(d.cache)}
	for key := range d.cache {
		stats.Keys = append(stats.Keys, key)
	}
	return stats
}

// ── internals ───────────────────────────────────────────────────────────────

func cacheKey(chainID *big.Int, addr common.Address) string {
	return chainID.String() + ":" + strings.ToLower(addr.Hex())
}

func (d *Detector) cached(key string) *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if caps, ok := d.cache[key]; ok {
		return copyCaps(caps)
	}
	return nil
}

func (d *Detector) store(key string, caps *Capabilities) {
	d.mu.Lock()
	d.cache[key] = caps
	d.mu.Unlock()
}

func copyCaps(caps *Capabilities) *Capabilities {
	cp := *caps
	cp.SupportedMethods = append([]Method(nil), caps.SupportedMethods...)
	return &cp
}

func (d *Detector) resolveChainID(ctx context.Context) (*big.Int, error) {
	d.chainMu.Lock()
	defer d.chainMu.Unlock()
	if d.chainID != nil {
		return d.chainID, nil
	}
	id, err := d.rpc.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	d.chainID = id
	return id, nil
}

// detect runs the full algorithm on a cache miss.
func (d *Detector) detect(ctx context.Context, addr common.Address, chainID *big.Int) (*Capabilities, error) {
	lower := strings.ToLower(addr.Hex())

	// Preset short-circuit: pinned tokens never hit the chain. Off the
	// pinned networks the result is entirely empty.
	if p, ok := lookupPreset(lower); ok {
		if !p.supportsNetwork(network.FromChainID(chainID)) {
			return &Capabilities{}, nil
		}
		caps := &Capabilities{Name: p.Name, Version: p.Version}
		caps.SupportedMethods = append([]Method(nil), p.Methods...)
		caps.HasEIP3009 = caps.Supports(MethodEIP3009)
		caps.HasPermit = caps.Supports(MethodPermit)
		caps.HasPermit2 = caps.Supports(MethodPermit2)
		return caps, nil
	}

	var (
		code       []byte
		hasPermit2 bool
	)
	g, probeCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := d.rpc.GetCode(probeCtx, addr)
		if err != nil {
			d.log.Debug("bytecode fetch failed", zap.String("token", lower), zap.Error(err))
			return nil
		}
		code = c
		return nil
	})
	g.Go(func() error {
		hasPermit2 = d.chainHasPermit2(probeCtx)
		return nil
	})
	_ = g.Wait()

	caps := &Capabilities{}
	hex := bytecodeHex(code)

	has3009 := containsSelector(hex, selTransferWithAuthorization) || containsSelector(hex, selReceiveWithAuthorization)
	hasPermit := containsSelector(hex, selPermit)

	// Proxy escalation: a single attempt per parent miss. An implementation
	// match counts as a token match.
	var implHex string
	var impl common.Address
	if len(code) > 0 && (!has3009 || !hasPermit) {
		if resolved, ok := d.resolveImplementation(ctx, addr); ok {
			impl = resolved
			if implCode, err := d.rpc.GetCode(ctx, resolved); err == nil {
				implHex = bytecodeHex(implCode)
			} else {
				d.log.Debug("implementation bytecode fetch failed",
					zap.String("token", lower),
					zap.String("implementation", resolved.Hex()),
					zap.Error(err),
				)
			}
		}
	}
	if implHex != "" {
		if !has3009 {
			has3009 = containsSelector(implHex, selTransferWithAuthorization) || containsSelector(implHex, selReceiveWithAuthorization)
		}
		if !hasPermit {
			hasPermit = containsSelector(implHex, selPermit)
		}
	}

	caps.HasEIP3009 = has3009
	caps.HasPermit = hasPermit
	caps.HasPermit2 = hasPermit2
	if has3009 {
		caps.SupportedMethods = append(caps.SupportedMethods, MethodEIP3009)
	}
	if hasPermit {
		caps.SupportedMethods = append(caps.SupportedMethods, MethodPermit)
	}
	if hasPermit2 {
		caps.SupportedMethods = append(caps.SupportedMethods, MethodPermit2, MethodPermit2Witness)
	}

	// Token info. name() goes through the proxy transparently, so it is
	// read from the token address; the implementation is only a fallback.
	name, err := d.readName(ctx, addr)
	if err != nil && impl != (common.Address{}) {
		name, err = d.readName(ctx, impl)
	}
	if err != nil {
		return nil, fmt.Errorf("read token name for %s: %w", lower, err)
	}
	caps.Name = name
	caps.Version = d.readVersion(ctx, addr)

	return caps, nil
}

// chainHasPermit2 reports whether the universal Permit2 contract is
// deployed on this chain. The answer is a chain property and is memoized.
func (d *Detector) chainHasPermit2(ctx context.Context) bool {
	d.permit2Mu.Lock()
	if d.permit2Seen {
		ok := d.permit2OK
		d.permit2Mu.Unlock()
		return ok
	}
	d.permit2Mu.Unlock()

	code, err := d.rpc.GetCode(ctx, Permit2Address)
	if err != nil {
		d.log.Debug("permit2 bytecode fetch failed", zap.Error(err))
		return false
	}

	d.permit2Mu.Lock()
	d.permit2Seen = true
	d.permit2OK = len(code) > 0
	ok := d.permit2OK
	d.permit2Mu.Unlock()
	return ok
}

func (d *Detector) readName(ctx context.Context, addr common.Address) (string, error) {
	out, err := d.rpc.ReadContract(ctx, addr, rpc.NameABI, "name")
	if err != nil {
		return "", err
	}
	name, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("name() returned %T", out[0])
	}
	return name, nil
}

// readVersion extracts the EIP-712 domain version: EIP-5267 eip712Domain()
// first, then version(), then "1". Both "function absent" and "read threw"
// fall through; the error is logged so operators can tell them apart.
func (d *Detector) readVersion(ctx context.Context, addr common.Address) string {
	if out, err := d.rpc.ReadContract(ctx, addr, rpc.EIP712DomainABI, "eip712Domain"); err == nil && len(out) > 2 {
		if v, ok := out[2].(string); ok && v != "" {
			return v
		}
	} else if err != nil {
		d.log.Debug("eip712Domain() read failed", zap.String("token", addr.Hex()), zap.Error(err))
	}
	if out, err := d.rpc.ReadContract(ctx, addr, rpc.VersionABI, "version"); err == nil {
		if v, ok := out[0].(string); ok && v != "" {
			return v
		}
	} else {
		d.log.Debug("version() read failed", zap.String("token", addr.Hex()), zap.Error(err))
	}
	return "1"
}

func (d *Detector) supportsInterface(ctx context.Context, addr common.Address, iface [4]byte) bool {
	out, err := d.rpc.ReadContract(ctx, addr, rpc.SupportsInterfaceABI, "supportsInterface", iface)
	if err != nil {
		d.log.Debug("supportsInterface probe failed",
			zap.String("contract", addr.Hex()),
			zap.String("interface", fmt.Sprintf("0x%x", iface)),
			zap.Error(err),
		)
		return false
	}
	ok, _ := out[0].(bool)
	return ok
}

// bytecodeHex normalizes bytecode to lowercase hex without the 0x prefix.
func bytecodeHex(code []byte) string {
	if len(code) == 0 {
		return ""
	}
	return strings.ToLower(common.Bytes2Hex(code))
}

func containsSelector(bytecode, selector string) bool {
	return bytecode != "" && strings.Contains(bytecode, selector)
}
