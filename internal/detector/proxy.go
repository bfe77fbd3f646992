package detector

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/x402labs/x402-gateway/internal/rpc"
)

// Proxy implementation storage slots.
var (
	// keccak256("eip1967.proxy.implementation") - 1
	slotEIP1967 = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")
	// keccak256("PROXIABLE") (EIP-1822 / UUPS)
	slotEIP1822 = common.HexToHash("0x7050c9e0f4ca769c69bd3a8ef740bc37934f8e2c036e5a723fd8ee048ed3f8c3")
)

// resolveImplementation discovers the implementation behind a proxy.
// Strategies run in order, first non-zero address wins; individual failures
// are swallowed. All three failing means "not a proxy".
func (d *Detector) resolveImplementation(ctx context.Context, addr common.Address) (common.Address, bool) {
	for _, slot := range []common.Hash{slotEIP1967, slotEIP1822} {
		raw, err := d.rpc.GetStorageAt(ctx, addr, slot)
		if err != nil {
			d.log.Debug("proxy slot read failed",
				zap.String("token", addr.Hex()),
				zap.String("slot", slot.Hex()),
				zap.Error(err),
			)
			continue
		}
		if impl := addressFromSlot(raw); impl != (common.Address{}) {
			return impl, true
		}
	}

	out, err := d.rpc.ReadContract(ctx, addr, rpc.ImplementationABI, "implementation")
	if err != nil {
		d.log.Debug("implementation() call failed",
			zap.String("token", addr.Hex()),
			zap.Error(err),
		)
		return common.Address{}, false
	}
	if impl, ok := out[0].(common.Address); ok && impl != (common.Address{}) {
		return impl, true
	}
	return common.Address{}, false
}

// addressFromSlot takes the 20-byte suffix of a 32-byte storage word.
func addressFromSlot(raw []byte) common.Address {
	if len(raw) < common.AddressLength {
		return common.Address{}
	}
	return common.BytesToAddress(raw[len(raw)-common.AddressLength:])
}
