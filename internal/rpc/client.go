// Package rpc defines the narrow blockchain read interface the server core
// consumes, and an ethclient-backed implementation of it. No transaction
// submission happens here; settlement belongs to the facilitator.
package rpc

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is the read-only chain access the detector and builder need.
// All methods are safe for concurrent use.
type Client interface {
	// GetCode returns the deployed bytecode at addr ("" target block = latest).
	GetCode(ctx context.Context, addr common.Address) ([]byte, error)

	// GetStorageAt reads one storage slot of addr.
	GetStorageAt(ctx context.Context, addr common.Address, slot common.Hash) ([]byte, error)

	// ReadContract calls a view function described by abiJSON and returns
	// the unpacked outputs.
	ReadContract(ctx context.Context, addr common.Address, abiJSON, method string, args ...any) ([]any, error)

	// ChainID returns the chain ID of the connected network.
	ChainID(ctx context.Context) (*big.Int, error)
}

// EthClient implements Client on top of go-ethereum's ethclient.
type EthClient struct {
	eth *ethclient.Client

	mu   sync.Mutex
	abis map[string]abi.ABI
}

// Dial connects to an EVM JSON-RPC endpoint.
func Dial(rawurl string) (*EthClient, error) {
	eth, err := ethclient.Dial(rawurl)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return NewEthClient(eth), nil
}

// NewEthClient wraps an existing ethclient.
func NewEthClient(eth *ethclient.Client) *EthClient {
	return &EthClient{eth: eth, abis: make(map[string]abi.ABI)}
}

func (c *EthClient) GetCode(ctx context.Context, addr common.Address) ([]byte, error) {
	return c.eth.CodeAt(ctx, addr, nil)
}

func (c *EthClient) GetStorageAt(ctx context.Context, addr common.Address, slot common.Hash) ([]byte, error) {
	return c.eth.StorageAt(ctx, addr, slot, nil)
}

func (c *EthClient) ChainID(ctx context.Context) (*big.Int, error) {
	return c.eth.ChainID(ctx)
}

func (c *EthClient) ReadContract(ctx context.Context, addr common.Address, abiJSON, method string, args ...any) ([]any, error) {
	parsed, err := c.parsedABI(abiJSON)
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, addr.Hex(), err)
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func (c *EthClient) parsedABI(abiJSON string) (abi.ABI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if parsed, ok := c.abis[abiJSON]; ok {
		return parsed, nil
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi: %w", err)
	}
	c.abis[abiJSON] = parsed
	return parsed, nil
}
