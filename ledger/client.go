// Package ledger reads recovery-relevant smart account state from the
// chain and provides test doubles for it: a testify mock and an
// in-memory simulated ledger used by the reference authority.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Recovery module views consumed by the authority and the status
// resolver. The module is a singleton per chain; accounts are keyed by
// address.
const recoveryModuleABI = `[
	{"type":"function","name":"nonce","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"threshold","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"isGuardian","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"guardian","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"executeRecovery","stateMutability":"nonpayable","inputs":[{"name":"account","type":"address"},{"name":"newOwners","type":"address[]"},{"name":"newThreshold","type":"uint256"},{"name":"signatures","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"finalizeRecovery","stateMutability":"nonpayable","inputs":[{"name":"account","type":"address"}],"outputs":[]}
]`

// Owner views of the account itself.
const smartAccountABI = `[
	{"type":"function","name":"getOwners","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
	{"type":"function","name":"getThreshold","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"isModuleEnabled","stateMutability":"view","inputs":[{"name":"module","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
]`

// ChainReader implements interfaces.AccountReader over an Ethereum RPC
// endpoint and a deployed recovery module.
type ChainReader struct {
	client     *ethclient.Client
	module     common.Address
	moduleABI  abi.ABI
	accountABI abi.ABI
}

// NewChainReader creates a reader bound to the recovery module deployed
// at module on the endpoint's chain.
func NewChainReader(client *ethclient.Client, module common.Address) (*ChainReader, error) {
	moduleABI, err := abi.JSON(strings.NewReader(recoveryModuleABI))
	if err != nil {
		return nil, fmt.Errorf("could not parse recovery module ABI: %w", err)
	}

	accountABI, err := abi.JSON(strings.NewReader(smartAccountABI))
	if err != nil {
		return nil, fmt.Errorf("could not parse smart account ABI: %w", err)
	}

	return &ChainReader{
		client:     client,
		module:     module,
		moduleABI:  moduleABI,
		accountABI: accountABI,
	}, nil
}

// RecoveryNonce returns the account's current recovery nonce from the
// recovery module.
func (r *ChainReader) RecoveryNonce(ctx context.Context, account common.Address) (uint64, error) {
	out, err := r.call(ctx, r.module, r.moduleABI, "nonce", account)
	if err != nil {
		return 0, fmt.Errorf("could not read recovery nonce for %s: %w", account.Hex(), err)
	}
	return out[0].(*big.Int).Uint64(), nil
}

// GuardianThreshold returns the guardian signature count the module
// requires for the account.
func (r *ChainReader) GuardianThreshold(ctx context.Context, account common.Address) (uint64, error) {
	out, err := r.call(ctx, r.module, r.moduleABI, "threshold", account)
	if err != nil {
		return 0, fmt.Errorf("could not read guardian threshold for %s: %w", account.Hex(), err)
	}
	return out[0].(*big.Int).Uint64(), nil
}

// IsGuardian reports whether guardian is enrolled for the account.
func (r *ChainReader) IsGuardian(ctx context.Context, account, guardian common.Address) (bool, error) {
	out, err := r.call(ctx, r.module, r.moduleABI, "isGuardian", account, guardian)
	if err != nil {
		return false, fmt.Errorf("could not check guardian %s for %s: %w", guardian.Hex(), account.Hex(), err)
	}
	return out[0].(bool), nil
}

// Owners returns the account's current owner set.
func (r *ChainReader) Owners(ctx context.Context, account common.Address) ([]common.Address, error) {
	out, err := r.call(ctx, account, r.accountABI, "getOwners")
	if err != nil {
		return nil, fmt.Errorf("could not read owners of %s: %w", account.Hex(), err)
	}
	return out[0].([]common.Address), nil
}

// OwnerThreshold returns the account's own signature threshold.
func (r *ChainReader) OwnerThreshold(ctx context.Context, account common.Address) (uint64, error) {
	out, err := r.call(ctx, account, r.accountABI, "getThreshold")
	if err != nil {
		return 0, fmt.Errorf("could not read owner threshold of %s: %w", account.Hex(), err)
	}
	return out[0].(*big.Int).Uint64(), nil
}

// IsSmartAccount reports whether the address carries code and has the
// recovery module enabled.
func (r *ChainReader) IsSmartAccount(ctx context.Context, account common.Address) (bool, error) {
	code, err := r.client.CodeAt(ctx, account, nil)
	if err != nil {
		return false, fmt.Errorf("could not read code at %s: %w", account.Hex(), err)
	}
	if len(code) == 0 {
		return false, nil
	}

	out, err := r.call(ctx, account, r.accountABI, "isModuleEnabled", r.module)
	if err != nil {
		return false, fmt.Errorf("could not check recovery module on %s: %w", account.Hex(), err)
	}
	return out[0].(bool), nil
}

// call performs one eth_call against a contract method and unpacks the
// outputs.
func (r *ChainReader) call(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("could not pack %s call: %w", method, err)
	}

	raw, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}

	out, err := contractABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("could not unpack %s result: %w", method, err)
	}
	return out, nil
}
