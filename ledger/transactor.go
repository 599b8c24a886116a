package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/candinet/account-recovery-backend/interfaces"
)

// Transactor implements interfaces.RecoverySubmitter by sending
// recovery module transactions from a funded sponsor key. Submission
// does not await inclusion.
type Transactor struct {
	client    *ethclient.Client
	module    common.Address
	moduleABI abi.ABI
	key       *ecdsa.PrivateKey
	from      common.Address
	chainID   *big.Int
	gasLimit  uint64
}

// NewTransactor creates a submitter sending from the given sponsor key
// to the recovery module deployed at module.
func NewTransactor(client *ethclient.Client, module common.Address, key *ecdsa.PrivateKey, chainID uint64) (*Transactor, error) {
	moduleABI, err := abi.JSON(strings.NewReader(recoveryModuleABI))
	if err != nil {
		return nil, fmt.Errorf("could not parse recovery module ABI: %w", err)
	}

	return &Transactor{
		client:    client,
		module:    module,
		moduleABI: moduleABI,
		key:       key,
		from:      crypto.PubkeyToAddress(key.PublicKey),
		chainID:   new(big.Int).SetUint64(chainID),
		gasLimit:  500_000,
	}, nil
}

// SubmitExecution sends executeRecovery with the request's collected
// guardian signatures concatenated into one blob.
func (t *Transactor) SubmitExecution(ctx context.Context, req *interfaces.RecoveryRequest) (interfaces.TransactionInfo, error) {
	var sigBlob []byte
	for _, sig := range req.Signatures {
		sigBlob = append(sigBlob, sig.Signature...)
	}

	data, err := t.moduleABI.Pack("executeRecovery",
		req.Account,
		req.NewOwners,
		new(big.Int).SetUint64(uint64(req.NewThreshold)),
		sigBlob,
	)
	if err != nil {
		return interfaces.TransactionInfo{}, fmt.Errorf("could not pack executeRecovery: %w", err)
	}

	return t.send(ctx, data)
}

// SubmitFinalization sends finalizeRecovery for the request's account.
func (t *Transactor) SubmitFinalization(ctx context.Context, req *interfaces.RecoveryRequest) (interfaces.TransactionInfo, error) {
	data, err := t.moduleABI.Pack("finalizeRecovery", req.Account)
	if err != nil {
		return interfaces.TransactionInfo{}, fmt.Errorf("could not pack finalizeRecovery: %w", err)
	}

	return t.send(ctx, data)
}

func (t *Transactor) send(ctx context.Context, data []byte) (interfaces.TransactionInfo, error) {
	nonce, err := t.client.PendingNonceAt(ctx, t.from)
	if err != nil {
		return interfaces.TransactionInfo{}, fmt.Errorf("could not fetch sponsor nonce: %w", err)
	}

	gasPrice, err := t.client.SuggestGasPrice(ctx)
	if err != nil {
		return interfaces.TransactionInfo{}, fmt.Errorf("could not fetch gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, t.module, new(big.Int), t.gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(t.chainID), t.key)
	if err != nil {
		return interfaces.TransactionInfo{}, fmt.Errorf("could not sign transaction: %w", err)
	}

	if err := t.client.SendTransaction(ctx, signedTx); err != nil {
		return interfaces.TransactionInfo{}, fmt.Errorf("could not send transaction: %w", err)
	}

	return interfaces.TransactionInfo{TxHash: signedTx.Hash(), Sponsored: true}, nil
}
