package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/candinet/account-recovery-backend/interfaces"
)

// ErrUnknownSimAccount is returned for addresses never registered with
// the simulated ledger.
var ErrUnknownSimAccount = errors.New("unknown account")

// SimAccount is the simulated on-chain state of one smart account.
type SimAccount struct {
	Owners            []common.Address
	OwnerThreshold    uint64
	Guardians         []common.Address
	GuardianThreshold uint64
	RecoveryNonce     uint64
}

// SimLedger is an in-memory ledger for development and testing. It
// implements both interfaces.AccountReader and
// interfaces.RecoverySubmitter: submitting an execution advances the
// account's recovery nonce, submitting a finalization applies the new
// owner set, the way the real chain would.
type SimLedger struct {
	mu       sync.Mutex
	accounts map[common.Address]*SimAccount

	// Sponsor marks submitted transactions as gas-sponsored.
	Sponsor bool
}

// NewSimLedger creates an empty simulated ledger.
func NewSimLedger() *SimLedger {
	return &SimLedger{
		accounts: make(map[common.Address]*SimAccount),
		Sponsor:  true,
	}
}

// AddAccount registers a deployed smart account with the given owner and
// guardian configuration.
func (l *SimLedger) AddAccount(addr common.Address, acct SimAccount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := acct
	cp.Owners = append([]common.Address(nil), acct.Owners...)
	cp.Guardians = append([]common.Address(nil), acct.Guardians...)
	l.accounts[addr] = &cp
}

// AddGuardian enrolls an additional guardian for an existing account.
func (l *SimLedger) AddGuardian(addr, guardian common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSimAccount, addr.Hex())
	}
	acct.Guardians = append(acct.Guardians, guardian)
	return nil
}

func (l *SimLedger) RecoveryNonce(ctx context.Context, account common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[account]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSimAccount, account.Hex())
	}
	return acct.RecoveryNonce, nil
}

func (l *SimLedger) Owners(ctx context.Context, account common.Address) ([]common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[account]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSimAccount, account.Hex())
	}
	return append([]common.Address(nil), acct.Owners...), nil
}

func (l *SimLedger) OwnerThreshold(ctx context.Context, account common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[account]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSimAccount, account.Hex())
	}
	return acct.OwnerThreshold, nil
}

func (l *SimLedger) GuardianThreshold(ctx context.Context, account common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[account]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSimAccount, account.Hex())
	}
	return acct.GuardianThreshold, nil
}

func (l *SimLedger) IsGuardian(ctx context.Context, account, guardian common.Address) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[account]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownSimAccount, account.Hex())
	}
	for _, g := range acct.Guardians {
		if g == guardian {
			return true, nil
		}
	}
	return false, nil
}

func (l *SimLedger) IsSmartAccount(ctx context.Context, account common.Address) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.accounts[account]
	return ok, nil
}

// SubmitExecution accepts the recovery transaction for req. The
// account's recovery nonce advances exactly once.
func (l *SimLedger) SubmitExecution(ctx context.Context, req *interfaces.RecoveryRequest) (interfaces.TransactionInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[req.Account]
	if !ok {
		return interfaces.TransactionInfo{}, fmt.Errorf("%w: %s", ErrUnknownSimAccount, req.Account.Hex())
	}
	if acct.RecoveryNonce != uint64(req.Nonce) {
		return interfaces.TransactionInfo{}, fmt.Errorf("recovery nonce moved: request at %d, account at %d", req.Nonce, acct.RecoveryNonce)
	}

	acct.RecoveryNonce++
	return interfaces.TransactionInfo{
		TxHash:    crypto.Keccak256Hash([]byte("execute:" + req.ID)),
		Sponsored: l.Sponsor,
	}, nil
}

// SubmitFinalization accepts the finalization transaction for req and
// applies the new owner set to the account.
func (l *SimLedger) SubmitFinalization(ctx context.Context, req *interfaces.RecoveryRequest) (interfaces.TransactionInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[req.Account]
	if !ok {
		return interfaces.TransactionInfo{}, fmt.Errorf("%w: %s", ErrUnknownSimAccount, req.Account.Hex())
	}

	acct.Owners = append([]common.Address(nil), req.NewOwners...)
	acct.OwnerThreshold = uint64(req.NewThreshold)
	return interfaces.TransactionInfo{
		TxHash:    crypto.Keccak256Hash([]byte("finalize:" + req.ID)),
		Sponsored: l.Sponsor,
	}, nil
}
