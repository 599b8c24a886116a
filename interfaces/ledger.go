package interfaces

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// AccountReader reads recovery-relevant state of a smart account from the
// ledger. Implementations are per-chain; the chain is fixed at
// construction time.
type AccountReader interface {
	// RecoveryNonce returns the account's current recovery nonce. The
	// nonce increments exactly once per executed recovery.
	RecoveryNonce(ctx context.Context, account common.Address) (uint64, error)

	// Owners returns the account's current owner set, in contract order.
	Owners(ctx context.Context, account common.Address) ([]common.Address, error)

	// OwnerThreshold returns how many owner signatures the account itself
	// requires to authorize an action.
	OwnerThreshold(ctx context.Context, account common.Address) (uint64, error)

	// GuardianThreshold returns how many guardian signatures the
	// account's recovery module requires to execute a recovery.
	GuardianThreshold(ctx context.Context, account common.Address) (uint64, error)

	// IsGuardian reports whether guardian is enrolled in the account's
	// on-chain guardian list.
	IsGuardian(ctx context.Context, account, guardian common.Address) (bool, error)

	// IsSmartAccount reports whether the address is a deployed smart
	// account of the expected type (recovery module enabled).
	IsSmartAccount(ctx context.Context, account common.Address) (bool, error)
}

// RecoverySubmitter submits recovery transactions on behalf of the
// authority. Submission does not await inclusion; callers poll the
// request status instead.
type RecoverySubmitter interface {
	// SubmitExecution submits the recovery transaction for req.
	SubmitExecution(ctx context.Context, req *RecoveryRequest) (TransactionInfo, error)

	// SubmitFinalization submits the finalization transaction for req.
	SubmitFinalization(ctx context.Context, req *RecoveryRequest) (TransactionInfo, error)
}
