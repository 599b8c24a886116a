package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/mock"

	"github.com/candinet/account-recovery-backend/interfaces"
)

// MockAccountReader implements interfaces.AccountReader for testing.
// The behavior is determined by how the mock is configured in tests.
type MockAccountReader struct {
	mock.Mock
}

func (m *MockAccountReader) RecoveryNonce(ctx context.Context, account common.Address) (uint64, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockAccountReader) Owners(ctx context.Context, account common.Address) ([]common.Address, error) {
	args := m.Called(ctx, account)
	return args.Get(0).([]common.Address), args.Error(1)
}

func (m *MockAccountReader) OwnerThreshold(ctx context.Context, account common.Address) (uint64, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockAccountReader) GuardianThreshold(ctx context.Context, account common.Address) (uint64, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockAccountReader) IsGuardian(ctx context.Context, account, guardian common.Address) (bool, error) {
	args := m.Called(ctx, account, guardian)
	return args.Bool(0), args.Error(1)
}

func (m *MockAccountReader) IsSmartAccount(ctx context.Context, account common.Address) (bool, error) {
	args := m.Called(ctx, account)
	return args.Bool(0), args.Error(1)
}

// MockRecoverySubmitter implements interfaces.RecoverySubmitter for
// testing.
type MockRecoverySubmitter struct {
	mock.Mock
}

func (m *MockRecoverySubmitter) SubmitExecution(ctx context.Context, req *interfaces.RecoveryRequest) (interfaces.TransactionInfo, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(interfaces.TransactionInfo), args.Error(1)
}

func (m *MockRecoverySubmitter) SubmitFinalization(ctx context.Context, req *interfaces.RecoveryRequest) (interfaces.TransactionInfo, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(interfaces.TransactionInfo), args.Error(1)
}
