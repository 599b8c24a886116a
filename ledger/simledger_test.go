package ledger

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candinet/account-recovery-backend/interfaces"
)

var (
	simAccount  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	simOwner    = common.HexToAddress("0x1100000000000000000000000000000000000011")
	simGuardian = common.HexToAddress("0x1200000000000000000000000000000000000012")
)

func newPopulatedSim() *SimLedger {
	sim := NewSimLedger()
	sim.AddAccount(simAccount, SimAccount{
		Owners:            []common.Address{simOwner},
		OwnerThreshold:    1,
		Guardians:         []common.Address{simGuardian},
		GuardianThreshold: 1,
	})
	return sim
}

func TestSimLedgerReads(t *testing.T) {
	sim := newPopulatedSim()
	ctx := context.Background()

	ok, err := sim.IsSmartAccount(ctx, simAccount)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = sim.IsSmartAccount(ctx, common.Address{})
	require.NoError(t, err)
	assert.False(t, ok)

	owners, err := sim.Owners(ctx, simAccount)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{simOwner}, owners)

	isGuardian, err := sim.IsGuardian(ctx, simAccount, simGuardian)
	require.NoError(t, err)
	assert.True(t, isGuardian)

	isGuardian, err = sim.IsGuardian(ctx, simAccount, simOwner)
	require.NoError(t, err)
	assert.False(t, isGuardian)

	_, err = sim.Owners(ctx, common.HexToAddress("0xdead"))
	assert.ErrorIs(t, err, ErrUnknownSimAccount)
}

func TestSimLedgerAddGuardian(t *testing.T) {
	sim := newPopulatedSim()
	extra := common.HexToAddress("0x1300000000000000000000000000000000000013")

	require.NoError(t, sim.AddGuardian(simAccount, extra))
	isGuardian, err := sim.IsGuardian(context.Background(), simAccount, extra)
	require.NoError(t, err)
	assert.True(t, isGuardian)

	assert.ErrorIs(t, sim.AddGuardian(common.Address{}, extra), ErrUnknownSimAccount)
}

func TestSimLedgerExecutionAdvancesNonce(t *testing.T) {
	sim := newPopulatedSim()
	ctx := context.Background()

	req := &interfaces.RecoveryRequest{
		ID:           "req-1",
		Account:      simAccount,
		Nonce:        0,
		NewOwners:    []common.Address{common.HexToAddress("0x1400000000000000000000000000000000000014")},
		NewThreshold: 1,
	}

	info, err := sim.SubmitExecution(ctx, req)
	require.NoError(t, err)
	assert.True(t, info.Sponsored)
	assert.NotEqual(t, common.Hash{}, info.TxHash)

	nonce, err := sim.RecoveryNonce(ctx, simAccount)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)

	// A replay at the stale nonce is rejected.
	_, err = sim.SubmitExecution(ctx, req)
	assert.ErrorContains(t, err, "recovery nonce moved")
}

func TestSimLedgerFinalizationAppliesOwners(t *testing.T) {
	sim := newPopulatedSim()
	ctx := context.Background()

	newOwners := []common.Address{
		common.HexToAddress("0x1500000000000000000000000000000000000015"),
		common.HexToAddress("0x1600000000000000000000000000000000000016"),
	}
	req := &interfaces.RecoveryRequest{
		ID:           "req-2",
		Account:      simAccount,
		Nonce:        0,
		NewOwners:    newOwners,
		NewThreshold: hexutil.Uint64(2),
	}

	_, err := sim.SubmitExecution(ctx, req)
	require.NoError(t, err)
	_, err = sim.SubmitFinalization(ctx, req)
	require.NoError(t, err)

	owners, err := sim.Owners(ctx, simAccount)
	require.NoError(t, err)
	assert.Equal(t, newOwners, owners)

	threshold, err := sim.OwnerThreshold(ctx, simAccount)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), threshold)
}
