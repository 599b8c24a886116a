package authority

import (
	"context"
	"crypto/ecdsa"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candinet/account-recovery-backend/api"
	"github.com/candinet/account-recovery-backend/interfaces"
	"github.com/candinet/account-recovery-backend/ledger"
	"github.com/candinet/account-recovery-backend/networks"
)

const testChainID = 31337

var testModuleAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// fakeClock is an adjustable clock for grace period and TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	svc    *Service
	sim    *ledger.SimLedger
	clock  *fakeClock
	sender *CaptureCodeSender

	account  common.Address
	ownerKey *ecdsa.PrivateKey
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	resolver := networks.NewResolver()
	resolver.Set(networks.Config{
		ChainID:               testChainID,
		RecoveryModuleAddress: testModuleAddr,
		GracePeriod:           networks.GracePeriodTest,
		SponsorshipEnabled:    true,
		DiscoverableDefault:   true,
	})

	master := make([]byte, 32)
	copy(master, []byte("test-master-secret-for-authority"))
	signer, err := NewSignerFromMaster(master)
	require.NoError(t, err)

	clock := newFakeClock()
	sender := &CaptureCodeSender{}

	svc, err := New(Config{
		Networks:   resolver,
		Signer:     signer,
		CodeSender: sender,
		Log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:      clock.Now,
	})
	require.NoError(t, err)

	sim := ledger.NewSimLedger()
	svc.RegisterChain(testChainID, sim, sim)

	ownerKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	return &testEnv{
		svc:      svc,
		sim:      sim,
		clock:    clock,
		sender:   sender,
		account:  common.HexToAddress("0x2000000000000000000000000000000000000002"),
		ownerKey: ownerKey,
	}
}

// addAccount provisions the test account with the given guardians.
func (e *testEnv) addAccount(t *testing.T, guardianThreshold uint64, guardians ...common.Address) {
	t.Helper()
	e.sim.AddAccount(e.account, ledger.SimAccount{
		Owners:            []common.Address{crypto.PubkeyToAddress(e.ownerKey.PublicKey)},
		OwnerThreshold:    1,
		Guardians:         guardians,
		GuardianThreshold: guardianThreshold,
	})
}

func newGuardianKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

// signRecovery produces the guardian signature over the recovery payload
// at the given nonce.
func signRecovery(t *testing.T, key *ecdsa.PrivateKey, account common.Address, newOwners []common.Address, newThreshold, nonce uint64) []byte {
	t.Helper()
	digest, err := api.RecoveryRequestSigningHash(testModuleAddr, testChainID, account, newOwners, newThreshold, nonce)
	require.NoError(t, err)
	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)
	sig[64] += 27
	return sig
}

func newOwnerSet(t *testing.T) []common.Address {
	t.Helper()
	_, a := newGuardianKey(t)
	_, b := newGuardianKey(t)
	return []common.Address{a, b}
}

func createParams(e *testEnv, newOwners []common.Address, guardian common.Address, sig []byte) *api.CreateRecoveryRequestParams {
	return &api.CreateRecoveryRequestParams{
		Account:      e.account,
		ChainID:      hexutil.Uint64(testChainID),
		NewOwners:    newOwners,
		NewThreshold: 1,
		Guardian:     guardian,
		Signature:    sig,
	}
}

func TestCreateRecoveryRequest(t *testing.T) {
	e := newTestEnv(t)
	gKey, gAddr := newGuardianKey(t)
	e.addAccount(t, 2, gAddr)

	newOwners := newOwnerSet(t)
	sig := signRecovery(t, gKey, e.account, newOwners, 1, 0)

	req, err := e.svc.CreateRecoveryRequest(context.Background(), createParams(e, newOwners, gAddr, sig))
	require.NoError(t, err)

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, interfaces.StatusPending, req.Status)
	assert.Equal(t, hexutil.Uint64(0), req.Nonce)
	assert.Equal(t, hexutil.Uint64(2), req.GuardianThreshold)
	assert.Len(t, req.Signatures, 1)
	assert.Equal(t, gAddr, req.Signatures[0].Guardian)
	assert.True(t, req.Discoverable)
	assert.Len(t, []rune(req.IntegrityToken), IntegrityTokenLength)
	assert.Equal(t, e.clock.Now(), req.CreatedAt)
}

func TestCreateRecoveryRequestRejections(t *testing.T) {
	e := newTestEnv(t)
	gKey, gAddr := newGuardianKey(t)
	otherKey, otherAddr := newGuardianKey(t)
	e.addAccount(t, 1, gAddr)

	newOwners := newOwnerSet(t)
	goodSig := signRecovery(t, gKey, e.account, newOwners, 1, 0)

	t.Run("unknown account", func(t *testing.T) {
		p := createParams(e, newOwners, gAddr, goodSig)
		p.Account = common.HexToAddress("0x00000000000000000000000000000000000000AA")
		_, err := e.svc.CreateRecoveryRequest(context.Background(), p)
		assert.Equal(t, api.ErrKindUnknownAccount, api.KindOf(err))
	})

	t.Run("guardian not onboarded", func(t *testing.T) {
		badSig := signRecovery(t, otherKey, e.account, newOwners, 1, 0)
		_, err := e.svc.CreateRecoveryRequest(context.Background(), createParams(e, newOwners, otherAddr, badSig))
		assert.Equal(t, api.ErrKindGuardianNotOnboarded, api.KindOf(err))
	})

	t.Run("signature by someone else", func(t *testing.T) {
		badSig := signRecovery(t, otherKey, e.account, newOwners, 1, 0)
		_, err := e.svc.CreateRecoveryRequest(context.Background(), createParams(e, newOwners, gAddr, badSig))
		assert.Equal(t, api.ErrKindInvalidSignature, api.KindOf(err))
	})

	t.Run("signature over wrong nonce", func(t *testing.T) {
		staleSig := signRecovery(t, gKey, e.account, newOwners, 1, 5)
		_, err := e.svc.CreateRecoveryRequest(context.Background(), createParams(e, newOwners, gAddr, staleSig))
		assert.Equal(t, api.ErrKindInvalidSignature, api.KindOf(err))
	})

	t.Run("empty owner set", func(t *testing.T) {
		_, err := e.svc.CreateRecoveryRequest(context.Background(), createParams(e, nil, gAddr, goodSig))
		assert.Equal(t, api.ErrKindBadRequest, api.KindOf(err))
	})

	t.Run("threshold out of range", func(t *testing.T) {
		p := createParams(e, newOwners, gAddr, goodSig)
		p.NewThreshold = 3
		_, err := e.svc.CreateRecoveryRequest(context.Background(), p)
		assert.Equal(t, api.ErrKindBadRequest, api.KindOf(err))
	})

	t.Run("unsupported chain", func(t *testing.T) {
		p := createParams(e, newOwners, gAddr, goodSig)
		p.ChainID = 999
		_, err := e.svc.CreateRecoveryRequest(context.Background(), p)
		assert.Equal(t, api.ErrKindNotFound, api.KindOf(err))
	})
}

func TestSignRecoveryRequest(t *testing.T) {
	e := newTestEnv(t)
	g1Key, g1Addr := newGuardianKey(t)
	g2Key, g2Addr := newGuardianKey(t)
	e.addAccount(t, 2, g1Addr, g2Addr)

	newOwners := newOwnerSet(t)
	req, err := e.svc.CreateRecoveryRequest(context.Background(),
		createParams(e, newOwners, g1Addr, signRecovery(t, g1Key, e.account, newOwners, 1, 0)))
	require.NoError(t, err)

	t.Run("duplicate guardian rejected", func(t *testing.T) {
		_, err := e.svc.SignRecoveryRequest(context.Background(), &api.SignRecoveryRequestParams{
			ID: req.ID, Guardian: g1Addr, Signature: signRecovery(t, g1Key, e.account, newOwners, 1, 0),
		})
		assert.Equal(t, api.ErrKindConflict, api.KindOf(err))
	})

	t.Run("wrong payload signature rejected", func(t *testing.T) {
		otherOwners := newOwnerSet(t)
		_, err := e.svc.SignRecoveryRequest(context.Background(), &api.SignRecoveryRequestParams{
			ID: req.ID, Guardian: g2Addr, Signature: signRecovery(t, g2Key, e.account, otherOwners, 1, 0),
		})
		assert.Equal(t, api.ErrKindInvalidSignature, api.KindOf(err))
	})

	t.Run("unknown request", func(t *testing.T) {
		_, err := e.svc.SignRecoveryRequest(context.Background(), &api.SignRecoveryRequestParams{
			ID: "nope", Guardian: g2Addr, Signature: signRecovery(t, g2Key, e.account, newOwners, 1, 0),
		})
		assert.Equal(t, api.ErrKindNotFound, api.KindOf(err))
	})

	t.Run("second guardian accepted", func(t *testing.T) {
		signed, err := e.svc.SignRecoveryRequest(context.Background(), &api.SignRecoveryRequestParams{
			ID: req.ID, Guardian: g2Addr, Signature: signRecovery(t, g2Key, e.account, newOwners, 1, 0),
		})
		require.NoError(t, err)
		assert.Len(t, signed.Signatures, 2)
		assert.True(t, signed.SignedBy(g1Addr))
		assert.True(t, signed.SignedBy(g2Addr))
	})
}

func TestExecuteAndFinalizeLifecycle(t *testing.T) {
	e := newTestEnv(t)
	g1Key, g1Addr := newGuardianKey(t)
	g2Key, g2Addr := newGuardianKey(t)
	e.addAccount(t, 2, g1Addr, g2Addr)

	newOwners := newOwnerSet(t)
	req, err := e.svc.CreateRecoveryRequest(context.Background(),
		createParams(e, newOwners, g1Addr, signRecovery(t, g1Key, e.account, newOwners, 1, 0)))
	require.NoError(t, err)

	// One of two required signatures.
	_, err = e.svc.ExecuteRecoveryRequest(context.Background(), req.ID)
	assert.Equal(t, api.ErrKindInsufficientSignatures, api.KindOf(err))

	_, err = e.svc.SignRecoveryRequest(context.Background(), &api.SignRecoveryRequestParams{
		ID: req.ID, Guardian: g2Addr, Signature: signRecovery(t, g2Key, e.account, newOwners, 1, 0),
	})
	require.NoError(t, err)

	executed, err := e.svc.ExecuteRecoveryRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusExecuted, executed.Status)
	require.NotNil(t, executed.ExecuteInfo)
	assert.True(t, executed.ExecuteInfo.Sponsored)

	// Execution advanced the on-chain nonce.
	nonce, err := e.sim.RecoveryNonce(context.Background(), e.account)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)

	// Executed requests never regress.
	_, err = e.svc.ExecuteRecoveryRequest(context.Background(), req.ID)
	assert.Equal(t, api.ErrKindConflict, api.KindOf(err))
	_, err = e.svc.SignRecoveryRequest(context.Background(), &api.SignRecoveryRequestParams{
		ID: req.ID, Guardian: g1Addr, Signature: signRecovery(t, g1Key, e.account, newOwners, 1, 0),
	})
	assert.Equal(t, api.ErrKindConflict, api.KindOf(err))

	// Finalize is gated by the grace period, measured from execution.
	_, err = e.svc.FinalizeRecoveryRequest(context.Background(), req.ID)
	assert.Equal(t, api.ErrKindNotYetReady, api.KindOf(err))

	e.clock.Advance(networks.GracePeriodTest - time.Second)
	_, err = e.svc.FinalizeRecoveryRequest(context.Background(), req.ID)
	assert.Equal(t, api.ErrKindNotYetReady, api.KindOf(err))

	e.clock.Advance(2 * time.Second)
	finalized, err := e.svc.FinalizeRecoveryRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusFinalized, finalized.Status)
	require.NotNil(t, finalized.FinalizeInfo)

	// Finalization applied the new owner set.
	owners, err := e.sim.Owners(context.Background(), e.account)
	require.NoError(t, err)
	assert.Equal(t, newOwners, owners)

	// Terminal state.
	_, err = e.svc.FinalizeRecoveryRequest(context.Background(), req.ID)
	assert.Equal(t, api.ErrKindConflict, api.KindOf(err))
}

func TestRecoveryRequestsFiltering(t *testing.T) {
	e := newTestEnv(t)
	gKey, gAddr := newGuardianKey(t)
	e.addAccount(t, 1, gAddr)

	ownersA := newOwnerSet(t)
	ownersB := newOwnerSet(t)

	// Two competing PENDING requests at nonce 0 are allowed.
	reqA, err := e.svc.CreateRecoveryRequest(context.Background(),
		createParams(e, ownersA, gAddr, signRecovery(t, gKey, e.account, ownersA, 1, 0)))
	require.NoError(t, err)
	e.clock.Advance(time.Second)
	reqB, err := e.svc.CreateRecoveryRequest(context.Background(),
		createParams(e, ownersB, gAddr, signRecovery(t, gKey, e.account, ownersB, 1, 0)))
	require.NoError(t, err)

	pending, err := e.svc.RecoveryRequests(e.account, testChainID, 0, interfaces.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, reqA.ID, pending[0].ID)
	assert.Equal(t, reqB.ID, pending[1].ID)

	_, err = e.svc.ExecuteRecoveryRequest(context.Background(), reqA.ID)
	require.NoError(t, err)

	executed, err := e.svc.RecoveryRequests(e.account, testChainID, 0, interfaces.StatusExecuted)
	require.NoError(t, err)
	require.Len(t, executed, 1)
	assert.Equal(t, reqA.ID, executed[0].ID)

	// The losing request is still PENDING at the old nonce; nothing at
	// the advanced nonce yet.
	pending, err = e.svc.RecoveryRequests(e.account, testChainID, 0, interfaces.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	pending, err = e.svc.RecoveryRequests(e.account, testChainID, 1, interfaces.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestNetworkConfig(t *testing.T) {
	e := newTestEnv(t)

	cfg, err := e.svc.NetworkConfig(testChainID)
	require.NoError(t, err)
	assert.Equal(t, hexutil.Uint64(testChainID), cfg.ChainID)
	assert.Equal(t, testModuleAddr, cfg.RecoveryModuleAddress)
	assert.Equal(t, hexutil.Uint64(180), cfg.GracePeriodSeconds)
	assert.True(t, cfg.SponsorshipEnabled)

	_, err = e.svc.NetworkConfig(424242)
	assert.Equal(t, api.ErrKindNotFound, api.KindOf(err))
}

func TestSignerDerivation(t *testing.T) {
	master := make([]byte, 32)
	copy(master, []byte("deterministic-derivation-master!"))

	a, err := NewSignerFromMaster(master)
	require.NoError(t, err)
	b, err := NewSignerFromMaster(master)
	require.NoError(t, err)
	assert.Equal(t, a.Address(), b.Address())

	other := make([]byte, 32)
	copy(other, []byte("a-different-master-secret-here!!"))
	c, err := NewSignerFromMaster(other)
	require.NoError(t, err)
	assert.NotEqual(t, a.Address(), c.Address())

	_, err = NewSignerFromMaster([]byte("too short"))
	require.Error(t, err)
}

func TestSignerSignatureShape(t *testing.T) {
	master := make([]byte, 32)
	copy(master, []byte("deterministic-derivation-master!"))
	signer, err := NewSignerFromMaster(master)
	require.NoError(t, err)

	digest := crypto.Keccak256([]byte("payload"))
	sig, err := signer.Sign(digest)
	require.NoError(t, err)

	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	recovered, err := recoverSigner(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)
}

func TestIntegrityTokensVary(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		token, err := newIntegrityToken()
		require.NoError(t, err)
		assert.Len(t, []rune(token), IntegrityTokenLength)
		seen[token] = true
	}
	// 24 bits of entropy; 32 draws colliding entirely is implausible.
	assert.Greater(t, len(seen), 1)
}
