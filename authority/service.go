// Package authority implements the recovery authority: the nonce-scoped
// recovery request lifecycle guarded by guardian quorum signatures, and
// the custodial guardian's registration and multi-channel signature
// protocol. State is held in memory behind one mutex; the package is the
// reference implementation the clients are tested against.
package authority

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/candinet/account-recovery-backend/api"
	"github.com/candinet/account-recovery-backend/interfaces"
	"github.com/candinet/account-recovery-backend/networks"
)

// Default protocol timing parameters.
const (
	DefaultMaxStatementAge = 10 * time.Minute
	DefaultChallengeTTL    = 5 * time.Minute
)

// Config configures a Service.
type Config struct {
	// Networks resolves per-chain module addresses and grace periods.
	Networks *networks.Resolver

	// Signer is the custodial guardian's signer.
	Signer *Signer

	// CodeSender delivers one-time codes out-of-band. Defaults to a
	// sender that logs delivery without the code itself.
	CodeSender CodeSender

	Log *slog.Logger

	// Clock overrides time.Now, for tests exercising the grace period
	// and challenge expiry.
	Clock func() time.Time

	// MaxStatementAge bounds how old a signed SIWE statement may be.
	MaxStatementAge time.Duration

	// ChallengeTTL bounds how long a one-time code stays valid.
	ChallengeTTL time.Duration
}

type chainBackend struct {
	reader    interfaces.AccountReader
	submitter interfaces.RecoverySubmitter
}

// Service is the recovery authority. All mutable state lives behind mu;
// ledger reads and transaction submission happen outside the lock.
type Service struct {
	networks        *networks.Resolver
	signer          *Signer
	sender          CodeSender
	log             *slog.Logger
	clock           func() time.Time
	maxStatementAge time.Duration
	challengeTTL    time.Duration

	mu       sync.Mutex
	backends map[uint64]chainBackend
	requests map[string]*interfaces.RecoveryRequest

	registrations map[string]*interfaces.Registration
	challenges    map[string]*challenge
	sigRequests   map[string]*signatureRequest
}

// New creates an authority service.
func New(cfg Config) (*Service, error) {
	if cfg.Networks == nil {
		return nil, fmt.Errorf("networks resolver is required")
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("custodial signer is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.CodeSender == nil {
		cfg.CodeSender = &LogCodeSender{Log: cfg.Log}
	}
	if cfg.MaxStatementAge == 0 {
		cfg.MaxStatementAge = DefaultMaxStatementAge
	}
	if cfg.ChallengeTTL == 0 {
		cfg.ChallengeTTL = DefaultChallengeTTL
	}

	return &Service{
		networks:        cfg.Networks,
		signer:          cfg.Signer,
		sender:          cfg.CodeSender,
		log:             cfg.Log,
		clock:           cfg.Clock,
		maxStatementAge: cfg.MaxStatementAge,
		challengeTTL:    cfg.ChallengeTTL,
		backends:        make(map[uint64]chainBackend),
		requests:        make(map[string]*interfaces.RecoveryRequest),
		registrations:   make(map[string]*interfaces.Registration),
		challenges:      make(map[string]*challenge),
		sigRequests:     make(map[string]*signatureRequest),
	}, nil
}

// RegisterChain wires the ledger collaborators for one chain. The chain
// must also be known to the networks resolver.
func (s *Service) RegisterChain(chainID uint64, reader interfaces.AccountReader, submitter interfaces.RecoverySubmitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backends[chainID] = chainBackend{reader: reader, submitter: submitter}
}

// GuardianAddress returns the custodial guardian's signer address.
func (s *Service) GuardianAddress() common.Address {
	return s.signer.Address()
}

func (s *Service) backend(chainID uint64) (chainBackend, networks.Config, error) {
	cfg, err := s.networks.ForChain(chainID)
	if err != nil {
		return chainBackend{}, networks.Config{}, api.NewError(api.ErrKindNotFound, "chain %d is not supported", chainID)
	}

	s.mu.Lock()
	be, ok := s.backends[chainID]
	s.mu.Unlock()
	if !ok {
		return chainBackend{}, networks.Config{}, api.NewError(api.ErrKindUnavailable, "chain %d has no ledger backend", chainID)
	}
	return be, cfg, nil
}

// NetworkConfig resolves the deployment configuration for a chain.
func (s *Service) NetworkConfig(chainID uint64) (*api.NetworkConfigResult, error) {
	cfg, err := s.networks.ForChain(chainID)
	if err != nil {
		return nil, api.NewError(api.ErrKindNotFound, "chain %d is not supported", chainID)
	}
	return &api.NetworkConfigResult{
		ChainID:               hexUint(cfg.ChainID),
		RecoveryModuleAddress: cfg.RecoveryModuleAddress,
		GracePeriodSeconds:    hexUint(uint64(cfg.GracePeriod / time.Second)),
		SponsorshipEnabled:    cfg.SponsorshipEnabled,
		DiscoverableDefault:   cfg.DiscoverableDefault,
	}, nil
}

// CreateRecoveryRequest opens a recovery request with the first
// guardian's signature. The typed-data payload is computed from the
// account's current on-chain recovery nonce; the guardian threshold in
// force at creation is captured on the request.
func (s *Service) CreateRecoveryRequest(ctx context.Context, p *api.CreateRecoveryRequestParams) (*interfaces.RecoveryRequest, error) {
	be, netCfg, err := s.backend(uint64(p.ChainID))
	if err != nil {
		return nil, err
	}
	if len(p.NewOwners) == 0 {
		return nil, api.NewError(api.ErrKindBadRequest, "newOwners must not be empty")
	}
	if p.NewThreshold == 0 || uint64(p.NewThreshold) > uint64(len(p.NewOwners)) {
		return nil, api.NewError(api.ErrKindBadRequest, "newThreshold %d out of range for %d owners", p.NewThreshold, len(p.NewOwners))
	}

	isAccount, err := be.reader.IsSmartAccount(ctx, p.Account)
	if err != nil {
		return nil, fmt.Errorf("could not inspect account %s: %w", p.Account.Hex(), err)
	}
	if !isAccount {
		return nil, api.NewError(api.ErrKindUnknownAccount, "%s is not a recognized smart account", p.Account.Hex())
	}

	nonce, err := be.reader.RecoveryNonce(ctx, p.Account)
	if err != nil {
		return nil, fmt.Errorf("could not read recovery nonce: %w", err)
	}

	if err := s.verifyGuardianSignature(ctx, be, netCfg, p.Account, p.NewOwners, uint64(p.NewThreshold), nonce, p.Guardian, p.Signature); err != nil {
		return nil, err
	}

	threshold, err := be.reader.GuardianThreshold(ctx, p.Account)
	if err != nil {
		return nil, fmt.Errorf("could not read guardian threshold: %w", err)
	}

	token, err := newIntegrityToken()
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	req := &interfaces.RecoveryRequest{
		ID:                uuid.NewString(),
		Account:           p.Account,
		ChainID:           p.ChainID,
		Nonce:             hexUint(nonce),
		NewOwners:         append([]common.Address(nil), p.NewOwners...),
		NewThreshold:      p.NewThreshold,
		GuardianThreshold: hexUint(threshold),
		Signatures: []interfaces.GuardianSignature{
			{Guardian: p.Guardian, Signature: append([]byte(nil), p.Signature...)},
		},
		Status:         interfaces.StatusPending,
		Discoverable:   netCfg.DiscoverableDefault,
		IntegrityToken: token,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	s.mu.Lock()
	s.requests[req.ID] = req
	s.mu.Unlock()

	s.log.Info("recovery request created",
		"id", req.ID, "account", p.Account.Hex(), "chainId", uint64(p.ChainID), "nonce", nonce)

	return cloneRequest(req), nil
}

// SignRecoveryRequest appends one guardian signature to a pending
// request. Duplicate guardians are rejected without mutating state, so
// concurrent duplicate submissions can never double-count toward the
// threshold.
func (s *Service) SignRecoveryRequest(ctx context.Context, p *api.SignRecoveryRequestParams) (*interfaces.RecoveryRequest, error) {
	s.mu.Lock()
	req, ok := s.requests[p.ID]
	if !ok {
		s.mu.Unlock()
		return nil, api.NewError(api.ErrKindNotFound, "recovery request %s not found", p.ID)
	}
	if req.Status != interfaces.StatusPending {
		s.mu.Unlock()
		return nil, api.NewError(api.ErrKindConflict, "recovery request %s is %s, not PENDING", p.ID, req.Status)
	}
	if req.SignedBy(p.Guardian) {
		s.mu.Unlock()
		return nil, api.NewError(api.ErrKindConflict, "guardian %s already signed request %s", p.Guardian.Hex(), p.ID)
	}
	// Payload fields are fixed at creation; copy them out for
	// verification outside the lock.
	account := req.Account
	chainID := uint64(req.ChainID)
	newOwners := append([]common.Address(nil), req.NewOwners...)
	newThreshold := uint64(req.NewThreshold)
	nonce := uint64(req.Nonce)
	s.mu.Unlock()

	be, netCfg, err := s.backend(chainID)
	if err != nil {
		return nil, err
	}
	if err := s.verifyGuardianSignature(ctx, be, netCfg, account, newOwners, newThreshold, nonce, p.Guardian, p.Signature); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check under the lock: the request may have advanced or the same
	// guardian may have raced a second submission.
	if req.Status != interfaces.StatusPending {
		return nil, api.NewError(api.ErrKindConflict, "recovery request %s is %s, not PENDING", p.ID, req.Status)
	}
	if req.SignedBy(p.Guardian) {
		return nil, api.NewError(api.ErrKindConflict, "guardian %s already signed request %s", p.Guardian.Hex(), p.ID)
	}

	req.Signatures = append(req.Signatures, interfaces.GuardianSignature{
		Guardian:  p.Guardian,
		Signature: append([]byte(nil), p.Signature...),
	})
	req.UpdatedAt = s.clock().UTC()

	s.log.Info("guardian signature added",
		"id", req.ID, "guardian", p.Guardian.Hex(), "signatures", len(req.Signatures))

	return cloneRequest(req), nil
}

// ExecuteRecoveryRequest submits the recovery transaction for a pending
// request with enough signatures. The call does not await inclusion;
// callers poll the request status.
func (s *Service) ExecuteRecoveryRequest(ctx context.Context, id string) (*interfaces.RecoveryRequest, error) {
	s.mu.Lock()
	req, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		return nil, api.NewError(api.ErrKindNotFound, "recovery request %s not found", id)
	}
	if req.Status != interfaces.StatusPending {
		s.mu.Unlock()
		return nil, api.NewError(api.ErrKindConflict, "recovery request %s is %s, not PENDING", id, req.Status)
	}
	if uint64(len(req.Signatures)) < uint64(req.GuardianThreshold) {
		s.mu.Unlock()
		return nil, api.NewError(api.ErrKindInsufficientSignatures,
			"request %s has %d of %d required signatures", id, len(req.Signatures), req.GuardianThreshold)
	}
	chainID := uint64(req.ChainID)
	submitCopy := cloneRequest(req)
	s.mu.Unlock()

	be, _, err := s.backend(chainID)
	if err != nil {
		return nil, err
	}

	txInfo, err := be.submitter.SubmitExecution(ctx, submitCopy)
	if err != nil {
		return nil, fmt.Errorf("execution submission for request %s failed: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Status == interfaces.StatusPending {
		req.Status = interfaces.StatusExecuted
		req.ExecuteInfo = &txInfo
		// While EXECUTED, UpdatedAt is the execution time the grace
		// period is measured from.
		req.UpdatedAt = s.clock().UTC()
	}

	s.log.Info("recovery request executed", "id", id, "txHash", txInfo.TxHash.Hex())

	return cloneRequest(req), nil
}

// FinalizeRecoveryRequest submits the finalization transaction once the
// grace period has elapsed since execution.
func (s *Service) FinalizeRecoveryRequest(ctx context.Context, id string) (*interfaces.RecoveryRequest, error) {
	s.mu.Lock()
	req, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		return nil, api.NewError(api.ErrKindNotFound, "recovery request %s not found", id)
	}
	if req.Status != interfaces.StatusExecuted {
		s.mu.Unlock()
		return nil, api.NewError(api.ErrKindConflict, "recovery request %s is %s, not EXECUTED", id, req.Status)
	}
	chainID := uint64(req.ChainID)
	executedAt := req.UpdatedAt
	submitCopy := cloneRequest(req)
	s.mu.Unlock()

	be, netCfg, err := s.backend(chainID)
	if err != nil {
		return nil, err
	}

	if elapsed := s.clock().UTC().Sub(executedAt); elapsed < netCfg.GracePeriod {
		return nil, api.NewError(api.ErrKindNotYetReady,
			"grace period not elapsed for request %s: %s of %s", id, elapsed.Round(time.Second), netCfg.GracePeriod)
	}

	txInfo, err := be.submitter.SubmitFinalization(ctx, submitCopy)
	if err != nil {
		return nil, fmt.Errorf("finalization submission for request %s failed: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Status == interfaces.StatusExecuted {
		req.Status = interfaces.StatusFinalized
		req.FinalizeInfo = &txInfo
		req.UpdatedAt = s.clock().UTC()
	}

	s.log.Info("recovery request finalized", "id", id, "txHash", txInfo.TxHash.Hex())

	return cloneRequest(req), nil
}

// RecoveryRequests returns stored requests for (account, chainID, nonce)
// with exactly the given status, ordered by creation time. Observing
// more than one EXECUTED or FINALIZED request at a single nonce is a
// data-integrity fault and fails loudly.
func (s *Service) RecoveryRequests(account common.Address, chainID, nonce uint64, status interfaces.RecoveryStatus) ([]*interfaces.RecoveryRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*interfaces.RecoveryRequest
	for _, req := range s.requests {
		if req.Account == account && uint64(req.ChainID) == chainID &&
			uint64(req.Nonce) == nonce && req.Status == status {
			out = append(out, cloneRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	if status != interfaces.StatusPending && len(out) > 1 {
		return nil, api.NewError(api.ErrKindBadData,
			"%d %s requests stored for account %s at nonce %d, expected at most one",
			len(out), status, account.Hex(), nonce)
	}
	return out, nil
}

// verifyGuardianSignature checks one guardian's EIP-712 signature over
// the request payload and the guardian's on-chain enrollment.
func (s *Service) verifyGuardianSignature(ctx context.Context, be chainBackend, netCfg networks.Config, account common.Address, newOwners []common.Address, newThreshold, nonce uint64, guardian common.Address, sig []byte) error {
	enrolled, err := be.reader.IsGuardian(ctx, account, guardian)
	if err != nil {
		return fmt.Errorf("could not check guardian enrollment: %w", err)
	}
	if !enrolled {
		return api.NewError(api.ErrKindGuardianNotOnboarded, "%s is not a guardian of %s", guardian.Hex(), account.Hex())
	}

	digest, err := api.RecoveryRequestSigningHash(netCfg.RecoveryModuleAddress, netCfg.ChainID, account, newOwners, newThreshold, nonce)
	if err != nil {
		return fmt.Errorf("could not compute signing hash: %w", err)
	}

	recovered, err := recoverSigner(digest, sig)
	if err != nil {
		return api.NewError(api.ErrKindInvalidSignature, "signature does not parse: %v", err)
	}
	if recovered != guardian {
		return api.NewError(api.ErrKindInvalidSignature, "signature does not verify against guardian %s", guardian.Hex())
	}
	return nil
}

// recoverSigner recovers the signing address from a 65-byte signature,
// accepting V in {0, 1, 27, 28}.
func recoverSigner(digest, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	normalized := append([]byte(nil), sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func cloneRequest(req *interfaces.RecoveryRequest) *interfaces.RecoveryRequest {
	cp := *req
	cp.NewOwners = append([]common.Address(nil), req.NewOwners...)
	cp.Signatures = append([]interfaces.GuardianSignature(nil), req.Signatures...)
	if req.ExecuteInfo != nil {
		info := *req.ExecuteInfo
		cp.ExecuteInfo = &info
	}
	if req.FinalizeInfo != nil {
		info := *req.FinalizeInfo
		cp.FinalizeInfo = &info
	}
	return &cp
}

func hexUint(v uint64) hexutil.Uint64 {
	return hexutil.Uint64(v)
}
