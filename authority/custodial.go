package authority

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/candinet/account-recovery-backend/api"
	"github.com/candinet/account-recovery-backend/interfaces"
	"github.com/candinet/account-recovery-backend/statement"
)

// CodeSender delivers one-time codes over an out-of-band channel. The
// delivery mechanism (SMTP, SMS gateway) is opaque to the authority.
type CodeSender interface {
	SendCode(ctx context.Context, channel interfaces.Channel, target, code string) error
}

// LogCodeSender records that a delivery happened without logging the
// code or the full target. It is the default sender for development.
type LogCodeSender struct {
	Log *slog.Logger
}

func (s *LogCodeSender) SendCode(ctx context.Context, channel interfaces.Channel, target, code string) error {
	s.Log.Info("one-time code issued", "channel", channel, "target", maskTarget(channel, target))
	return nil
}

// CaptureCodeSender keeps the last code sent per target. Test use only.
type CaptureCodeSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (s *CaptureCodeSender) SendCode(ctx context.Context, channel interfaces.Channel, target, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes == nil {
		s.codes = make(map[string]string)
	}
	s.codes[target] = code
	return nil
}

// CodeFor returns the last code delivered to target.
func (s *CaptureCodeSender) CodeFor(target string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[target]
}

type challengePurpose int

const (
	purposeRegister challengePurpose = iota
	purposeSignature
)

// challenge is one issued one-time code. Codes are stored as sha256
// digests and are single-use: the used flag flips under the service
// mutex, so two concurrent submissions of the same challenge cannot
// both succeed.
type challenge struct {
	id        string
	purpose   challengePurpose
	account   common.Address
	chainID   uint64
	channel   interfaces.Channel
	target    string
	codeHash  [32]byte
	expiresAt time.Time
	used      bool

	// requestID links signature challenges to their signature request.
	requestID string
}

// signatureRequest aggregates the per-channel verifications of one
// custodial signing attempt. The payload fields are captured at request
// time so the released signature covers exactly what was asked for.
type signatureRequest struct {
	id           string
	account      common.Address
	chainID      uint64
	newOwners    []common.Address
	newThreshold uint64
	nonce        uint64

	required     int
	challengeIDs []string
	verified     map[string]bool
	consumed     bool
}

// Register binds one out-of-band channel target to an account. The
// statement signature must satisfy the account's own owner threshold,
// so a single compromised owner key cannot silently redirect recovery
// channels on a multi-owner account.
func (s *Service) Register(ctx context.Context, p *api.RegisterParams) (*api.RegisterResult, error) {
	channel, err := interfaces.ParseChannel(p.Channel)
	if err != nil {
		return nil, api.NewError(api.ErrKindBadRequest, "%v", err)
	}
	if p.Target == "" {
		return nil, api.NewError(api.ErrKindBadRequest, "target must not be empty")
	}

	be, _, err := s.backend(uint64(p.ChainID))
	if err != nil {
		return nil, err
	}

	expected := statement.RegisterChannelStatement(channel, p.Target, p.Account)
	if err := s.verifyAccountStatement(ctx, be, p.Account, uint64(p.ChainID), p.Statement, p.Signature, expected); err != nil {
		return nil, err
	}

	s.mu.Lock()
	for _, reg := range s.registrations {
		if reg.Account == p.Account && uint64(reg.ChainID) == uint64(p.ChainID) &&
			reg.Channel == channel && reg.Target == p.Target {
			s.mu.Unlock()
			return nil, api.NewError(api.ErrKindConflict, "%s %s is already registered for %s", channel, maskTarget(channel, p.Target), p.Account.Hex())
		}
	}
	s.mu.Unlock()

	ch, code, err := s.newChallenge(purposeRegister, p.Account, uint64(p.ChainID), channel, p.Target)
	if err != nil {
		return nil, err
	}

	if err := s.sender.SendCode(ctx, channel, p.Target, code); err != nil {
		s.dropChallenge(ch.id)
		return nil, fmt.Errorf("could not deliver one-time code: %w", err)
	}

	s.log.Info("registration challenge issued",
		"account", p.Account.Hex(), "channel", channel, "target", maskTarget(channel, p.Target))

	return &api.RegisterResult{ChallengeID: ch.id}, nil
}

// SubmitRegistrationChallenge completes a registration by answering its
// one-time code. The challenge is consumed on success.
func (s *Service) SubmitRegistrationChallenge(ctx context.Context, p *api.ChallengeParams) (*api.SubmitRegistrationChallengeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[p.ChallengeID]
	if !ok || ch.purpose != purposeRegister {
		return nil, api.NewError(api.ErrKindChallengeNotFound, "challenge %s not found", p.ChallengeID)
	}
	if err := s.checkAndConsumeChallengeLocked(ch, p.Code); err != nil {
		return nil, err
	}

	reg := &interfaces.Registration{
		ID:        uuid.NewString(),
		Account:   ch.account,
		ChainID:   hexUint(ch.chainID),
		Channel:   ch.channel,
		Target:    ch.target,
		CreatedAt: s.clock().UTC(),
	}
	s.registrations[reg.ID] = reg
	delete(s.challenges, ch.id)

	s.log.Info("channel registered",
		"account", reg.Account.Hex(), "channel", reg.Channel, "registrationId", reg.ID)

	return &api.SubmitRegistrationChallengeResult{
		RegistrationID:  reg.ID,
		GuardianAddress: s.signer.Address(),
	}, nil
}

// ListRegistrations returns the account's active registrations. Reading
// the list reveals channel targets, so it is gated the same way as
// registration itself.
func (s *Service) ListRegistrations(ctx context.Context, p *api.AccountStatementParams) ([]*interfaces.Registration, error) {
	be, _, err := s.backend(uint64(p.ChainID))
	if err != nil {
		return nil, err
	}

	expected := statement.ListRegistrationsStatement(p.Account)
	if err := s.verifyAccountStatement(ctx, be, p.Account, uint64(p.ChainID), p.Statement, p.Signature, expected); err != nil {
		return nil, err
	}

	return s.activeRegistrations(p.Account, uint64(p.ChainID)), nil
}

// DeleteRegistration removes one registration immediately. Deletion does
// not block re-registering the identical (channel, target) pair.
func (s *Service) DeleteRegistration(ctx context.Context, p *api.DeleteRegistrationParams) error {
	s.mu.Lock()
	reg, ok := s.registrations[p.RegistrationID]
	s.mu.Unlock()
	if !ok {
		return api.NewError(api.ErrKindNotFound, "registration %s not found", p.RegistrationID)
	}

	be, _, err := s.backend(uint64(reg.ChainID))
	if err != nil {
		return err
	}

	expected := statement.DeleteRegistrationStatement(reg.ID, reg.Account)
	if err := s.verifyAccountStatement(ctx, be, reg.Account, uint64(reg.ChainID), p.Statement, p.Signature, expected); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.registrations, p.RegistrationID)
	s.mu.Unlock()

	s.log.Info("registration deleted", "registrationId", p.RegistrationID, "account", reg.Account.Hex())
	return nil
}

// RequestSignature opens a custodial signing attempt: one fresh
// challenge per currently active registration. The custodial guardian
// must already be enrolled in the account's on-chain guardian list;
// this is checked against ledger state, not registration state.
func (s *Service) RequestSignature(ctx context.Context, p *api.RequestSignatureParams) (*interfaces.SignatureRequest, error) {
	be, _, err := s.backend(uint64(p.ChainID))
	if err != nil {
		return nil, err
	}
	if len(p.NewOwners) == 0 {
		return nil, api.NewError(api.ErrKindBadRequest, "newOwners must not be empty")
	}

	isAccount, err := be.reader.IsSmartAccount(ctx, p.Account)
	if err != nil {
		return nil, fmt.Errorf("could not inspect account %s: %w", p.Account.Hex(), err)
	}
	if !isAccount {
		return nil, api.NewError(api.ErrKindUnknownAccount, "%s is not a recognized smart account", p.Account.Hex())
	}

	enrolled, err := be.reader.IsGuardian(ctx, p.Account, s.signer.Address())
	if err != nil {
		return nil, fmt.Errorf("could not check guardian enrollment: %w", err)
	}
	if !enrolled {
		return nil, api.NewError(api.ErrKindGuardianNotOnboarded,
			"custodial guardian %s is not enrolled on account %s", s.signer.Address().Hex(), p.Account.Hex())
	}

	nonce, err := be.reader.RecoveryNonce(ctx, p.Account)
	if err != nil {
		return nil, fmt.Errorf("could not read recovery nonce: %w", err)
	}

	regs := s.activeRegistrations(p.Account, uint64(p.ChainID))
	if len(regs) == 0 {
		return nil, api.NewError(api.ErrKindConflict, "account %s has no registered channels", p.Account.Hex())
	}

	sr := &signatureRequest{
		id:           uuid.NewString(),
		account:      p.Account,
		chainID:      uint64(p.ChainID),
		newOwners:    append([]common.Address(nil), p.NewOwners...),
		newThreshold: uint64(p.NewThreshold),
		nonce:        nonce,
		required:     len(regs),
		verified:     make(map[string]bool),
	}

	auths := make([]interfaces.ChallengeAuth, 0, len(regs))
	for _, reg := range regs {
		ch, code, err := s.newChallenge(purposeSignature, p.Account, uint64(p.ChainID), reg.Channel, reg.Target)
		if err != nil {
			return nil, err
		}
		ch.requestID = sr.id
		sr.challengeIDs = append(sr.challengeIDs, ch.id)

		if err := s.sender.SendCode(ctx, reg.Channel, reg.Target, code); err != nil {
			s.dropSignatureRequest(sr)
			return nil, fmt.Errorf("could not deliver one-time code: %w", err)
		}

		auths = append(auths, interfaces.ChallengeAuth{
			ChallengeID: ch.id,
			Channel:     reg.Channel,
			Target:      maskTarget(reg.Channel, reg.Target),
		})
	}

	s.mu.Lock()
	s.sigRequests[sr.id] = sr
	s.mu.Unlock()

	s.log.Info("signature request opened",
		"requestId", sr.id, "account", p.Account.Hex(), "requiredVerifications", sr.required)

	return &interfaces.SignatureRequest{
		RequestID:             sr.id,
		RequiredVerifications: sr.required,
		Auths:                 auths,
	}, nil
}

// SubmitSignatureChallenge verifies one channel of a signature request.
// The authorizing (guardian, signature) pair is released only on the
// submission that completes the last outstanding channel; no proper
// subset of channels suffices.
func (s *Service) SubmitSignatureChallenge(ctx context.Context, p *api.SubmitSignatureChallengeParams) (*interfaces.SignatureChallengeResult, error) {
	s.mu.Lock()
	sr, ok := s.sigRequests[p.RequestID]
	if !ok {
		s.mu.Unlock()
		return nil, api.NewError(api.ErrKindNotFound, "signature request %s not found", p.RequestID)
	}

	ch, ok := s.challenges[p.ChallengeID]
	if !ok || ch.purpose != purposeSignature || ch.requestID != sr.id {
		s.mu.Unlock()
		return nil, api.NewError(api.ErrKindChallengeNotFound, "challenge %s not found for request %s", p.ChallengeID, p.RequestID)
	}

	if err := s.checkAndConsumeChallengeLocked(ch, p.Code); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	sr.verified[ch.id] = true
	verified := len(sr.verified)
	complete := verified == sr.required && !sr.consumed
	if complete {
		// Consume under the lock: the request yields a signature at
		// most once, even under concurrent final submissions.
		sr.consumed = true
	}
	s.mu.Unlock()

	s.log.Info("signature challenge verified",
		"requestId", sr.id, "challengeId", ch.id, "verified", verified, "required", sr.required)

	if !complete {
		return &interfaces.SignatureChallengeResult{Success: true}, nil
	}

	netCfg, err := s.networks.ForChain(sr.chainID)
	if err != nil {
		return nil, api.NewError(api.ErrKindNotFound, "chain %d is not supported", sr.chainID)
	}

	digest, err := api.RecoveryRequestSigningHash(netCfg.RecoveryModuleAddress, sr.chainID, sr.account, sr.newOwners, sr.newThreshold, sr.nonce)
	if err != nil {
		return nil, fmt.Errorf("could not compute signing hash: %w", err)
	}

	sig, err := s.signer.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("could not produce custodial signature: %w", err)
	}

	s.dropSignatureRequest(sr)

	guardian := s.signer.Address()
	s.log.Info("custodial signature released", "requestId", sr.id, "account", sr.account.Hex())

	return &interfaces.SignatureChallengeResult{
		Success:         true,
		GuardianAddress: &guardian,
		Signature:       sig,
	}, nil
}

// CreateAndExecuteRecoveryRequest composes request creation and
// execution in one call, for use with a freshly released custodial
// signature. It fails loudly if execution does not report success,
// never returning a request that was not actually executed.
func (s *Service) CreateAndExecuteRecoveryRequest(ctx context.Context, p *api.CreateRecoveryRequestParams) (*interfaces.RecoveryRequest, error) {
	created, err := s.CreateRecoveryRequest(ctx, p)
	if err != nil {
		return nil, err
	}

	executed, err := s.ExecuteRecoveryRequest(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("request %s created but execution failed: %w", created.ID, err)
	}
	if executed.Status != interfaces.StatusExecuted {
		return nil, api.NewError(api.ErrKindBadData, "request %s did not reach EXECUTED after submission", created.ID)
	}
	return executed, nil
}

// verifyAccountStatement checks an owner-threshold signature blob over
// the exact expected statement text.
func (s *Service) verifyAccountStatement(ctx context.Context, be chainBackend, account common.Address, chainID uint64, rawStatement string, sig []byte, expectedText string) error {
	msg, err := statement.Parse(rawStatement)
	if err != nil {
		return api.NewError(api.ErrKindStatement, "%v", err)
	}
	if err := msg.Verify(account, s.maxStatementAge, s.clock().UTC()); err != nil {
		return api.NewError(api.ErrKindStatement, "%v", err)
	}
	if msg.ChainID != chainID {
		return api.NewError(api.ErrKindStatement, "statement bound to chain %d, not %d", msg.ChainID, chainID)
	}
	if msg.Statement != expectedText {
		return api.NewError(api.ErrKindStatement, "statement text does not match the requested action")
	}

	owners, err := be.reader.Owners(ctx, account)
	if err != nil {
		return fmt.Errorf("could not read owners of %s: %w", account.Hex(), err)
	}
	threshold, err := be.reader.OwnerThreshold(ctx, account)
	if err != nil {
		return fmt.Errorf("could not read owner threshold of %s: %w", account.Hex(), err)
	}

	if len(sig) == 0 || len(sig)%65 != 0 {
		return api.NewError(api.ErrKindInvalidSignature, "signature blob must be a concatenation of 65-byte signatures")
	}

	digest := msg.SigningHash()
	ownerSet := make(map[common.Address]bool, len(owners))
	for _, owner := range owners {
		ownerSet[owner] = true
	}

	signed := make(map[common.Address]bool)
	for off := 0; off < len(sig); off += 65 {
		recovered, err := recoverSigner(digest, sig[off:off+65])
		if err != nil {
			return api.NewError(api.ErrKindInvalidSignature, "signature at offset %d does not parse: %v", off, err)
		}
		if ownerSet[recovered] {
			signed[recovered] = true
		}
	}

	if uint64(len(signed)) < threshold {
		return api.NewError(api.ErrKindInvalidSignature,
			"statement signed by %d of %d required owners", len(signed), threshold)
	}
	return nil
}

// newChallenge creates and stores a one-time code challenge, returning
// the plaintext code exactly once for delivery.
func (s *Service) newChallenge(purpose challengePurpose, account common.Address, chainID uint64, channel interfaces.Channel, target string) (*challenge, string, error) {
	code, err := newOTPCode()
	if err != nil {
		return nil, "", fmt.Errorf("could not generate one-time code: %w", err)
	}

	ch := &challenge{
		id:        uuid.NewString(),
		purpose:   purpose,
		account:   account,
		chainID:   chainID,
		channel:   channel,
		target:    target,
		codeHash:  sha256.Sum256([]byte(code)),
		expiresAt: s.clock().UTC().Add(s.challengeTTL),
	}

	s.mu.Lock()
	s.challenges[ch.id] = ch
	s.mu.Unlock()

	return ch, code, nil
}

// checkAndConsumeChallengeLocked validates a submitted code and marks
// the challenge used. Callers hold s.mu.
func (s *Service) checkAndConsumeChallengeLocked(ch *challenge, code string) error {
	if ch.used {
		return api.NewError(api.ErrKindInvalidChallenge, "challenge %s was already used", ch.id)
	}
	if s.clock().UTC().After(ch.expiresAt) {
		return api.NewError(api.ErrKindInvalidChallenge, "challenge %s has expired", ch.id)
	}

	submitted := sha256.Sum256([]byte(code))
	if subtle.ConstantTimeCompare(submitted[:], ch.codeHash[:]) != 1 {
		return api.NewError(api.ErrKindInvalidChallenge, "code does not match challenge %s", ch.id)
	}

	ch.used = true
	return nil
}

func (s *Service) dropChallenge(id string) {
	s.mu.Lock()
	delete(s.challenges, id)
	s.mu.Unlock()
}

func (s *Service) dropSignatureRequest(sr *signatureRequest) {
	s.mu.Lock()
	delete(s.sigRequests, sr.id)
	for _, id := range sr.challengeIDs {
		delete(s.challenges, id)
	}
	s.mu.Unlock()
}

// activeRegistrations lists the account's registrations ordered by
// creation time.
func (s *Service) activeRegistrations(account common.Address, chainID uint64) []*interfaces.Registration {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*interfaces.Registration
	for _, reg := range s.registrations {
		if reg.Account == account && uint64(reg.ChainID) == chainID {
			cp := *reg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// newOTPCode draws a 6-digit numeric code from crypto/rand.
func newOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// maskTarget hides most of a channel target for listings and logs.
func maskTarget(channel interfaces.Channel, target string) string {
	switch channel {
	case interfaces.ChannelEmail:
		at := strings.IndexByte(target, '@')
		if at <= 0 {
			return "***"
		}
		visible := 2
		if at < visible {
			visible = at
		}
		return target[:visible] + "***" + target[at:]
	case interfaces.ChannelSMS:
		if len(target) <= 4 {
			return "***"
		}
		return "***" + target[len(target)-4:]
	}
	return "***"
}
