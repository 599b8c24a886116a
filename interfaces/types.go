// Package interfaces defines the core types of the account recovery
// protocol and the contracts between its components. It carries no
// implementation beyond validation helpers.
package interfaces

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RecoveryStatus is the lifecycle state of a recovery request.
type RecoveryStatus string

const (
	// StatusPending means the request is collecting guardian signatures
	// and still references the account's current recovery nonce.
	StatusPending RecoveryStatus = "PENDING"

	// StatusExecuted means the recovery transaction was accepted on-chain
	// and the grace period is running.
	StatusExecuted RecoveryStatus = "EXECUTED"

	// StatusFinalized is terminal; the request is immutable thereafter.
	StatusFinalized RecoveryStatus = "FINALIZED"
)

// ErrInvalidStatus is returned for status strings outside the lifecycle.
var ErrInvalidStatus = errors.New("invalid recovery status")

// ParseRecoveryStatus validates a status string from the wire.
func ParseRecoveryStatus(s string) (RecoveryStatus, error) {
	switch RecoveryStatus(s) {
	case StatusPending, StatusExecuted, StatusFinalized:
		return RecoveryStatus(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Terminal reports whether no further transition is allowed from s.
func (s RecoveryStatus) Terminal() bool {
	return s == StatusFinalized
}

// CanTransitionTo reports whether the lifecycle permits moving from s to
// next. Statuses only ever advance: PENDING -> EXECUTED -> FINALIZED.
func (s RecoveryStatus) CanTransitionTo(next RecoveryStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusExecuted
	case StatusExecuted:
		return next == StatusFinalized
	}
	return false
}

// Channel is an out-of-band verification channel kind.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// ErrInvalidChannel is returned for channel strings outside the known set.
var ErrInvalidChannel = errors.New("invalid channel")

// ParseChannel validates a channel string from the wire.
func ParseChannel(s string) (Channel, error) {
	switch Channel(s) {
	case ChannelEmail, ChannelSMS:
		return Channel(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidChannel, s)
}

// GuardianSignature is one guardian's signature over the recovery
// request's typed-data payload.
type GuardianSignature struct {
	Guardian  common.Address `json:"guardian"`
	Signature hexutil.Bytes  `json:"signature"`
}

// TransactionInfo references the on-chain transaction that drove a
// lifecycle transition and whether its gas was sponsored.
type TransactionInfo struct {
	TxHash    common.Hash `json:"txHash"`
	Sponsored bool        `json:"sponsored"`
}

// RecoveryRequest is one attempt to change an account's signer set. It is
// owned by the remote authority; clients hold it only as a value.
//
// Nonce is the account's on-chain recovery nonce at creation time. A
// PENDING request always references the account's current nonce, while an
// EXECUTED or FINALIZED request references the nonce as it was before the
// execution that advanced it.
type RecoveryRequest struct {
	ID           string           `json:"id"`
	Account      common.Address   `json:"account"`
	ChainID      hexutil.Uint64   `json:"chainId"`
	Nonce        hexutil.Uint64   `json:"nonce"`
	NewOwners    []common.Address `json:"newOwners"`
	NewThreshold hexutil.Uint64   `json:"newThreshold"`

	// GuardianThreshold is the account's guardian threshold captured when
	// the request was created. Execution requires at least this many
	// distinct guardian signatures.
	GuardianThreshold hexutil.Uint64 `json:"guardianThreshold"`

	Signatures []GuardianSignature `json:"signatures"`
	Status     RecoveryStatus      `json:"status"`

	ExecuteInfo  *TransactionInfo `json:"executeInfo,omitempty"`
	FinalizeInfo *TransactionInfo `json:"finalizeInfo,omitempty"`

	Discoverable bool `json:"discoverable"`

	// IntegrityToken is a short human-memorable emoji sequence guardians
	// exchange out-of-band to confirm they are countersigning the same
	// request. Present only on the guardian-quorum flow.
	IntegrityToken string `json:"integrityToken,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SignedBy reports whether guardian already contributed a signature.
func (r *RecoveryRequest) SignedBy(guardian common.Address) bool {
	for _, sig := range r.Signatures {
		if sig.Guardian == guardian {
			return true
		}
	}
	return false
}

// Registration binds one out-of-band channel target to an account under
// the custodial guardian.
type Registration struct {
	ID        string         `json:"id"`
	Account   common.Address `json:"account"`
	ChainID   hexutil.Uint64 `json:"chainId"`
	Channel   Channel        `json:"channel"`
	Target    string         `json:"target"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ChallengeAuth is one pending channel verification within a custodial
// signature request. Target is masked; the full target never leaves the
// authority after registration.
type ChallengeAuth struct {
	ChallengeID string  `json:"challengeId"`
	Channel     Channel `json:"channel"`
	Target      string  `json:"target"`
}

// SignatureRequest aggregates the per-channel verifications required
// before the custodial guardian releases its signature. No proper subset
// of Auths suffices: RequiredVerifications always equals len(Auths).
type SignatureRequest struct {
	RequestID             string          `json:"requestId"`
	RequiredVerifications int             `json:"requiredVerifications"`
	Auths                 []ChallengeAuth `json:"auths"`
}

// SignatureChallengeResult is the outcome of verifying one channel.
// GuardianAddress and Signature are populated only on the submission that
// completes the final outstanding channel.
type SignatureChallengeResult struct {
	Success         bool            `json:"success"`
	GuardianAddress *common.Address `json:"guardianAddress,omitempty"`
	Signature       hexutil.Bytes   `json:"signature,omitempty"`
}
