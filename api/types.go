// Package api defines the wire contract between recovery clients and the
// authority: RPC method names, parameter and result shapes, and the error
// taxonomy. Large integers travel as 0x-hex strings to preserve precision
// across JSON implementations.
package api

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/candinet/account-recovery-backend/interfaces"
)

// RPCPath is the authority's JSON-RPC endpoint path.
const RPCPath = "/api/v1/rpc"

// Guardian-quorum methods.
const (
	MethodCreateRecoveryRequest   = "grdn_createRecoveryRequest"
	MethodSignRecoveryRequest     = "grdn_signRecoveryRequest"
	MethodExecuteRecoveryRequest  = "grdn_executeRecoveryRequest"
	MethodFinalizeRecoveryRequest = "grdn_finalizeRecoveryRequest"
	MethodGetRecoveryRequests     = "grdn_getRecoveryRequests"
	MethodGetNetworkConfig        = "grdn_getNetworkConfig"
)

// Custodial-guardian methods.
const (
	MethodRegister                        = "cstd_register"
	MethodSubmitRegistrationChallenge     = "cstd_submitRegistrationChallenge"
	MethodListRegistrations               = "cstd_listRegistrations"
	MethodDeleteRegistration              = "cstd_deleteRegistration"
	MethodRequestSignature                = "cstd_requestSignature"
	MethodSubmitSignatureChallenge        = "cstd_submitSignatureChallenge"
	MethodCreateAndExecuteRecoveryRequest = "cstd_createAndExecuteRecoveryRequest"
)

// CreateRecoveryRequestParams opens a recovery request with the first
// guardian's signature over the request's typed-data payload.
type CreateRecoveryRequestParams struct {
	Account      common.Address   `json:"account"`
	ChainID      hexutil.Uint64   `json:"chainId"`
	NewOwners    []common.Address `json:"newOwners"`
	NewThreshold hexutil.Uint64   `json:"newThreshold"`
	Guardian     common.Address   `json:"guardian"`
	Signature    hexutil.Bytes    `json:"signature"`
}

// SignRecoveryRequestParams appends one guardian signature to a pending
// request.
type SignRecoveryRequestParams struct {
	ID        string         `json:"id"`
	Guardian  common.Address `json:"guardian"`
	Signature hexutil.Bytes  `json:"signature"`
}

// RequestIDParams identifies a recovery request for execute and finalize.
type RequestIDParams struct {
	ID string `json:"id"`
}

// GetRecoveryRequestsParams queries stored requests for an account at a
// specific recovery nonce and status.
type GetRecoveryRequestsParams struct {
	Account common.Address `json:"account"`
	ChainID hexutil.Uint64 `json:"chainId"`
	Nonce   hexutil.Uint64 `json:"nonce"`
	Status  string         `json:"status"`
}

// GetNetworkConfigParams resolves chain-specific module configuration.
type GetNetworkConfigParams struct {
	ChainID hexutil.Uint64 `json:"chainId"`
}

// NetworkConfigResult is the chain configuration the authority operates
// with.
type NetworkConfigResult struct {
	ChainID               hexutil.Uint64 `json:"chainId"`
	RecoveryModuleAddress common.Address `json:"recoveryModuleAddress"`
	GracePeriodSeconds    hexutil.Uint64 `json:"gracePeriodSeconds"`
	SponsorshipEnabled    bool           `json:"sponsorshipEnabled"`
	DiscoverableDefault   bool           `json:"discoverableDefault"`
}

// RegisterParams binds one out-of-band channel to an account. Statement
// is the rendered SIWE-style text; Signature must satisfy the account's
// own owner threshold over exactly that text.
type RegisterParams struct {
	Account   common.Address `json:"account"`
	ChainID   hexutil.Uint64 `json:"chainId"`
	Channel   string         `json:"channel"`
	Target    string         `json:"target"`
	Statement string         `json:"statement"`
	Signature hexutil.Bytes  `json:"signature"`
}

// RegisterResult carries the challenge the channel target must answer.
type RegisterResult struct {
	ChallengeID string `json:"challengeId"`
}

// ChallengeParams submits a one-time code for a registration challenge.
type ChallengeParams struct {
	ChallengeID string `json:"challengeId"`
	Code        string `json:"code"`
}

// SubmitRegistrationChallengeResult confirms a completed registration.
// GuardianAddress is the custodial guardian's signer, the address that
// must be enrolled in the account's on-chain guardian list.
type SubmitRegistrationChallengeResult struct {
	RegistrationID  string         `json:"registrationId"`
	GuardianAddress common.Address `json:"guardianAddress"`
}

// AccountStatementParams authorizes an account-scoped read or delete with
// an owner-threshold signature over Statement.
type AccountStatementParams struct {
	Account   common.Address `json:"account"`
	ChainID   hexutil.Uint64 `json:"chainId"`
	Statement string         `json:"statement"`
	Signature hexutil.Bytes  `json:"signature"`
}

// DeleteRegistrationParams removes one registration.
type DeleteRegistrationParams struct {
	RegistrationID string        `json:"registrationId"`
	Statement      string        `json:"statement"`
	Signature      hexutil.Bytes `json:"signature"`
}

// RequestSignatureParams opens a custodial signature request over the
// proposed new owner set.
type RequestSignatureParams struct {
	Account      common.Address   `json:"account"`
	ChainID      hexutil.Uint64   `json:"chainId"`
	NewOwners    []common.Address `json:"newOwners"`
	NewThreshold hexutil.Uint64   `json:"newThreshold"`
}

// SubmitSignatureChallengeParams verifies one channel of a custodial
// signature request.
type SubmitSignatureChallengeParams struct {
	RequestID   string `json:"requestId"`
	ChallengeID string `json:"challengeId"`
	Code        string `json:"code"`
}

// ExecutionResult reports the transaction submitted for an execute or
// finalize call.
type ExecutionResult struct {
	Request *interfaces.RecoveryRequest `json:"request"`
}
