// Package custodialclient drives the custodial-guardian protocol: binding
// out-of-band channels to an account and obtaining the custodial
// guardian's recovery signature after verifying every bound channel.
package custodialclient

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/candinet/account-recovery-backend/api"
	"github.com/candinet/account-recovery-backend/api/rpcclient"
	"github.com/candinet/account-recovery-backend/interfaces"
)

// Client talks to the authority's custodial-guardian surface.
type Client struct {
	rpc *rpcclient.Client
}

// New creates a custodial client for the authority at baseURL.
func New(baseURL string, timeout ...time.Duration) *Client {
	return &Client{rpc: rpcclient.New(baseURL, timeout...)}
}

// Register binds a channel target to the account. The statement must be
// the exact registration statement for (channel, target, account) and
// the signature must satisfy the account's owner threshold over it. The
// returned challenge must be answered with the code delivered to the
// target before the registration becomes active.
func (c *Client) Register(ctx context.Context, account common.Address, chainID uint64, channel interfaces.Channel, target, statementText string, signature []byte) (*api.RegisterResult, error) {
	var result api.RegisterResult
	err := c.rpc.Call(ctx, api.MethodRegister, &api.RegisterParams{
		Account:   account,
		ChainID:   hexutil.Uint64(chainID),
		Channel:   string(channel),
		Target:    target,
		Statement: statementText,
		Signature: signature,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// SubmitRegistrationChallenge answers a registration challenge with the
// code delivered out of band. Challenges are single-use and expire.
func (c *Client) SubmitRegistrationChallenge(ctx context.Context, challengeID, code string) (*api.SubmitRegistrationChallengeResult, error) {
	var result api.SubmitRegistrationChallengeResult
	err := c.rpc.Call(ctx, api.MethodSubmitRegistrationChallenge, &api.ChallengeParams{
		ChallengeID: challengeID,
		Code:        code,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ListRegistrations returns the account's active registrations. Requires
// an owner-threshold signature over the list statement.
func (c *Client) ListRegistrations(ctx context.Context, account common.Address, chainID uint64, statementText string, signature []byte) ([]*interfaces.Registration, error) {
	var result []*interfaces.Registration
	err := c.rpc.Call(ctx, api.MethodListRegistrations, &api.AccountStatementParams{
		Account:   account,
		ChainID:   hexutil.Uint64(chainID),
		Statement: statementText,
		Signature: signature,
	}, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteRegistration removes one registration. Requires an
// owner-threshold signature over the delete statement for that
// registration. Deletion is immediate; the same (channel, target) may
// be registered again afterwards.
func (c *Client) DeleteRegistration(ctx context.Context, registrationID, statementText string, signature []byte) error {
	var result map[string]bool
	return c.rpc.Call(ctx, api.MethodDeleteRegistration, &api.DeleteRegistrationParams{
		RegistrationID: registrationID,
		Statement:      statementText,
		Signature:      signature,
	}, &result)
}

// RequestSignature opens a custodial signing attempt over the proposed
// new owner set. One challenge is issued per active registration and
// every one of them must be answered before the signature is released.
// Fails with GUARDIAN_NOT_ONBOARDED when the custodial guardian is not
// in the account's on-chain guardian list.
func (c *Client) RequestSignature(ctx context.Context, account common.Address, chainID uint64, newOwners []common.Address, newThreshold uint64) (*interfaces.SignatureRequest, error) {
	var result interfaces.SignatureRequest
	err := c.rpc.Call(ctx, api.MethodRequestSignature, &api.RequestSignatureParams{
		Account:      account,
		ChainID:      hexutil.Uint64(chainID),
		NewOwners:    newOwners,
		NewThreshold: hexutil.Uint64(newThreshold),
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// SubmitSignatureChallenge answers one channel's challenge of a
// signature request. The guardian address and signature appear in the
// result only once every channel of the request has been verified.
func (c *Client) SubmitSignatureChallenge(ctx context.Context, requestID, challengeID, code string) (*interfaces.SignatureChallengeResult, error) {
	var result interfaces.SignatureChallengeResult
	err := c.rpc.Call(ctx, api.MethodSubmitSignatureChallenge, &api.SubmitSignatureChallengeParams{
		RequestID:   requestID,
		ChallengeID: challengeID,
		Code:        code,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateAndExecuteRecoveryRequest opens a recovery request with the
// given guardian signature and immediately executes it. Intended for
// accounts whose guardian threshold the custodial guardian alone meets.
func (c *Client) CreateAndExecuteRecoveryRequest(ctx context.Context, account common.Address, chainID uint64, newOwners []common.Address, newThreshold uint64, guardian common.Address, signature []byte) (*interfaces.RecoveryRequest, error) {
	var result interfaces.RecoveryRequest
	err := c.rpc.Call(ctx, api.MethodCreateAndExecuteRecoveryRequest, &api.CreateRecoveryRequestParams{
		Account:      account,
		ChainID:      hexutil.Uint64(chainID),
		NewOwners:    newOwners,
		NewThreshold: hexutil.Uint64(newThreshold),
		Guardian:     guardian,
		Signature:    signature,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
