// Package guardianclient coordinates guardian-quorum recovery against a
// remote authority: opening requests, collecting guardian signatures,
// executing once the on-chain guardian threshold is met, and finalizing
// after the grace period.
package guardianclient

import (
	"context"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/candinet/account-recovery-backend/api"
	"github.com/candinet/account-recovery-backend/api/rpcclient"
	"github.com/candinet/account-recovery-backend/interfaces"
)

// Client talks to the authority's guardian-quorum surface. It holds no
// recovery state of its own; the account's recovery nonce is read from
// the ledger so that status queries resolve against the correct epoch.
type Client struct {
	rpc    *rpcclient.Client
	ledger interfaces.AccountReader
}

// New creates a guardian client for the authority at baseURL. The
// ledger reader may be nil if RequestsForLatestNonce is not used.
func New(baseURL string, ledger interfaces.AccountReader, timeout ...time.Duration) *Client {
	return &Client{
		rpc:    rpcclient.New(baseURL, timeout...),
		ledger: ledger,
	}
}

// TypedData returns the EIP-712 payload a guardian must sign to
// authorize replacing the account's owners at the given recovery nonce.
// It matches the payload the authority verifies byte for byte.
func TypedData(module common.Address, chainID uint64, account common.Address, newOwners []common.Address, newThreshold, nonce uint64) apitypes.TypedData {
	return api.RecoveryRequestTypedData(module, chainID, account, newOwners, newThreshold, nonce)
}

// NetworkConfig fetches the authority's configuration for a chain.
func (c *Client) NetworkConfig(ctx context.Context, chainID uint64) (*api.NetworkConfigResult, error) {
	var result api.NetworkConfigResult
	err := c.rpc.Call(ctx, api.MethodGetNetworkConfig, &api.GetNetworkConfigParams{
		ChainID: hexutil.Uint64(chainID),
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateRecoveryRequest opens a recovery request carrying the first
// guardian's signature. The authority verifies the signature against
// the account's current recovery nonce.
func (c *Client) CreateRecoveryRequest(ctx context.Context, account common.Address, chainID uint64, newOwners []common.Address, newThreshold uint64, guardian common.Address, signature []byte) (*interfaces.RecoveryRequest, error) {
	var result interfaces.RecoveryRequest
	err := c.rpc.Call(ctx, api.MethodCreateRecoveryRequest, &api.CreateRecoveryRequestParams{
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

// SignRecoveryRequest appends one guardian's signature to a pending
// request. A guardian that already signed is rejected by the authority.
func (c *Client) SignRecoveryRequest(ctx context.Context, id string, guardian common.Address, signature []byte) (*interfaces.RecoveryRequest, error) {
	var result interfaces.RecoveryRequest
	err := c.rpc.Call(ctx, api.MethodSignRecoveryRequest, &api.SignRecoveryRequestParams{
		ID:        id,
		Guardian:  guardian,
		Signature: signature,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ExecuteRecoveryRequest asks the authority to submit the recovery
// transaction. Fails with INSUFFICIENT_SIGNATURES below the guardian
// threshold captured at creation.
func (c *Client) ExecuteRecoveryRequest(ctx context.Context, id string) (*interfaces.RecoveryRequest, error) {
	var result api.ExecutionResult
	err := c.rpc.Call(ctx, api.MethodExecuteRecoveryRequest, &api.RequestIDParams{ID: id}, &result)
	if err != nil {
		return nil, err
	}
	if result.Request == nil {
		return nil, api.NewError(api.ErrKindBadData, "execute reply is missing the request")
	}
	return result.Request, nil
}

// FinalizeRecoveryRequest asks the authority to submit the finalize
// transaction. Fails with NOT_YET_READY inside the grace period.
func (c *Client) FinalizeRecoveryRequest(ctx context.Context, id string) (*interfaces.RecoveryRequest, error) {
	var result api.ExecutionResult
	err := c.rpc.Call(ctx, api.MethodFinalizeRecoveryRequest, &api.RequestIDParams{ID: id}, &result)
	if err != nil {
		return nil, err
	}
	if result.Request == nil {
		return nil, api.NewError(api.ErrKindBadData, "finalize reply is missing the request")
	}
	return result.Request, nil
}

// RecoveryRequests queries stored requests for the account at an exact
// recovery nonce and status.
func (c *Client) RecoveryRequests(ctx context.Context, account common.Address, chainID, nonce uint64, status interfaces.RecoveryStatus) ([]*interfaces.RecoveryRequest, error) {
	var result []*interfaces.RecoveryRequest
	err := c.rpc.Call(ctx, api.MethodGetRecoveryRequests, &api.GetRecoveryRequestsParams{
		Account: account,
		ChainID: hexutil.Uint64(chainID),
		Nonce:   hexutil.Uint64(nonce),
		Status:  string(status),
	}, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RequestsForLatestNonce resolves requests for the account's most
// recent recovery epoch. A successful execution advances the on-chain
// nonce, so PENDING requests live at the current nonce while EXECUTED
// and FINALIZED requests live at the previous one. When the nonce is
// zero no recovery has ever executed and the non-pending result is
// empty. More than one non-pending request at a nonce indicates
// corrupted authority state and is reported as BAD_DATA.
func (c *Client) RequestsForLatestNonce(ctx context.Context, account common.Address, chainID uint64, status interfaces.RecoveryStatus) ([]*interfaces.RecoveryRequest, error) {
	if c.ledger == nil {
		return nil, api.NewError(api.ErrKindBadRequest, "no ledger reader configured for nonce resolution")
	}

	nonce, err := c.ledger.RecoveryNonce(ctx, account)
	if err != nil {
		return nil, api.NewError(api.ErrKindServerError, "could not read recovery nonce: %v", err)
	}

	queryNonce := nonce
	if status != interfaces.StatusPending {
		if nonce == 0 {
			return []*interfaces.RecoveryRequest{}, nil
		}
		queryNonce = nonce - 1
	}

	reqs, err := c.RecoveryRequests(ctx, account, chainID, queryNonce, status)
	if err != nil {
		return nil, err
	}
	if status != interfaces.StatusPending && len(reqs) > 1 {
		return nil, api.NewError(api.ErrKindBadData, "found %d %s requests at nonce %d, expected at most one", len(reqs), status, queryNonce)
	}

	sort.Slice(reqs, func(i, j int) bool { return reqs[i].CreatedAt.Before(reqs[j].CreatedAt) })
	return reqs, nil
}
