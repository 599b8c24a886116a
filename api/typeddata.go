package api

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// TypedDataDomainName identifies the recovery module's EIP-712 domain.
const TypedDataDomainName = "AccountRecoveryModule"

// TypedDataDomainVersion is the module's domain version.
const TypedDataDomainVersion = "1"

// RecoveryRequestTypedData builds the EIP-712 payload every guardian of a
// recovery request signs. The payload is fixed at request creation: it
// binds the account, the proposed owner set, and the account's recovery
// nonce at creation time, so a signature can neither be replayed across
// requests nor across executions.
func RecoveryRequestTypedData(module common.Address, chainID uint64, account common.Address, newOwners []common.Address, newThreshold, nonce uint64) apitypes.TypedData {
	owners := make([]interface{}, len(newOwners))
	for i, owner := range newOwners {
		owners[i] = owner.Hex()
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"ExecuteRecovery": []apitypes.Type{
				{Name: "account", Type: "address"},
				{Name: "newOwners", Type: "address[]"},
				{Name: "newThreshold", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		PrimaryType: "ExecuteRecovery",
		Domain: apitypes.TypedDataDomain{
			Name:              TypedDataDomainName,
			Version:           TypedDataDomainVersion,
			ChainId:           math.NewHexOrDecimal256(int64(chainID)),
			VerifyingContract: module.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"account":      account.Hex(),
			"newOwners":    owners,
			"newThreshold": math.NewHexOrDecimal256(int64(newThreshold)),
			"nonce":        math.NewHexOrDecimal256(int64(nonce)),
		},
	}
}

// RecoveryRequestSigningHash returns the digest guardians sign for the
// given recovery payload.
func RecoveryRequestSigningHash(module common.Address, chainID uint64, account common.Address, newOwners []common.Address, newThreshold, nonce uint64) ([]byte, error) {
	typedData := RecoveryRequestTypedData(module, chainID, account, newOwners, newThreshold, nonce)
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("could not hash recovery typed data: %w", err)
	}
	return hash, nil
}
