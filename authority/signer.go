package authority

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"
)

// hkdfInfo separates the custodial signer derivation from any other use
// of the master secret.
const hkdfInfo = "custodial-guardian-signer/v1"

// Signer is the custodial guardian's deterministic secp256k1 signer,
// derived from the service master secret. The same master secret always
// yields the same guardian address, which is what account owners enroll
// in their on-chain guardian list.
type Signer struct {
	key *ecdsa.PrivateKey
}

// NewSignerFromMaster derives the custodial signer. The master secret
// must be at least 32 bytes long.
func NewSignerFromMaster(master []byte) (*Signer, error) {
	if len(master) < 32 {
		return nil, errors.New("master secret must be at least 32 bytes")
	}

	reader := hkdf.New(sha256.New, master, nil, []byte(hkdfInfo))

	// Rejection-sample until the candidate is a valid secp256k1 scalar.
	for attempt := 0; attempt < 128; attempt++ {
		candidate := make([]byte, 32)
		if _, err := io.ReadFull(reader, candidate); err != nil {
			return nil, fmt.Errorf("could not derive signer key: %w", err)
		}

		key, err := crypto.ToECDSA(candidate)
		if err != nil {
			continue
		}
		return &Signer{key: key}, nil
	}
	return nil, errors.New("could not derive a valid signer key")
}

// Address returns the guardian address of this signer.
func (s *Signer) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// Sign produces a 65-byte [R || S || V] signature over the digest, with
// V in {27, 28} as the recovery module expects.
func (s *Signer) Sign(digest []byte) ([]byte, error) {
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("could not sign digest: %w", err)
	}
	sig[64] += 27
	return sig, nil
}
