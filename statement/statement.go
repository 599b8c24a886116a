// Package statement builds and parses the SIWE-style authorization
// statements the recovery protocol asks account owners to sign. A built
// message binds {address, chain, purpose, nonce, issued-at} into one
// canonical signable text.
package statement

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
)

// MessageVersion is the only supported statement format version.
const MessageVersion = "1"

// nonceLength is the length of the embedded anti-replay nonce. 16
// alphanumeric characters carry ~95 bits of entropy.
const nonceLength = 16

const nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var (
	// ErrInvalidAddress is returned when the subject address is not a
	// well-formed Ethereum address.
	ErrInvalidAddress = errors.New("invalid subject address")

	// ErrMalformed is returned when a raw statement does not follow the
	// canonical layout.
	ErrMalformed = errors.New("malformed statement")

	// ErrExpired is returned by Verify when the statement's issued-at
	// timestamp is older than the allowed age.
	ErrExpired = errors.New("statement expired")
)

// Message is a canonical, human-readable authorization statement.
type Message struct {
	Domain    string
	Address   common.Address
	Statement string
	URI       string
	Version   string
	ChainID   uint64
	Nonce     string
	IssuedAt  time.Time
}

// Build renders an authorization statement for the subject address. The
// embedded nonce is freshly generated and the issued-at timestamp is the
// current UTC time, so two calls never produce the same message.
func Build(subjectAddress, statementText string, chainID uint64, domain, uri string) (*Message, error) {
	if !common.IsHexAddress(subjectAddress) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, subjectAddress)
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, fmt.Errorf("could not generate statement nonce: %w", err)
	}

	return &Message{
		Domain:    domain,
		Address:   common.HexToAddress(subjectAddress),
		Statement: statementText,
		URI:       uri,
		Version:   MessageVersion,
		ChainID:   chainID,
		Nonce:     nonce,
		IssuedAt:  time.Now().UTC().Truncate(time.Second),
	}, nil
}

// String renders the canonical signable text.
func (m *Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s wants you to sign in with your Ethereum account:\n", m.Domain)
	fmt.Fprintf(&b, "%s\n\n", m.Address.Hex())
	if m.Statement != "" {
		fmt.Fprintf(&b, "%s\n\n", m.Statement)
	}
	fmt.Fprintf(&b, "URI: %s\n", m.URI)
	fmt.Fprintf(&b, "Version: %s\n", m.Version)
	fmt.Fprintf(&b, "Chain ID: %d\n", m.ChainID)
	fmt.Fprintf(&b, "Nonce: %s\n", m.Nonce)
	fmt.Fprintf(&b, "Issued At: %s", m.IssuedAt.Format(time.RFC3339))
	return b.String()
}

// SigningHash returns the EIP-191 personal-message hash of the rendered
// statement, the digest owner signatures are verified against.
func (m *Message) SigningHash() []byte {
	return accounts.TextHash([]byte(m.String()))
}

// Verify checks the statement's binding: subject address, version, and
// freshness. maxAge of zero disables the freshness check.
func (m *Message) Verify(subject common.Address, maxAge time.Duration, now time.Time) error {
	if m.Address != subject {
		return fmt.Errorf("%w: statement subject %s does not match %s", ErrMalformed, m.Address.Hex(), subject.Hex())
	}
	if m.Version != MessageVersion {
		return fmt.Errorf("%w: unsupported version %q", ErrMalformed, m.Version)
	}
	if maxAge > 0 {
		if m.IssuedAt.After(now.Add(time.Minute)) {
			return fmt.Errorf("%w: issued in the future", ErrMalformed)
		}
		if now.Sub(m.IssuedAt) > maxAge {
			return fmt.Errorf("%w: issued at %s", ErrExpired, m.IssuedAt.Format(time.RFC3339))
		}
	}
	return nil
}

// Parse reads a rendered statement back into a Message. It accepts
// exactly the layout String produces.
func Parse(raw string) (*Message, error) {
	lines := strings.Split(raw, "\n")
	if len(lines) < 7 {
		return nil, fmt.Errorf("%w: too short", ErrMalformed)
	}

	const headerSuffix = " wants you to sign in with your Ethereum account:"
	if !strings.HasSuffix(lines[0], headerSuffix) {
		return nil, fmt.Errorf("%w: bad header line", ErrMalformed)
	}
	msg := &Message{Domain: strings.TrimSuffix(lines[0], headerSuffix)}

	if !common.IsHexAddress(lines[1]) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, lines[1])
	}
	msg.Address = common.HexToAddress(lines[1])

	if lines[2] != "" {
		return nil, fmt.Errorf("%w: missing separator after address", ErrMalformed)
	}

	// Optional statement body runs until the next blank line.
	i := 3
	var stmtLines []string
	for ; i < len(lines) && lines[i] != ""; i++ {
		if strings.HasPrefix(lines[i], "URI: ") {
			break
		}
		stmtLines = append(stmtLines, lines[i])
	}
	msg.Statement = strings.Join(stmtLines, "\n")
	for i < len(lines) && lines[i] == "" {
		i++
	}

	fields := map[string]*string{}
	var chainIDStr, issuedAtStr string
	fields["URI: "] = &msg.URI
	fields["Version: "] = &msg.Version
	fields["Chain ID: "] = &chainIDStr
	fields["Nonce: "] = &msg.Nonce
	fields["Issued At: "] = &issuedAtStr

	for ; i < len(lines); i++ {
		matched := false
		for prefix, dst := range fields {
			if strings.HasPrefix(lines[i], prefix) {
				*dst = strings.TrimPrefix(lines[i], prefix)
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("%w: unexpected line %q", ErrMalformed, lines[i])
		}
	}

	if msg.URI == "" || msg.Version == "" || chainIDStr == "" || msg.Nonce == "" || issuedAtStr == "" {
		return nil, fmt.Errorf("%w: missing required field", ErrMalformed)
	}

	chainID, err := strconv.ParseUint(chainIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad chain id %q", ErrMalformed, chainIDStr)
	}
	msg.ChainID = chainID

	issuedAt, err := time.Parse(time.RFC3339, issuedAtStr)
	if err != nil {
		return nil, fmt.Errorf("%w: bad issued-at %q", ErrMalformed, issuedAtStr)
	}
	msg.IssuedAt = issuedAt

	return msg, nil
}

// newNonce draws an alphanumeric nonce from crypto/rand.
func newNonce() (string, error) {
	raw := make([]byte, nonceLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	for i, b := range raw {
		raw[i] = nonceAlphabet[int(b)%len(nonceAlphabet)]
	}
	return string(raw), nil
}
