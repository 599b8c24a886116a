package statement

import (
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "0x9965507D1a55bcC2695C58ba16FB37d819B0A4dc"

func TestBuildAndParseRoundTrip(t *testing.T) {
	msg, err := Build(testAddress, "Authorize the thing.", 1, "recovery.example.org", "https://recovery.example.org")
	require.NoError(t, err)

	parsed, err := Parse(msg.String())
	require.NoError(t, err)

	assert.Equal(t, msg.Domain, parsed.Domain)
	assert.Equal(t, msg.Address, parsed.Address)
	assert.Equal(t, msg.Statement, parsed.Statement)
	assert.Equal(t, msg.URI, parsed.URI)
	assert.Equal(t, msg.Version, parsed.Version)
	assert.Equal(t, msg.ChainID, parsed.ChainID)
	assert.Equal(t, msg.Nonce, parsed.Nonce)
	assert.True(t, msg.IssuedAt.Equal(parsed.IssuedAt))
}

func TestBuildRejectsInvalidAddress(t *testing.T) {
	_, err := Build("not-an-address", "x", 1, "d", "u")
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestBuildGeneratesFreshNonces(t *testing.T) {
	a, err := Build(testAddress, "x", 1, "d", "u")
	require.NoError(t, err)
	b, err := Build(testAddress, "x", 1, "d", "u")
	require.NoError(t, err)

	assert.Len(t, a.Nonce, nonceLength)
	assert.NotEqual(t, a.Nonce, b.Nonce)
}

func TestVerifySubjectMismatch(t *testing.T) {
	msg, err := Build(testAddress, "x", 1, "d", "u")
	require.NoError(t, err)

	err = msg.Verify(common.HexToAddress("0x0000000000000000000000000000000000000001"), time.Minute, time.Now().UTC())
	require.ErrorIs(t, err, ErrMalformed)
}

func TestVerifyExpiry(t *testing.T) {
	msg, err := Build(testAddress, "x", 1, "d", "u")
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, msg.Verify(common.HexToAddress(testAddress), 10*time.Minute, now))

	err = msg.Verify(common.HexToAddress(testAddress), 10*time.Minute, now.Add(time.Hour))
	require.ErrorIs(t, err, ErrExpired)

	// Zero maxAge disables the freshness check entirely.
	require.NoError(t, msg.Verify(common.HexToAddress(testAddress), 0, now.Add(24*time.Hour)))
}

func TestVerifyRejectsFutureStatements(t *testing.T) {
	msg, err := Build(testAddress, "x", 1, "d", "u")
	require.NoError(t, err)
	msg.IssuedAt = time.Now().UTC().Add(time.Hour)

	err = msg.Verify(common.HexToAddress(testAddress), 10*time.Minute, time.Now().UTC())
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParseRejectsMangledStatements(t *testing.T) {
	msg, err := Build(testAddress, "Authorize the thing.", 1, "d", "u")
	require.NoError(t, err)
	raw := msg.String()

	cases := map[string]string{
		"empty":          "",
		"no header":      strings.Replace(raw, "wants you to sign in", "greets", 1),
		"bad address":    strings.Replace(raw, testAddress, "0xzz", 1),
		"bad chain id":   strings.Replace(raw, "Chain ID: 1", "Chain ID: one", 1),
		"bad issued at":  strings.Replace(raw, "Issued At: ", "Issued At: yesterday, around ", 1),
		"stray line":     raw + "\nPS: trust me",
		"missing fields": "d wants you to sign in with your Ethereum account:\n" + testAddress + "\n\nhi\n",
	}

	for name, mangled := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(mangled)
			assert.Error(t, err)
		})
	}
}

func TestParseMultiLineStatementBody(t *testing.T) {
	msg, err := Build(testAddress, "First line.\nSecond line.", 1, "d", "u")
	require.NoError(t, err)

	parsed, err := Parse(msg.String())
	require.NoError(t, err)
	assert.Equal(t, "First line.\nSecond line.", parsed.Statement)
}

func TestSigningHashIsStable(t *testing.T) {
	msg, err := Build(testAddress, "x", 1, "d", "u")
	require.NoError(t, err)

	assert.Equal(t, msg.SigningHash(), msg.SigningHash())
	assert.Len(t, msg.SigningHash(), 32)
}

func TestTemplatesMentionTheirSubjects(t *testing.T) {
	account := common.HexToAddress(testAddress)

	reg := RegisterChannelStatement("email", "user@example.org", account)
	assert.Contains(t, reg, "user@example.org")
	assert.Contains(t, reg, account.Hex())

	del := DeleteRegistrationStatement("some-id", account)
	assert.Contains(t, del, "some-id")

	list := ListRegistrationsStatement(account)
	assert.Contains(t, list, account.Hex())
}
