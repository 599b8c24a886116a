package networks

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultChains(t *testing.T) {
	r := NewResolver()

	mainnet, err := r.ForChain(1)
	require.NoError(t, err)
	assert.Equal(t, GracePeriodLong, mainnet.GracePeriod)
	assert.True(t, mainnet.SponsorshipEnabled)

	sepolia, err := r.ForChain(11155111)
	require.NoError(t, err)
	assert.Equal(t, GracePeriodTest, sepolia.GracePeriod)

	assert.Len(t, r.Chains(), 5)
}

func TestForChainUnknown(t *testing.T) {
	_, err := NewResolver().ForChain(31337)
	require.ErrorIs(t, err, ErrUnsupportedChain)
}

func TestSetOverrides(t *testing.T) {
	r := NewResolver()
	r.Set(Config{
		ChainID:               1,
		RecoveryModuleAddress: common.HexToAddress("0x00000000000000000000000000000000DeaDBeef"),
		GracePeriod:           time.Hour,
	})

	cfg, err := r.ForChain(1)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.GracePeriod)
	assert.False(t, cfg.SponsorshipEnabled)
}

func TestLoadFile(t *testing.T) {
	content := `
[[network]]
chain-id = 31337
recovery-module = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
grace-period = "3m"
sponsorship = true
discoverable = false

[[network]]
chain-id = 1
recovery-module = "0x00000000000000000000000000000000DeaDBeef"
grace-period = "336h"
sponsorship = false
discoverable = true
`
	path := filepath.Join(t.TempDir(), "networks.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r := NewResolver()
	require.NoError(t, r.LoadFile(path))

	local, err := r.ForChain(31337)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute, local.GracePeriod)
	assert.Equal(t, common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"), local.RecoveryModuleAddress)
	assert.True(t, local.SponsorshipEnabled)
	assert.False(t, local.DiscoverableDefault)

	// Entries for known chains replace the defaults.
	mainnet, err := r.ForChain(1)
	require.NoError(t, err)
	assert.Equal(t, GracePeriodLong, mainnet.GracePeriod)
	assert.False(t, mainnet.SponsorshipEnabled)
}

func TestLoadFileRejectsBadEntries(t *testing.T) {
	cases := map[string]string{
		"missing chain-id": `
[[network]]
recovery-module = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
grace-period = "3m"
`,
		"bad module address": `
[[network]]
chain-id = 31337
recovery-module = "not-an-address"
grace-period = "3m"
`,
		"bad grace period": `
[[network]]
chain-id = 31337
recovery-module = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
grace-period = "soon"
`,
		"zero grace period": `
[[network]]
chain-id = 31337
recovery-module = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
grace-period = "0s"
`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			r := NewResolver()
			assert.Error(t, r.load([]byte(content)))
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	err := NewResolver().LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}
