// Package networks resolves chain-specific recovery module addresses,
// grace periods, and feature flags. Built-in defaults can be overridden
// or extended from a TOML file.
package networks

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Grace period presets. The grace period is the mandatory delay between
// execution and finalization of a recovery, giving the original owner a
// window to object.
const (
	GracePeriodTest   = 3 * time.Minute
	GracePeriodShort  = 3 * 24 * time.Hour
	GracePeriodMedium = 7 * 24 * time.Hour
	GracePeriodLong   = 14 * 24 * time.Hour
)

// ErrUnsupportedChain is returned for chains without configuration.
var ErrUnsupportedChain = errors.New("unsupported chain")

// Config is the recovery deployment configuration for one chain.
type Config struct {
	ChainID               uint64
	RecoveryModuleAddress common.Address
	GracePeriod           time.Duration
	SponsorshipEnabled    bool
	DiscoverableDefault   bool
}

// Resolver answers per-chain configuration lookups. The zero value has
// no chains; construct with NewResolver for the built-in defaults.
type Resolver struct {
	byChain map[uint64]Config
}

// NewResolver creates a resolver preloaded with the default deployments.
func NewResolver() *Resolver {
	r := &Resolver{byChain: make(map[uint64]Config)}
	for _, cfg := range defaultConfigs {
		r.byChain[cfg.ChainID] = cfg
	}
	return r
}

var defaultConfigs = []Config{
	{ChainID: 1, RecoveryModuleAddress: common.HexToAddress("0x088f6cfD8BB1dDb1BB069CCb3fc1A98927D233f2"), GracePeriod: GracePeriodLong, SponsorshipEnabled: true, DiscoverableDefault: true},
	{ChainID: 10, RecoveryModuleAddress: common.HexToAddress("0x088f6cfD8BB1dDb1BB069CCb3fc1A98927D233f2"), GracePeriod: GracePeriodMedium, SponsorshipEnabled: true, DiscoverableDefault: true},
	{ChainID: 8453, RecoveryModuleAddress: common.HexToAddress("0x088f6cfD8BB1dDb1BB069CCb3fc1A98927D233f2"), GracePeriod: GracePeriodShort, SponsorshipEnabled: true, DiscoverableDefault: true},
	{ChainID: 42161, RecoveryModuleAddress: common.HexToAddress("0x088f6cfD8BB1dDb1BB069CCb3fc1A98927D233f2"), GracePeriod: GracePeriodMedium, SponsorshipEnabled: true, DiscoverableDefault: true},
	{ChainID: 11155111, RecoveryModuleAddress: common.HexToAddress("0x38275826CEFAaA1C77bcEc3A8e2bA0b8e58a56Ba"), GracePeriod: GracePeriodTest, SponsorshipEnabled: true, DiscoverableDefault: true},
}

// ForChain returns the configuration for chainID.
func (r *Resolver) ForChain(chainID uint64) (Config, error) {
	cfg, ok := r.byChain[chainID]
	if !ok {
		return Config{}, fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID)
	}
	return cfg, nil
}

// Chains lists the configured chain ids.
func (r *Resolver) Chains() []uint64 {
	chains := make([]uint64, 0, len(r.byChain))
	for id := range r.byChain {
		chains = append(chains, id)
	}
	return chains
}

// Set adds or replaces the configuration for one chain.
func (r *Resolver) Set(cfg Config) {
	r.byChain[cfg.ChainID] = cfg
}

type tomlDuration struct {
	time.Duration
}

func (d *tomlDuration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

type networkFile struct {
	Network []networkEntry `toml:"network"`
}

type networkEntry struct {
	ChainID        uint64       `toml:"chain-id"`
	RecoveryModule string       `toml:"recovery-module"`
	GracePeriod    tomlDuration `toml:"grace-period"`
	Sponsorship    bool         `toml:"sponsorship"`
	Discoverable   bool         `toml:"discoverable"`
}

// LoadFile merges network entries from a TOML file into the resolver.
// Entries for already-known chains replace the defaults.
func (r *Resolver) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read networks file: %w", err)
	}
	return r.load(raw)
}

func (r *Resolver) load(raw []byte) error {
	var file networkFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("could not parse networks file: %w", err)
	}

	for i, entry := range file.Network {
		if entry.ChainID == 0 {
			return fmt.Errorf("network entry %d: chain-id is required", i)
		}
		if !common.IsHexAddress(entry.RecoveryModule) {
			return fmt.Errorf("network entry %d: invalid recovery-module address %q", i, entry.RecoveryModule)
		}
		if entry.GracePeriod.Duration <= 0 {
			return fmt.Errorf("network entry %d: grace-period must be positive", i)
		}

		r.Set(Config{
			ChainID:               entry.ChainID,
			RecoveryModuleAddress: common.HexToAddress(entry.RecoveryModule),
			GracePeriod:           entry.GracePeriod.Duration,
			SponsorshipEnabled:    entry.Sponsorship,
			DiscoverableDefault:   entry.Discoverable,
		})
	}
	return nil
}
