package multichain

import (
	"errors"
	"fmt"
	"time"

	"github.com/0xmhha/chainsync/internal/constants"
	"github.com/0xmhha/chainsync/pkg/chainsync/chain"
)

// ChainConfig defines the configuration for a single chain's
// synchronization core within a multi-chain deployment. Sources is
// supplied in-process by the caller rather than loaded from a path:
// there is no on-disk filter-source format yet (see DESIGN.md), unlike
// the single-chain internal/config.ChainSyncConfig.Sources path string.
type ChainConfig struct {
	// ID is a unique identifier for this chain instance (e.g., "stableone-mainnet").
	ID string
	// Name is a human-readable name for the chain (e.g., "StableOne Mainnet").
	Name string
	// RPCEndpoint is the HTTP(S) JSON-RPC endpoint URL.
	RPCEndpoint string
	// ChainID is the numeric chain ID (e.g., 1 for Ethereum mainnet).
	ChainID uint64
	// Sources is the set of filters/factories the pipeline matches
	// incoming blocks against. Nil means every block is ingested for
	// finalize/reorg bookkeeping but no records are ever built.
	Sources *chain.Sources
	// StartHeight is the block height to seed the pipeline's finalized
	// cursor from when no prior state exists (0 for genesis).
	StartHeight uint64
	// Enabled indicates whether this chain should be active.
	Enabled bool
	// FinalityBlockCount overrides the default confirmations-behind-head
	// count before a block is promoted to finalized.
	FinalityBlockCount uint64
	// PollingInterval is the standalone poller's tick interval.
	PollingInterval time.Duration
	// RPCTimeout is the timeout for RPC calls (default: 10s).
	RPCTimeout time.Duration
	// RateLimitRPS and BurstSize tune the rpcqueue token bucket gating
	// outbound calls to RPCEndpoint.
	RateLimitRPS float64
	BurstSize    int
}

// ManagerConfig defines the configuration for the Manager.
type ManagerConfig struct {
	// Enabled indicates whether multi-chain mode is active.
	Enabled bool
	// Chains is the list of chain configurations.
	Chains []ChainConfig
	// HealthCheckInterval is how often to check chain health (default: 30s).
	HealthCheckInterval time.Duration
	// MaxUnhealthyDuration is how long a chain can be unhealthy before stopping (default: 5m).
	MaxUnhealthyDuration time.Duration
	// AutoRestart indicates whether to automatically restart failed chains.
	AutoRestart bool
	// AutoRestartDelay is the delay before auto-restarting a failed chain (default: 30s).
	AutoRestartDelay time.Duration
}

// DefaultManagerConfig returns the default manager configuration.
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		Enabled:              false,
		Chains:               []ChainConfig{},
		HealthCheckInterval:  30 * time.Second,
		MaxUnhealthyDuration: 5 * time.Minute,
		AutoRestart:          true,
		AutoRestartDelay:     30 * time.Second,
	}
}

// DefaultChainConfig returns a chain config with sensible defaults.
func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{
		StartHeight:        0,
		Enabled:            true,
		FinalityBlockCount: constants.DefaultFinalityBlockCount,
		PollingInterval:    constants.DefaultPollingInterval,
		RPCTimeout:         10 * time.Second,
		RateLimitRPS:       20,
		BurstSize:          10,
	}
}

// Validate validates the manager configuration.
func (c *ManagerConfig) Validate() error {
	if !c.Enabled {
		return nil // Skip validation if disabled
	}

	if len(c.Chains) == 0 {
		return errors.New("multichain enabled but no chains configured")
	}

	seenIDs := make(map[string]bool)
	for i, cc := range c.Chains {
		if err := cc.Validate(); err != nil {
			return fmt.Errorf("chain[%d] (%s): %w", i, cc.ID, err)
		}
		if seenIDs[cc.ID] {
			return fmt.Errorf("duplicate chain ID: %s", cc.ID)
		}
		seenIDs[cc.ID] = true
	}

	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	if c.MaxUnhealthyDuration <= 0 {
		c.MaxUnhealthyDuration = 5 * time.Minute
	}
	if c.AutoRestartDelay <= 0 {
		c.AutoRestartDelay = 30 * time.Second
	}

	return nil
}

// Validate validates a single chain configuration.
func (c *ChainConfig) Validate() error {
	if c.ID == "" {
		return errors.New("id is required")
	}
	if c.Name == "" {
		return errors.New("name is required")
	}
	if c.RPCEndpoint == "" {
		return errors.New("rpc_endpoint is required")
	}
	if c.ChainID == 0 {
		return errors.New("chain_id is required")
	}

	if c.FinalityBlockCount == 0 {
		c.FinalityBlockCount = constants.DefaultFinalityBlockCount
	}
	if c.PollingInterval <= 0 {
		c.PollingInterval = constants.DefaultPollingInterval
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = 10 * time.Second
	}
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = 20
	}
	if c.BurstSize <= 0 {
		c.BurstSize = 10
	}

	return nil
}

// GetEnabledChains returns only the enabled chain configurations.
func (c *ManagerConfig) GetEnabledChains() []ChainConfig {
	var enabled []ChainConfig
	for _, cc := range c.Chains {
		if cc.Enabled {
			enabled = append(enabled, cc)
		}
	}
	return enabled
}

// GetChainByID returns the chain configuration by its ID.
func (c *ManagerConfig) GetChainByID(id string) *ChainConfig {
	for i := range c.Chains {
		if c.Chains[i].ID == id {
			return &c.Chains[i]
		}
	}
	return nil
}

// network derives this chain's chain.Network descriptor for the pipeline
// and poller.
func (c *ChainConfig) network() chain.Network {
	return chain.Network{
		Name:               c.Name,
		ChainID:            c.ChainID,
		FinalityBlockCount: c.FinalityBlockCount,
		PollingInterval:    uint64(c.PollingInterval / time.Millisecond),
	}
}

// sources returns c.Sources, defaulting to an empty (non-matching) source
// set so the pipeline and fetcher never see a nil pointer.
func (c *ChainConfig) sources() *chain.Sources {
	if c.Sources != nil {
		return c.Sources
	}
	return &chain.Sources{}
}
