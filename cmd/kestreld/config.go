package main

import (
	"encoding/hex"
	"fmt"

	"github.com/kestrel-chain/kestrel/xb/xbridge"
	"github.com/spf13/viper"
)

// nodeConfig is the on-disk configuration for a kestreld process,
// loaded through viper so operators can use yaml, toml, or json.
type nodeConfig struct {
	ChainID string

	// Height of the first block to propose.
	InitialHeight uint64

	// Epoch of the genesis validator set.
	Epoch uint64

	Validators []validatorConfig

	// Opaque initial application state.
	InitialAppState string

	// Multiaddrs for the libp2p host to listen on.
	ListenAddrs []string

	// Multiaddrs of peers to dial at startup.
	RemoteAddrs []string

	// Address for the status and metrics HTTP server.
	// Empty disables the server.
	HTTPAddr string

	// Path to the sqlite database file.
	DBPath string

	Bridge bridgeConfig
}

type validatorConfig struct {
	// Hex-encoded ed25519 public key.
	PubKey string

	Power uint64
}

type bridgeConfig struct {
	// Cap on relay entries carried per proposed block.
	MaxRelayPerBlock int

	// Minimum attestation signatures per foreign header.
	AttestationThreshold int

	ForeignChains []foreignChainConfig
}

type foreignChainConfig struct {
	ChainID string

	// Trusted anchor height and hex-encoded header hash.
	Height uint64
	Hash   string
}

func (c foreignChainConfig) Anchor() (xbridge.GenesisAnchor, error) {
	hash, err := hex.DecodeString(c.Hash)
	if err != nil {
		return xbridge.GenesisAnchor{}, fmt.Errorf("failed to parse anchor hash for chain %q: %w", c.ChainID, err)
	}

	return xbridge.GenesisAnchor{
		ChainID: c.ChainID,
		Height:  c.Height,
		Hash:    hash,
	}, nil
}

func loadConfig(path string) (nodeConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nodeConfig{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg nodeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nodeConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.ChainID == "" {
		return nodeConfig{}, fmt.Errorf("config at %q must set chainid", path)
	}
	if len(cfg.Validators) == 0 {
		return nodeConfig{}, fmt.Errorf("config at %q must list at least one validator", path)
	}

	return cfg, nil
}

func writeDefaultConfig(path string) error {
	v := viper.New()

	v.Set("chainid", "kestrel-local")
	v.Set("initialheight", uint64(1))
	v.Set("epoch", uint64(1))
	v.Set("validators", []map[string]any{
		{"pubkey": "", "power": uint64(1)},
	})
	v.Set("initialappstate", "")
	v.Set("listenaddrs", []string{"/ip4/0.0.0.0/tcp/8888"})
	v.Set("remoteaddrs", []string{})
	v.Set("httpaddr", "127.0.0.1:26670")
	v.Set("dbpath", "kestrel.db")
	v.Set("bridge.maxrelayperblock", 16)
	v.Set("bridge.attestationthreshold", 1)
	v.Set("bridge.foreignchains", []map[string]any{})

	return v.SafeWriteConfigAs(path)
}
