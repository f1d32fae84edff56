package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/kestrel-chain/kestrel/cmd/internal/kcmd"
	"github.com/kestrel-chain/kestrel/kcrypto"
	"github.com/kestrel-chain/kestrel/kmetrics"
	"github.com/kestrel-chain/kestrel/ks/kscodec/ksjson"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksdriver"
	"github.com/kestrel-chain/kestrel/ks/ksengine"
	"github.com/kestrel-chain/kestrel/ks/ksgossip"
	"github.com/kestrel-chain/kestrel/ks/ksp2p/kslibp2p"
	"github.com/kestrel-chain/kestrel/kssqlite"
	"github.com/kestrel-chain/kestrel/kwatchdog"
	"github.com/kestrel-chain/kestrel/xb/xbridge"
	"github.com/libp2p/go-libp2p"
	libp2pevent "github.com/libp2p/go-libp2p/core/event"
	libp2phost "github.com/libp2p/go-libp2p/core/host"
	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func main() {
	if err := mainE(); err != nil {
		os.Exit(1)
	}
}

func mainE() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	root := NewRootCmd(logger)
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Info("Failure", "err", err)
		os.Stderr.Sync()
		return err
	}

	return nil
}

func NewRootCmd(log *slog.Logger) *cobra.Command {
	rootCmd := &cobra.Command{
		Use: "kestreld SUBCOMMAND",

		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},

		Long: `kestreld runs a validator for a permissioned kestrel network.

Initial setup involves:

1. Pick your insecure passphrase. These are insecure because
   the key is derived directly from the passphrase,
   so choose a simple one that won't bother you if/when it gets leaked.
2. Discover your resulting validator public key with:
     $ kestreld validator-pubkey 'my-passphrase'
     b1a138599af82401286ddfbe06ac4c8d20c34d20ad27a6df2bc7f498c48c60d0
3. Write a starting config file with:
     $ kestreld init path/to/kestrel.yaml
   then fill in the validator public keys, remote addresses
   (using IDs from the libp2p-id subcommand), and foreign chain anchors.
4. Run the validator:
     $ kestreld start 'my-passphrase' path/to/kestrel.yaml
`,
	}

	rootCmd.AddCommand(
		NewValidatorPublicKeyCmd(log),
		NewLibp2pIDCmd(log),

		NewInitCmd(log),
		NewStartCmd(log),
	)

	return rootCmd
}

func NewValidatorPublicKeyCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use: "validator-pubkey INSECURE_PASSPHRASE",

		Aliases: []string{"validator-pub-key"},

		Short: "Print the validator public key derived from the given insecure passphrase",

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := kcmd.SignerFromInsecurePassphrase("kestreld|", args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%x\n", signer.PubKey().PubKeyBytes())

			return nil
		},
	}
}

func NewLibp2pIDCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use: "libp2p-id INSECURE_PASSPHRASE",

		Short: "Print the libp2p ID derived from the given insecure passphrase",

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			privKey, err := kcmd.Libp2pKeyFromInsecurePassphrase("kestreld|", args[0])
			if err != nil {
				return fmt.Errorf("failed to generate libp2p network key: %w", err)
			}

			id, err := libp2ppeer.IDFromPrivateKey(privKey)
			if err != nil {
				return fmt.Errorf("failed to generate ID from libp2p private key: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), id)

			return nil
		},
	}
}

func NewInitCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use: "init PATH_TO_CONFIG_FILE",

		Short: "Write a starting config file for the operator to fill in",

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			if err := writeDefaultConfig(args[0]); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			log.Info("Wrote starting config", "path", args[0])
			return nil
		},
	}
}

func NewStartCmd(log *slog.Logger) *cobra.Command {
	listenAddrs := []string{"/ip4/0.0.0.0/tcp/8888"}

	cmd := &cobra.Command{
		Use: "start INSECURE_PASSPHRASE PATH_TO_CONFIG_FILE",

		Short: "Run a validator against the configured network",

		Args: cobra.ExactArgs(2),

		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := kcmd.SignerFromInsecurePassphrase("kestreld|", args[0])
			if err != nil {
				return err
			}

			return runValidator(log, cmd, signer, listenAddrs, args[1])
		},
	}

	cmd.PersistentFlags().StringArrayVarP(&listenAddrs, "listen-multiaddr", "l", listenAddrs, "multiaddr to listen on")

	return cmd
}

func runValidator(
	log *slog.Logger,
	cmd *cobra.Command,
	signer kcrypto.Ed25519Signer,
	listenAddrs []string,
	configPath string,
) error {
	// We need a cancelable context if we fail partway through setup.
	// Be sure to defer cancel() after other deferred
	// close and cleanup calls, for types dependent on
	// a parent context cancellation.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Just reassign ctx here because we will not have any further references to the root context,
	// other than explicit cancel calls to ensure clean shutdown.
	wd, ctx := kwatchdog.NewWatchdog(ctx, log.With("sys", "watchdog"))

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if len(cfg.RemoteAddrs) == 0 {
		log.Warn("Config had no remote addresses set; relying on incoming connections to discover peers")
	}

	h, err := kslibp2p.NewHost(
		ctx,
		kslibp2p.HostOptions{
			Options: []libp2p.Option{
				libp2p.ListenAddrStrings(listenAddrs...),

				// Production deployments would prefer a relayer circuit,
				// but direct reachability is fine for a permissioned set.
				libp2p.ForceReachabilityPublic(),
			},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create libp2p host: %w", err)
	}

	defer func() {
		if err := h.Close(); err != nil {
			log.Warn("Error closing libp2p host", "err", err)
		}
	}()
	defer cancel()

	host := h.Libp2pHost()

	sub, err := host.EventBus().Subscribe(new(libp2pevent.EvtPeerConnectednessChanged))
	if err != nil {
		return err
	}
	defer sub.Close()

	loggingDone := make(chan struct{})
	go logPeerChanges(ctx, log, host, sub, loggingDone)
	defer func() {
		cancel()
		<-loggingDone
	}()

	log.Info("Listening", "id", host.ID(), "addrs", host.Addrs())

	for _, ra := range cfg.RemoteAddrs {
		ai, err := libp2ppeer.AddrInfoFromString(ra)
		if err != nil {
			return fmt.Errorf("failed to parse %q: %w", ra, err)
		}

		log.Info("Attempting connection", "remote_addr", ra)
		if err := host.Connect(ctx, *ai); err != nil {
			return fmt.Errorf("failed to connect to %v: %w", ai, err)
		}
	}

	reg := new(kcrypto.Registry)
	kcrypto.RegisterEd25519(reg)
	codec := ksjson.MarshalCodec{
		CryptoRegistry: reg,
	}
	conn, err := kslibp2p.NewConnection(
		ctx,
		log.With("sys", "libp2pconn"),
		h,
		codec,
	)
	if err != nil {
		return fmt.Errorf("failed to build libp2p connection: %w", err)
	}
	defer conn.Disconnect()
	defer cancel()

	hashScheme := ksconsensus.Blake2bHashScheme{}

	store, err := kssqlite.NewStore(ctx, cfg.DBPath, hashScheme, reg, codec)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("Error closing store", "err", err)
		}
	}()

	vals := make([]ksconsensus.Validator, len(cfg.Validators))
	for i, vc := range cfg.Validators {
		pubKeyBytes, err := hex.DecodeString(vc.PubKey)
		if err != nil {
			return fmt.Errorf("failed to parse validator pubkey at index %d: %w", i, err)
		}

		pubKey, err := kcrypto.NewEd25519PubKey(pubKeyBytes)
		if err != nil {
			return fmt.Errorf("failed to build ed25519 public key from bytes: %w", err)
		}

		vals[i] = ksconsensus.Validator{
			PubKey: pubKey,
			Power:  vc.Power,
		}
	}

	valSet, err := ksconsensus.NewValidatorSet(cfg.Epoch, vals, hashScheme)
	if err != nil {
		return fmt.Errorf("failed to build genesis validator set: %w", err)
	}

	relayQueue := xbridge.NewRelayQueue()

	chains := make([]*xbridge.HeaderChain, len(cfg.Bridge.ForeignChains))
	for i, fc := range cfg.Bridge.ForeignChains {
		anchor, err := fc.Anchor()
		if err != nil {
			return err
		}

		chains[i], err = xbridge.NewHeaderChain(xbridge.HeaderChainConfig{
			Log:    log.With("sys", "headerchain", "foreign_chain", fc.ChainID),
			Anchor: anchor,

			AttestationThreshold: cfg.Bridge.AttestationThreshold,
		})
		if err != nil {
			return fmt.Errorf("failed to build header chain for %q: %w", fc.ChainID, err)
		}
	}

	verifier, err := xbridge.NewProofVerifier(xbridge.ProofVerifierConfig{
		Log: log.With("sys", "proofverifier"),

		Chains: chains,
		Queue:  relayQueue,

		// Persisted so a restart cannot re-relay an already accepted payload.
		Sequences: store,
	})
	if err != nil {
		return fmt.Errorf("failed to build proof verifier: %w", err)
	}

	blockFinCh := make(chan ksdriver.FinalizeBlockRequest)
	initChainCh := make(chan ksdriver.InitChainRequest)

	app := kcmd.NewApp(ctx, log.With("sys", "app"), initChainCh, blockFinCh)
	defer app.Wait()
	defer cancel()

	cStrat := kcmd.NewValidatorStrategy(log.With("sys", "cstrat"), signer.PubKey())

	gs := ksgossip.NewChattyStrategy(ctx, log.With("sys", "chattygossip"), conn.ConsensusBroadcaster())

	metricsCh := make(chan ksengine.Metrics)

	e, err := ksengine.New(
		ctx,
		log.With("sys", "engine"),
		ksengine.WithFinalizationStore(store),
		ksengine.WithCommittedBlockStore(store),
		ksengine.WithEvidenceStore(store),

		ksengine.WithHashScheme(hashScheme),
		ksengine.WithSignatureScheme(ksconsensus.ChainSignatureScheme{ChainID: cfg.ChainID}),
		ksengine.WithSignatureProofScheme(kcrypto.BasicSignatureProofScheme),

		ksengine.WithConsensusStrategy(cStrat),
		ksengine.WithGossipStrategy(gs),

		ksengine.WithRelayQueue(relayQueue, cfg.Bridge.MaxRelayPerBlock),

		ksengine.WithGenesis(&ksconsensus.ExternalGenesis{
			ChainID:             cfg.ChainID,
			InitialHeight:       cfg.InitialHeight,
			InitialAppState:     strings.NewReader(cfg.InitialAppState),
			GenesisValidatorSet: valSet,
		}),

		ksengine.WithTimeoutStrategy(ctx, ksengine.LinearTimeoutStrategy{}),

		ksengine.WithBlockFinalizationChannel(blockFinCh),
		ksengine.WithInitChainChannel(initChainCh),

		ksengine.WithSigner(ksconsensus.PassthroughSigner{
			Signer:          signer,
			SignatureScheme: ksconsensus.ChainSignatureScheme{ChainID: cfg.ChainID},
		}),

		ksengine.WithWatchdog(wd),

		ksengine.WithMetricsChannel(metricsCh),
	)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	defer e.Wait()

	promReg := prometheus.NewRegistry()
	collector, err := kmetrics.NewCollector(ctx, promReg, metricsCh, relayQueue)
	if err != nil {
		return fmt.Errorf("failed to build metrics collector: %w", err)
	}
	defer collector.Wait()
	defer cancel()

	if cfg.HTTPAddr != "" {
		srv := newHTTPServer(
			ctx,
			log.With("sys", "http"),
			cfg.HTTPAddr,
			store,
			chains,
			verifier,
			relayQueue,
			codec,
			conn.BridgeBroadcaster(),
			promReg,
		)
		defer srv.Wait()
		defer cancel()

		log.Info("Serving HTTP", "addr", cfg.HTTPAddr)
	}

	conn.SetConsensusHandler(ctx, ksconsensus.DropDuplicateFeedbackMapper{
		Handler: e,
	})
	conn.SetBridgeHandler(ctx, xbridge.NewNetworkHandler(
		log.With("sys", "bridgegossip"),
		chains,
		verifier,
	))

	log.Info("Running validator...")
	<-ctx.Done()
	log.Info("Shutting down...")

	return nil
}

func logPeerChanges(
	ctx context.Context,
	log *slog.Logger,
	_ libp2phost.Host,
	sub libp2pevent.Subscription,
	done chan<- struct{},
) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return

		case e := <-sub.Out():
			switch e := e.(type) {
			case libp2pevent.EvtPeerConnectednessChanged:
				log.Info(
					"Peer connectedness changed",
					"id", e.Peer,
					"connectedness", e.Connectedness,
				)
			default:
				log.Warn("Unknown event type", "type", fmt.Sprintf("%T", e))
			}
		}
	}
}
