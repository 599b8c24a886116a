// The recovery-authority daemon serves the guardian-quorum and
// custodial-guardian RPC API. It runs against a real chain through an
// Ethereum RPC endpoint, or against an in-memory simulated ledger for
// development.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/urfave/cli/v2"

	"github.com/candinet/account-recovery-backend/api/authorityhandler"
	"github.com/candinet/account-recovery-backend/authority"
	"github.com/candinet/account-recovery-backend/cmd/flags"
	"github.com/candinet/account-recovery-backend/httpserver"
	"github.com/candinet/account-recovery-backend/ledger"
	"github.com/candinet/account-recovery-backend/networks"
)

var cliFlags = append([]cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for the RPC API",
	},
	&cli.StringFlag{
		Name:     "master-secret",
		Required: true,
		Usage:    "hex-encoded master secret, at least 32 bytes; the custodial signer key is derived from it",
		EnvVars:  []string{"RECOVERY_MASTER_SECRET"},
	},
	&cli.StringFlag{
		Name:  "networks-file",
		Value: "",
		Usage: "TOML file overriding the built-in per-chain configuration",
	},
	&cli.StringFlag{
		Name:  "ledger",
		Value: "sim",
		Usage: "ledger backend: 'sim' for the in-memory simulated ledger, 'rpc' for a real chain",
	},
	flags.RpcAddrFlag,
	flags.ChainIDFlag,
	&cli.StringFlag{
		Name:    "sponsor-key",
		Value:   "",
		Usage:   "hex-encoded private key funding recovery transactions (required with --ledger=rpc)",
		EnvVars: []string{"RECOVERY_SPONSOR_KEY"},
	},
	&cli.StringFlag{
		Name:  "sim-account",
		Value: "",
		Usage: "with --ledger=sim, pre-provision this smart account address",
	},
	&cli.StringFlag{
		Name:  "sim-owners",
		Value: "",
		Usage: "comma-separated owner addresses for --sim-account",
	},
	&cli.StringFlag{
		Name:  "sim-guardians",
		Value: "",
		Usage: "comma-separated guardian addresses for --sim-account",
	},
	&cli.Uint64Flag{
		Name:  "sim-owner-threshold",
		Value: 1,
		Usage: "owner threshold for --sim-account",
	},
	&cli.Uint64Flag{
		Name:  "sim-guardian-threshold",
		Value: 1,
		Usage: "guardian threshold for --sim-account",
	},
	flags.LogServiceFlagFn("recovery-authority"),
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:   "recovery-authority",
		Usage:  "Serve the smart account recovery authorization API",
		Flags:  cliFlags,
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	resolver := networks.NewResolver()
	if file := cCtx.String("networks-file"); file != "" {
		logger.Info("Loading network configuration", "file", file)
		if err := resolver.LoadFile(file); err != nil {
			logger.Error("Failed to load networks file", "err", err)
			return err
		}
	}

	master, err := hex.DecodeString(strings.TrimPrefix(cCtx.String("master-secret"), "0x"))
	if err != nil {
		logger.Error("Invalid master-secret hex", "err", err)
		return fmt.Errorf("invalid master-secret: %w", err)
	}

	signer, err := authority.NewSignerFromMaster(master)
	if err != nil {
		logger.Error("Failed to derive custodial signer", "err", err)
		return err
	}
	logger.Info("Custodial guardian signer ready", "address", signer.Address().Hex())

	svc, err := authority.New(authority.Config{
		Networks: resolver,
		Signer:   signer,
		Log:      logger,
	})
	if err != nil {
		logger.Error("Failed to create authority service", "err", err)
		return err
	}

	switch cCtx.String("ledger") {
	case "sim":
		sim := ledger.NewSimLedger()
		if err := provisionSimAccount(cCtx, sim); err != nil {
			logger.Error("Failed to provision simulated account", "err", err)
			return err
		}
		for _, chainID := range resolver.Chains() {
			svc.RegisterChain(chainID, sim, sim)
		}
		logger.Info("Using simulated ledger", "chains", len(resolver.Chains()))

	case "rpc":
		rpcAddress := cCtx.String(flags.RpcAddrFlag.Name)
		chainID := cCtx.Uint64(flags.ChainIDFlag.Name)

		netCfg, err := resolver.ForChain(chainID)
		if err != nil {
			logger.Error("Chain is not configured", "chainId", chainID, "err", err)
			return err
		}

		sponsorHex := cCtx.String("sponsor-key")
		if sponsorHex == "" {
			logger.Error("sponsor-key is required with --ledger=rpc")
			return errors.New("sponsor-key is required with --ledger=rpc")
		}
		sponsorKey, err := crypto.HexToECDSA(strings.TrimPrefix(sponsorHex, "0x"))
		if err != nil {
			logger.Error("Invalid sponsor-key", "err", err)
			return fmt.Errorf("invalid sponsor-key: %w", err)
		}

		logger.Info("Connecting to Ethereum RPC", "address", rpcAddress)
		ethClient, err := ethclient.Dial(rpcAddress)
		if err != nil {
			logger.Error("Failed to dial RPC", "err", err)
			return err
		}

		reader, err := ledger.NewChainReader(ethClient, netCfg.RecoveryModuleAddress)
		if err != nil {
			logger.Error("Failed to create chain reader", "err", err)
			return err
		}
		submitter, err := ledger.NewTransactor(ethClient, netCfg.RecoveryModuleAddress, sponsorKey, chainID)
		if err != nil {
			logger.Error("Failed to create transactor", "err", err)
			return err
		}

		svc.RegisterChain(chainID, reader, submitter)
		logger.Info("Using RPC ledger", "chainId", chainID, "module", netCfg.RecoveryModuleAddress.Hex())

	default:
		return fmt.Errorf("invalid ledger backend: %s", cCtx.String("ledger"))
	}

	handler := authorityhandler.NewHandler(svc, logger)
	cfg := flags.ConfigureServer(cCtx, logger, cCtx.String("listen-addr"))

	server, err := httpserver.New(cfg, handler)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	server.Shutdown()
	logger.Info("Server shutdown complete")

	return nil
}

func provisionSimAccount(cCtx *cli.Context, sim *ledger.SimLedger) error {
	accountHex := cCtx.String("sim-account")
	if accountHex == "" {
		return nil
	}
	if !common.IsHexAddress(accountHex) {
		return fmt.Errorf("invalid sim-account address: %s", accountHex)
	}

	owners, err := parseAddressList(cCtx.String("sim-owners"))
	if err != nil {
		return fmt.Errorf("invalid sim-owners: %w", err)
	}
	guardians, err := parseAddressList(cCtx.String("sim-guardians"))
	if err != nil {
		return fmt.Errorf("invalid sim-guardians: %w", err)
	}

	sim.AddAccount(common.HexToAddress(accountHex), ledger.SimAccount{
		Owners:            owners,
		OwnerThreshold:    cCtx.Uint64("sim-owner-threshold"),
		Guardians:         guardians,
		GuardianThreshold: cCtx.Uint64("sim-guardian-threshold"),
	})
	return nil
}

func parseAddressList(s string) ([]common.Address, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]common.Address, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if !common.IsHexAddress(part) {
			return nil, fmt.Errorf("invalid address: %s", part)
		}
		out = append(out, common.HexToAddress(part))
	}
	return out, nil
}
