// The recovery-cli tool drives a recovery authority from the command
// line: guardian-quorum lifecycle operations, custodial-guardian
// registration and signing, and helpers that produce the exact payloads
// owners and guardians must sign.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/urfave/cli/v2"

	"github.com/candinet/account-recovery-backend/api"
	"github.com/candinet/account-recovery-backend/api/custodialclient"
	"github.com/candinet/account-recovery-backend/api/guardianclient"
	"github.com/candinet/account-recovery-backend/cmd/flags"
	"github.com/candinet/account-recovery-backend/interfaces"
	"github.com/candinet/account-recovery-backend/statement"
)

var (
	flagNewOwners = &cli.StringFlag{
		Name:  "new-owners",
		Usage: "comma-separated replacement owner addresses",
	}
	flagNewThreshold = &cli.Uint64Flag{
		Name:  "new-threshold",
		Value: 1,
		Usage: "owner threshold for the replacement owner set",
	}
	flagGuardian = &cli.StringFlag{
		Name:  "guardian",
		Usage: "guardian address the signature belongs to",
	}
	flagSignature = &cli.StringFlag{
		Name:  "signature",
		Usage: "hex-encoded signature",
	}
	flagKey = &cli.StringFlag{
		Name:    "key",
		Usage:   "hex-encoded private key used to sign locally instead of --signature",
		EnvVars: []string{"RECOVERY_CLI_KEY"},
	}
	flagRequestID = &cli.StringFlag{
		Name:     "id",
		Required: true,
		Usage:    "recovery request or signature request ID",
	}
	flagNonce = &cli.Uint64Flag{
		Name:  "nonce",
		Usage: "recovery nonce the signature is scoped to",
	}
	flagModule = &cli.StringFlag{
		Name:  "module",
		Usage: "recovery module address (defaults to the authority's network config)",
	}
)

func main() {
	app := &cli.App{
		Name:  "recovery-cli",
		Usage: "Operate a smart account recovery authority",
		Flags: []cli.Flag{
			flags.AuthorityURLFlag,
			flags.ChainIDFlag,
		},
		Commands: []*cli.Command{
			{
				Name:   "network-config",
				Usage:  "Print the authority's configuration for the chain",
				Action: cmdNetworkConfig,
			},
			{
				Name:   "typed-data",
				Usage:  "Print the EIP-712 payload guardians sign for a recovery",
				Flags:  []cli.Flag{flags.AccountFlag, flagNewOwners, flagNewThreshold, flagNonce, flagModule},
				Action: cmdTypedData,
			},
			{
				Name:   "create",
				Usage:  "Open a recovery request with the first guardian signature",
				Flags:  []cli.Flag{flags.AccountFlag, flagNewOwners, flagNewThreshold, flagGuardian, flagSignature, flagKey, flagNonce},
				Action: cmdCreate,
			},
			{
				Name:   "sign",
				Usage:  "Append a guardian signature to a pending request",
				Flags:  []cli.Flag{flagRequestID, flagGuardian, flagSignature},
				Action: cmdSign,
			},
			{
				Name:   "execute",
				Usage:  "Execute a request that reached the guardian threshold",
				Flags:  []cli.Flag{flagRequestID},
				Action: cmdExecute,
			},
			{
				Name:   "finalize",
				Usage:  "Finalize an executed request after the grace period",
				Flags:  []cli.Flag{flagRequestID},
				Action: cmdFinalize,
			},
			{
				Name:   "requests",
				Usage:  "List requests for an account at a nonce and status",
				Flags: []cli.Flag{flags.AccountFlag, flagNonce, &cli.StringFlag{
					Name:  "status",
					Value: string(interfaces.StatusPending),
					Usage: "PENDING, EXECUTED or FINALIZED",
				}},
				Action: cmdRequests,
			},
			{
				Name:  "custodial",
				Usage: "Custodial guardian registration and signing",
				Subcommands: []*cli.Command{
					{
						Name:  "register",
						Usage: "Bind an out-of-band channel to the account",
						Flags: []cli.Flag{flags.AccountFlag, flagKey, flagSignature,
							&cli.StringFlag{Name: "channel", Required: true, Usage: "email or sms"},
							&cli.StringFlag{Name: "target", Required: true, Usage: "channel target, e.g. an email address"},
						},
						Action: cmdCustodialRegister,
					},
					{
						Name:  "confirm",
						Usage: "Answer a registration challenge with the delivered code",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "challenge-id", Required: true},
							&cli.StringFlag{Name: "code", Required: true},
						},
						Action: cmdCustodialConfirm,
					},
					{
						Name:   "registrations",
						Usage:  "List the account's active registrations",
						Flags:  []cli.Flag{flags.AccountFlag, flagKey, flagSignature},
						Action: cmdCustodialList,
					},
					{
						Name:  "delete",
						Usage: "Remove one registration",
						Flags: []cli.Flag{flags.AccountFlag, flagKey, flagSignature,
							&cli.StringFlag{Name: "registration-id", Required: true},
						},
						Action: cmdCustodialDelete,
					},
					{
						Name:   "request-signature",
						Usage:  "Open a custodial signing attempt over a new owner set",
						Flags:  []cli.Flag{flags.AccountFlag, flagNewOwners, flagNewThreshold},
						Action: cmdCustodialRequestSignature,
					},
					{
						Name:  "submit-challenge",
						Usage: "Answer one channel's challenge of a signing attempt",
						Flags: []cli.Flag{flagRequestID,
							&cli.StringFlag{Name: "challenge-id", Required: true},
							&cli.StringFlag{Name: "code", Required: true},
						},
						Action: cmdCustodialSubmitChallenge,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func guardianClient(cCtx *cli.Context) *guardianclient.Client {
	return guardianclient.New(cCtx.String(flags.AuthorityURLFlag.Name), nil, 30*time.Second)
}

func custodialClient(cCtx *cli.Context) *custodialclient.Client {
	return custodialclient.New(cCtx.String(flags.AuthorityURLFlag.Name), 30*time.Second)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func parseAccount(cCtx *cli.Context) (common.Address, error) {
	raw := cCtx.String(flags.AccountFlag.Name)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid account address: %s", raw)
	}
	return common.HexToAddress(raw), nil
}

func parseOwners(cCtx *cli.Context) ([]common.Address, error) {
	raw := cCtx.String(flagNewOwners.Name)
	if raw == "" {
		return nil, fmt.Errorf("--new-owners is required")
	}
	parts := strings.Split(raw, ",")
	out := make([]common.Address, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if !common.IsHexAddress(part) {
			return nil, fmt.Errorf("invalid owner address: %s", part)
		}
		out = append(out, common.HexToAddress(part))
	}
	return out, nil
}

func parseSignature(cCtx *cli.Context) ([]byte, error) {
	raw := cCtx.String(flagSignature.Name)
	if raw == "" {
		return nil, fmt.Errorf("--signature or --key is required")
	}
	return hexutil.Decode(ensureHexPrefix(raw))
}

func ensureHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") {
		return s
	}
	return "0x" + s
}

// moduleAddress resolves the recovery module address, preferring the
// explicit flag over the authority's network config.
func moduleAddress(cCtx *cli.Context) (common.Address, error) {
	if raw := cCtx.String(flagModule.Name); raw != "" {
		if !common.IsHexAddress(raw) {
			return common.Address{}, fmt.Errorf("invalid module address: %s", raw)
		}
		return common.HexToAddress(raw), nil
	}

	cfg, err := guardianClient(cCtx).NetworkConfig(context.Background(), cCtx.Uint64(flags.ChainIDFlag.Name))
	if err != nil {
		return common.Address{}, err
	}
	return cfg.RecoveryModuleAddress, nil
}

// guardianSignature returns the recovery signature and the guardian
// address it belongs to, either from explicit flags or by signing the
// typed-data payload locally with --key.
func guardianSignature(cCtx *cli.Context, account common.Address, newOwners []common.Address, newThreshold uint64) (common.Address, []byte, error) {
	chainID := cCtx.Uint64(flags.ChainIDFlag.Name)

	if keyHex := cCtx.String(flagKey.Name); keyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			return common.Address{}, nil, fmt.Errorf("invalid key: %w", err)
		}

		module, err := moduleAddress(cCtx)
		if err != nil {
			return common.Address{}, nil, err
		}

		digest, err := api.RecoveryRequestSigningHash(module, chainID, account, newOwners, newThreshold, cCtx.Uint64(flagNonce.Name))
		if err != nil {
			return common.Address{}, nil, err
		}

		sig, err := crypto.Sign(digest, key)
		if err != nil {
			return common.Address{}, nil, err
		}
		sig[64] += 27
		return crypto.PubkeyToAddress(key.PublicKey), sig, nil
	}

	raw := cCtx.String(flagGuardian.Name)
	if !common.IsHexAddress(raw) {
		return common.Address{}, nil, fmt.Errorf("invalid guardian address: %s", raw)
	}
	sig, err := parseSignature(cCtx)
	if err != nil {
		return common.Address{}, nil, err
	}
	return common.HexToAddress(raw), sig, nil
}

// ownerSignature signs an owner statement locally with --key, or takes
// the concatenated owner signature blob from --signature.
func ownerSignature(cCtx *cli.Context, statementText string) ([]byte, error) {
	if keyHex := cCtx.String(flagKey.Name); keyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid key: %w", err)
		}
		sig, err := crypto.Sign(accounts.TextHash([]byte(statementText)), key)
		if err != nil {
			return nil, err
		}
		sig[64] += 27
		return sig, nil
	}
	return parseSignature(cCtx)
}

func cmdNetworkConfig(cCtx *cli.Context) error {
	cfg, err := guardianClient(cCtx).NetworkConfig(context.Background(), cCtx.Uint64(flags.ChainIDFlag.Name))
	if err != nil {
		return err
	}
	return printJSON(cfg)
}

func cmdTypedData(cCtx *cli.Context) error {
	account, err := parseAccount(cCtx)
	if err != nil {
		return err
	}
	newOwners, err := parseOwners(cCtx)
	if err != nil {
		return err
	}
	module, err := moduleAddress(cCtx)
	if err != nil {
		return err
	}

	typedData := guardianclient.TypedData(module, cCtx.Uint64(flags.ChainIDFlag.Name), account, newOwners, cCtx.Uint64(flagNewThreshold.Name), cCtx.Uint64(flagNonce.Name))
	return printJSON(typedData)
}

func cmdCreate(cCtx *cli.Context) error {
	account, err := parseAccount(cCtx)
	if err != nil {
		return err
	}
	newOwners, err := parseOwners(cCtx)
	if err != nil {
		return err
	}
	newThreshold := cCtx.Uint64(flagNewThreshold.Name)

	guardian, sig, err := guardianSignature(cCtx, account, newOwners, newThreshold)
	if err != nil {
		return err
	}

	req, err := guardianClient(cCtx).CreateRecoveryRequest(context.Background(), account, cCtx.Uint64(flags.ChainIDFlag.Name), newOwners, newThreshold, guardian, sig)
	if err != nil {
		return err
	}
	return printJSON(req)
}

func cmdSign(cCtx *cli.Context) error {
	raw := cCtx.String(flagGuardian.Name)
	if !common.IsHexAddress(raw) {
		return fmt.Errorf("invalid guardian address: %s", raw)
	}
	sig, err := parseSignature(cCtx)
	if err != nil {
		return err
	}

	req, err := guardianClient(cCtx).SignRecoveryRequest(context.Background(), cCtx.String(flagRequestID.Name), common.HexToAddress(raw), sig)
	if err != nil {
		return err
	}
	return printJSON(req)
}

func cmdExecute(cCtx *cli.Context) error {
	req, err := guardianClient(cCtx).ExecuteRecoveryRequest(context.Background(), cCtx.String(flagRequestID.Name))
	if err != nil {
		return err
	}
	return printJSON(req)
}

func cmdFinalize(cCtx *cli.Context) error {
	req, err := guardianClient(cCtx).FinalizeRecoveryRequest(context.Background(), cCtx.String(flagRequestID.Name))
	if err != nil {
		return err
	}
	return printJSON(req)
}

func cmdRequests(cCtx *cli.Context) error {
	account, err := parseAccount(cCtx)
	if err != nil {
		return err
	}
	status, err := interfaces.ParseRecoveryStatus(cCtx.String("status"))
	if err != nil {
		return err
	}

	reqs, err := guardianClient(cCtx).RecoveryRequests(context.Background(), account, cCtx.Uint64(flags.ChainIDFlag.Name), cCtx.Uint64(flagNonce.Name), status)
	if err != nil {
		return err
	}
	return printJSON(reqs)
}

func cmdCustodialRegister(cCtx *cli.Context) error {
	account, err := parseAccount(cCtx)
	if err != nil {
		return err
	}
	channel, err := interfaces.ParseChannel(cCtx.String("channel"))
	if err != nil {
		return err
	}
	target := cCtx.String("target")
	chainID := cCtx.Uint64(flags.ChainIDFlag.Name)

	msg, err := statement.Build(account.Hex(), statement.RegisterChannelStatement(channel, target, account), chainID, "recovery-authority", cCtx.String(flags.AuthorityURLFlag.Name))
	if err != nil {
		return err
	}
	statementText := msg.String()

	sig, err := ownerSignature(cCtx, statementText)
	if err != nil {
		return err
	}

	result, err := custodialClient(cCtx).Register(context.Background(), account, chainID, channel, target, statementText, sig)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdCustodialConfirm(cCtx *cli.Context) error {
	result, err := custodialClient(cCtx).SubmitRegistrationChallenge(context.Background(), cCtx.String("challenge-id"), cCtx.String("code"))
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdCustodialList(cCtx *cli.Context) error {
	account, err := parseAccount(cCtx)
	if err != nil {
		return err
	}
	chainID := cCtx.Uint64(flags.ChainIDFlag.Name)

	msg, err := statement.Build(account.Hex(), statement.ListRegistrationsStatement(account), chainID, "recovery-authority", cCtx.String(flags.AuthorityURLFlag.Name))
	if err != nil {
		return err
	}
	statementText := msg.String()

	sig, err := ownerSignature(cCtx, statementText)
	if err != nil {
		return err
	}

	regs, err := custodialClient(cCtx).ListRegistrations(context.Background(), account, chainID, statementText, sig)
	if err != nil {
		return err
	}
	return printJSON(regs)
}

func cmdCustodialDelete(cCtx *cli.Context) error {
	account, err := parseAccount(cCtx)
	if err != nil {
		return err
	}
	registrationID := cCtx.String("registration-id")
	chainID := cCtx.Uint64(flags.ChainIDFlag.Name)

	msg, err := statement.Build(account.Hex(), statement.DeleteRegistrationStatement(registrationID, account), chainID, "recovery-authority", cCtx.String(flags.AuthorityURLFlag.Name))
	if err != nil {
		return err
	}
	statementText := msg.String()

	sig, err := ownerSignature(cCtx, statementText)
	if err != nil {
		return err
	}

	if err := custodialClient(cCtx).DeleteRegistration(context.Background(), registrationID, statementText, sig); err != nil {
		return err
	}
	fmt.Println("deleted", registrationID)
	return nil
}

func cmdCustodialRequestSignature(cCtx *cli.Context) error {
	account, err := parseAccount(cCtx)
	if err != nil {
		return err
	}
	newOwners, err := parseOwners(cCtx)
	if err != nil {
		return err
	}

	result, err := custodialClient(cCtx).RequestSignature(context.Background(), account, cCtx.Uint64(flags.ChainIDFlag.Name), newOwners, cCtx.Uint64(flagNewThreshold.Name))
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdCustodialSubmitChallenge(cCtx *cli.Context) error {
	result, err := custodialClient(cCtx).SubmitSignatureChallenge(context.Background(), cCtx.String(flagRequestID.Name), cCtx.String("challenge-id"), cCtx.String("code"))
	if err != nil {
		return err
	}
	return printJSON(result)
}
