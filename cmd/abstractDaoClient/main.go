package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/abstract-dao-go/pkg/canonical"
	"github.com/Layr-Labs/abstract-dao-go/pkg/client"
	"github.com/Layr-Labs/abstract-dao-go/pkg/config"
	"github.com/Layr-Labs/abstract-dao-go/pkg/eip1559"
	"github.com/Layr-Labs/abstract-dao-go/pkg/logger"
	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

func main() {
	app := &cli.App{
		Name:  "abstract-dao-client",
		Usage: "Client for the abstract DAO signature request server",
		Description: `Registers transaction templates and requests signatures for them.

This client can:
- Register a signature request from an InputRequest JSON document
- Request a signature with live chain fees and optionally assemble the signed transaction
- Inspect stored requests and the configured signer`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Abstract DAO server URL",
				Value:   "http://localhost:8000",
				EnvVars: []string{config.EnvServerURL},
			},
			&cli.StringFlag{
				Name:    "account-id",
				Usage:   "Caller account id, sent when the server uses header authentication",
				EnvVars: []string{config.EnvClientAccountId},
			},
			&cli.StringFlag{
				Name:    "bearer-token",
				Usage:   "Caller JWT, sent when the server uses jwt authentication",
				EnvVars: []string{config.EnvClientBearerAuth},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "register",
				Usage: "Register a signature request",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "input",
						Usage:    "Path to an InputRequest JSON file, or - for stdin",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "deposit",
						Usage: "Storage deposit to attach, in yocto",
						Value: "1000000000000000000000000",
					},
				},
				Action: registerCommand,
			},
			{
				Name:  "sign",
				Usage: "Request a signature for a registered request",
				Flags: []cli.Flag{
					&cli.Uint64Flag{
						Name:     "request-id",
						Usage:    "Id of the registered request",
						Required: true,
					},
					&cli.Uint64Flag{
						Name:     "chain-id",
						Usage:    "Target chain id",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "max-fee-per-gas",
						Usage:    "Max fee per gas in wei",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "max-priority-fee-per-gas",
						Usage:    "Max priority fee per gas in wei",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "gas",
						Usage: "Gas limit; the server default applies when empty",
					},
					&cli.StringFlag{
						Name:  "deposit",
						Usage: "Deposit to attach, in yocto",
						Value: "1",
					},
					&cli.Uint64Flag{
						Name:  "prepaid-gas",
						Usage: "Prepaid gas in Tgas",
						Value: 300,
					},
					&cli.BoolFlag{
						Name:  "assemble",
						Usage: "Also print the raw signed transaction",
					},
				},
				Action: signCommand,
			},
			{
				Name:  "get",
				Usage: "Show a registered request",
				Flags: []cli.Flag{
					&cli.Uint64Flag{
						Name:     "request-id",
						Usage:    "Id of the registered request",
						Required: true,
					},
				},
				Action: getCommand,
			},
			{
				Name:   "signer",
				Usage:  "Show the signer requests are dispatched to",
				Action: signerCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func newClient(c *cli.Context) (*client.Client, *zap.Logger, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	daoClient, err := client.NewClient(&client.ClientConfig{
		ServerURL:   c.String("server-url"),
		AccountId:   types.AccountId(c.String("account-id")),
		BearerToken: c.String("bearer-token"),
		Logger:      l,
	})
	if err != nil {
		return nil, nil, err
	}
	return daoClient, l, nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func parseAmount(name, raw string) (*big.Int, error) {
	q, err := types.ParseQuantity(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return q.Big(), nil
}

func readInput(path string) (*types.InputRequest, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	var input types.InputRequest
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}
	return &input, nil
}

func registerCommand(c *cli.Context) error {
	daoClient, l, err := newClient(c)
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	input, err := readInput(c.String("input"))
	if err != nil {
		return err
	}
	deposit, err := parseAmount("deposit", c.String("deposit"))
	if err != nil {
		return err
	}

	resp, err := daoClient.RegisterSignatureRequest(c.Context, input, deposit)
	if err != nil {
		return fmt.Errorf("failed to register request: %w", err)
	}
	return printJSON(resp)
}

type signOutput struct {
	*types.GetSignatureResponse
	SignedTx     hexutil.Bytes `json:"signed_tx,omitempty"`
	SignedTxHash string        `json:"signed_tx_hash,omitempty"`
}

func signCommand(c *cli.Context) error {
	daoClient, l, err := newClient(c)
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	maxFee, err := types.ParseQuantity(c.String("max-fee-per-gas"))
	if err != nil {
		return fmt.Errorf("invalid max-fee-per-gas: %w", err)
	}
	priorityFee, err := types.ParseQuantity(c.String("max-priority-fee-per-gas"))
	if err != nil {
		return fmt.Errorf("invalid max-priority-fee-per-gas: %w", err)
	}
	fee := &types.FeePayload{
		ChainId:              c.Uint64("chain-id"),
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: priorityFee,
	}
	if raw := c.String("gas"); raw != "" {
		if fee.Gas, err = types.ParseQuantity(raw); err != nil {
			return fmt.Errorf("invalid gas: %w", err)
		}
	}
	deposit, err := parseAmount("deposit", c.String("deposit"))
	if err != nil {
		return err
	}

	id := types.RequestId(c.Uint64("request-id"))
	resp, err := daoClient.GetSignature(c.Context, id, fee, &client.SignatureCall{
		Deposit:    deposit,
		PrepaidGas: types.FromTgas(c.Uint64("prepaid-gas")),
	})
	if err != nil {
		return fmt.Errorf("failed to get signature: %w", err)
	}

	out := &signOutput{GetSignatureResponse: resp}
	if c.Bool("assemble") {
		req, err := daoClient.GetRequest(c.Context, id)
		if err != nil {
			return fmt.Errorf("failed to load request: %w", err)
		}
		tx, err := canonical.Merge(&req.Payload, fee)
		if err != nil {
			return fmt.Errorf("failed to rebuild transaction: %w", err)
		}
		raw, txHash, err := eip1559.AssembleSigned(tx, resp.Signature)
		if err != nil {
			return fmt.Errorf("failed to assemble signed transaction: %w", err)
		}
		out.SignedTx = raw
		out.SignedTxHash = txHash.Hex()

		sender, err := eip1559.RecoverSender(tx, resp.Signature)
		if err == nil {
			l.Sugar().Infow("Assembled signed transaction", "sender", sender.Hex(), "tx_hash", txHash.Hex())
		}
	}
	return printJSON(out)
}

func getCommand(c *cli.Context) error {
	daoClient, l, err := newClient(c)
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	req, err := daoClient.GetRequest(c.Context, types.RequestId(c.Uint64("request-id")))
	if err != nil {
		return fmt.Errorf("failed to get request: %w", err)
	}
	return printJSON(req)
}

func signerCommand(c *cli.Context) error {
	daoClient, l, err := newClient(c)
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	signerId, err := daoClient.GetSignerId(c.Context)
	if err != nil {
		return fmt.Errorf("failed to get signer: %w", err)
	}
	return printJSON(&types.SignerResponse{SignerId: signerId})
}
