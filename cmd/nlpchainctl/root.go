package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"NLP-Chain/internal/identity"
	"NLP-Chain/sdk/go/nlpchain"
)

const defaultServer = "http://localhost:8080"

// globalFlags 是所有子命令共享的连接参数。
type globalFlags struct {
	server   string
	keyHex   string
	identity string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "nlpchainctl",
		Short:         "Command line client for the NLP-Chain ledger service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.server, "server", envOr("NLPCHAIN_SERVER", defaultServer), "base URL of nlpchaind")
	root.PersistentFlags().StringVar(&flags.keyHex, "key", os.Getenv("NLPCHAIN_PRIVATE_KEY"), "hex private key used to sign requests")
	root.PersistentFlags().StringVar(&flags.identity, "identity", os.Getenv("NLPCHAIN_IDENTITY"), "unsigned caller address (auth mode disabled only)")

	root.AddCommand(
		newProofCmd(flags),
		newLedgerCmd(flags),
		newUserCmd(flags),
		newSearchCmd(flags),
	)
	return root
}

// client 按 --key 或 --identity 构造 SDK 客户端，两者都为空时发送匿名请求。
func (f *globalFlags) client() (*nlpchain.Client, error) {
	var opts []nlpchain.Option
	switch {
	case f.keyHex != "":
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(f.keyHex), "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid --key: %w", err)
		}
		opts = append(opts, nlpchain.WithSigner(key))
	case f.identity != "":
		addr, err := identity.Parse(f.identity)
		if err != nil {
			return nil, fmt.Errorf("invalid --identity: %w", err)
		}
		opts = append(opts, nlpchain.WithIdentity(addr))
	}
	return nlpchain.NewClient(f.server, opts...)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
