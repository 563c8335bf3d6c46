package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"Mopro-Bridge/sdk/go/mopro"
)

// Version 是 moproctl 的版本号。
const Version = "0.1.0"

var (
	serverURL string
	format    string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "moproctl",
	Short:         "Command line client for the Mopro bridge daemon",
	Long:          `moproctl talks to a running moprod over its HTTP API and invokes the bridge operations.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 执行根命令，出错时以非零状态退出。
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", envOr("MOPRO_URL", "http://127.0.0.1:8080"), "moprod HTTP address")
	rootCmd.PersistentFlags().StringVar(&format, "format", "json", "output format (json, yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", mopro.DefaultHTTPTimeout, "request timeout")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// withClient 构造客户端和带超时的上下文后执行 fn。
func withClient(cmd *cobra.Command, fn func(ctx context.Context, client *mopro.Client) (any, error)) error {
	client, err := mopro.NewClient(serverURL, nil)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	out, err := fn(ctx, client)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), format, out)
}

func render(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}
