package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"Mopro-Bridge/sdk/go/mopro"
)

var versionCmd = &cobra.Command{
	Use:   "platform-version",
	Short: "Show the host platform version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *mopro.Client) (any, error) {
			return c.GetPlatformVersion(ctx)
		})
	},
}

var docsDirCmd = &cobra.Command{
	Use:   "docs-dir",
	Short: "Show the application documents directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *mopro.Client) (any, error) {
			return c.GetApplicationDocumentsDirectory(ctx)
		})
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an ephemeral key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *mopro.Client) (any, error) {
			return c.GenerateEphemeralKey(ctx)
		})
	},
}

var proveReq mopro.ProveJwtRequest

var proveCmd = &cobra.Command{
	Use:   "prove",
	Short: "Generate a JWT proof",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *mopro.Client) (any, error) {
			res, err := c.ProveJwt(ctx, proveReq)
			if err != nil {
				return nil, err
			}
			out := map[string]any{"proof": nil, "error": res.Error}
			if res.Proof != nil {
				out["proof"] = hexutil.Encode(res.Proof)
			}
			return out, nil
		})
	},
}

var (
	verifyReq   mopro.VerifyJwtProofRequest
	verifyProof string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a JWT proof",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		proof, err := hexutil.Decode(verifyProof)
		if err != nil {
			return fmt.Errorf("invalid --proof: %w", err)
		}
		req := verifyReq
		req.Proof = proof
		return withClient(cmd, func(ctx context.Context, c *mopro.Client) (any, error) {
			return c.VerifyJwtProof(ctx, req)
		})
	},
}

var signReq mopro.SignMessageRequest

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a message with an ephemeral key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *mopro.Client) (any, error) {
			return c.SignMessage(ctx, signReq)
		})
	},
}

var callCmd = &cobra.Command{
	Use:   "call <method> [json-arguments]",
	Short: "Invoke any method with raw JSON arguments",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload any
		if len(args) == 2 {
			if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
				return fmt.Errorf("invalid arguments: %w", err)
			}
		}
		return withClient(cmd, func(ctx context.Context, c *mopro.Client) (any, error) {
			return c.Call(ctx, args[0], payload)
		})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd, docsDirCmd, keygenCmd, proveCmd, verifyCmd, signCmd, callCmd)

	f := proveCmd.Flags()
	f.StringVar(&proveReq.SrsPath, "srs", "", "path to the structured reference string")
	f.StringVar(&proveReq.EphemeralPublicKey, "ephemeral-public-key", "", "ephemeral public key")
	f.StringVar(&proveReq.EphemeralSalt, "ephemeral-salt", "", "ephemeral salt")
	f.StringVar(&proveReq.EphemeralExpiry, "ephemeral-expiry", "", "ephemeral key expiry")
	f.StringVar(&proveReq.TokenID, "token-id", "", "token id")
	f.StringVar(&proveReq.JWT, "jwt", "", "JWT to prove")
	f.StringVar(&proveReq.Domain, "domain", "", "domain")

	f = verifyCmd.Flags()
	f.StringVar(&verifyReq.SrsPath, "srs", "", "path to the structured reference string")
	f.StringVar(&verifyProof, "proof", "", "proof as 0x-prefixed hex")
	f.StringVar(&verifyReq.Domain, "domain", "", "domain")
	f.StringVar(&verifyReq.GoogleJwtPubkeyModulus, "modulus", "", "Google JWT public key modulus")
	f.StringVar(&verifyReq.EphemeralPubkey, "ephemeral-public-key", "", "ephemeral public key")
	f.StringVar(&verifyReq.EphemeralPubkeyExpiry, "ephemeral-expiry", "", "ephemeral key expiry")
	_ = verifyCmd.MarkFlagRequired("proof")

	f = signCmd.Flags()
	f.StringVar(&signReq.AnonGroupID, "group", "", "anonymous group id")
	f.StringVar(&signReq.Text, "text", "", "message text")
	f.BoolVar(&signReq.Internal, "internal", false, "internal message")
	f.StringVar(&signReq.EphemeralPublicKey, "ephemeral-public-key", "", "ephemeral public key")
	f.StringVar(&signReq.EphemeralPrivateKey, "ephemeral-private-key", "", "ephemeral private key")
	f.StringVar(&signReq.EphemeralPubkeyExpiry, "ephemeral-expiry", "", "ephemeral key expiry")
}
