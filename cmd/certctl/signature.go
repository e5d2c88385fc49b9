package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"example.com/certgate/internal/batch"
	"example.com/certgate/internal/crypto"
)

var (
	sigBundle   string
	sigManifest string
	sigJWS      string
	sigCert     string
)

var verifySignatureCmd = &cobra.Command{
	Use:   "verify-signature",
	Short: "Check a bundle's manifest signature and document digests",
	Example: `  certctl verify-signature --bundle certificates.zip --cert signer.pem
  certctl verify-signature --manifest manifest.json --jws manifest.jws --cert signer.pem`,
	GroupID: "certs",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var certPEM []byte
		if sigCert != "" {
			b, err := os.ReadFile(sigCert)
			if err != nil {
				return usageError(fmt.Errorf("read cert: %w", err))
			}
			certPEM = b
		}
		out := cmd.OutOrStdout()
		if sigBundle != "" {
			check, err := batch.VerifyBundle(sigBundle, certPEM)
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			state := "unsigned"
			if check.Signed {
				state = "signature OK"
			}
			fmt.Fprintf(out, "Bundle OK: %d documents, %s\n", len(check.Manifest.Items), state)
			return nil
		}

		if sigManifest == "" || sigJWS == "" || certPEM == nil {
			return usageError(errors.New("required: --bundle, or --manifest, --jws and --cert"))
		}
		manifestBytes, err := os.ReadFile(sigManifest)
		if err != nil {
			return usageError(fmt.Errorf("read manifest: %w", err))
		}
		jwsBytes, err := os.ReadFile(sigJWS)
		if err != nil {
			return usageError(fmt.Errorf("read jws: %w", err))
		}
		jws, err := crypto.ParseDetachedJWS(jwsBytes)
		if err != nil {
			return &exitError{code: 1, err: fmt.Errorf("parse jws: %w", err)}
		}
		if err := crypto.VerifyDetachedJWS(manifestBytes, jws, certPEM); err != nil {
			return &exitError{code: 1, err: fmt.Errorf("verify signature: %w", err)}
		}
		fmt.Fprintln(out, "Signature OK")
		return nil
	},
}

func init() {
	f := verifySignatureCmd.Flags()
	f.StringVar(&sigBundle, "bundle", "", "certificate bundle (.zip)")
	f.StringVar(&sigManifest, "manifest", "", "manifest JSON file")
	f.StringVar(&sigJWS, "jws", "", "manifest JWS signature file")
	f.StringVar(&sigCert, "cert", "", "signer certificate (PEM)")
}
