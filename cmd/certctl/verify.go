package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"example.com/certgate/internal/common"
	"example.com/certgate/internal/verify"
)

var (
	verifyPayload string
	verifyRegion  string
	verifyLedger  string
)

type verifyOutcome struct {
	Source string `json:"source"`
	verify.Result
	// Issued is set when a ledger was consulted for a valid payload.
	Issued *bool  `json:"issued,omitempty"`
	RunID  string `json:"runId,omitempty"`
	Error  string `json:"error,omitempty"`
}

var verifyCmd = &cobra.Command{
	Use:   "verify [image...]",
	Short: "Check certificate images or a raw QR payload",
	Long: `Decode the QR code of each certificate image and recompute its digest.
PDF certificates must be rasterized first; use --payload to check the text of
a QR code scanned elsewhere.`,
	GroupID: "certs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && verifyPayload == "" {
			return usageError(errors.New("give at least one image or --payload"))
		}
		region, err := parseRegion(verifyRegion)
		if err != nil {
			return usageError(err)
		}
		var outcomes []verifyOutcome
		if verifyPayload != "" {
			outcomes = append(outcomes, checkText("payload", verifyPayload))
		}
		for _, path := range args {
			text, err := verify.DecodeFile(path, region)
			if err != nil {
				outcomes = append(outcomes, verifyOutcome{Source: path, Error: err.Error()})
				continue
			}
			outcomes = append(outcomes, checkText(path, text))
		}
		ledgerPath := cfg.Output.Ledger
		if cmd.Flags().Changed("ledger") {
			ledgerPath = verifyLedger
		}
		if ledger := openLedger(ledgerPath); ledger != nil {
			for i := range outcomes {
				if err := markIssued(ledger, &outcomes[i]); err != nil {
					return err
				}
			}
		}
		if err := printOutcomes(cmd.OutOrStdout(), outcomes); err != nil {
			return err
		}
		bad := 0
		for _, o := range outcomes {
			if !o.Valid || (o.Issued != nil && !*o.Issued) {
				bad++
			}
		}
		if bad > 0 {
			return &exitError{code: 1, err: fmt.Errorf("%d of %d certificates did not verify", bad, len(outcomes))}
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyPayload, "payload", "", "QR payload JSON to check")
	verifyCmd.Flags().StringVar(&verifyRegion, "region", "", "scan only x,y,w,h of each image")
	verifyCmd.Flags().StringVar(&verifyLedger, "ledger", "", "also require the digest to appear in this issuance ledger")
}

func markIssued(ledger *common.IssueLog, o *verifyOutcome) error {
	if !o.Valid {
		return nil
	}
	entries, err := ledger.Lookup(o.Payload.Hash)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	issued := len(entries) > 0
	o.Issued = &issued
	if issued {
		o.RunID = entries[0].RunID
	}
	return nil
}

func checkText(source, text string) verifyOutcome {
	res, err := verify.CheckText(text)
	out := verifyOutcome{Source: source, Result: res}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

func printOutcomes(w io.Writer, outcomes []verifyOutcome) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(outcomes)
	}
	for _, o := range outcomes {
		switch {
		case o.Error != "":
			fmt.Fprintf(w, "%s: ERROR %s\n", o.Source, o.Error)
		case o.Valid && o.Issued != nil && !*o.Issued:
			fmt.Fprintf(w, "%s: NOT ISSUED %s (%s, %s)\n", o.Source, o.Payload.Name, o.Payload.Event, o.Payload.Date)
		case o.Valid:
			fmt.Fprintf(w, "%s: VALID %s (%s, %s)\n", o.Source, o.Payload.Name, o.Payload.Event, o.Payload.Date)
		default:
			fmt.Fprintf(w, "%s: MISMATCH hash %s, expected %s\n", o.Source, o.Payload.Hash, o.Expected)
		}
	}
	return nil
}

func parseRegion(s string) (image.Rectangle, error) {
	if strings.TrimSpace(s) == "" {
		return image.Rectangle{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("region %q: want x,y,w,h", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("region %q: %w", s, err)
		}
		v[i] = n
	}
	if v[2] <= 0 || v[3] <= 0 {
		return image.Rectangle{}, fmt.Errorf("region %q: width and height must be positive", s)
	}
	return image.Rect(v[0], v[1], v[0]+v[2], v[1]+v[3]), nil
}
