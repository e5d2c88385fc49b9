package main

import (
	"encoding/json"
	"fmt"
	"image/png"
	"os"
	"time"

	"github.com/spf13/cobra"

	"example.com/certgate/internal/certificate"
	"example.com/certgate/internal/config"
)

var (
	digestEvent     string
	digestTimestamp string
	digestQROut     string
	digestQRSize    int
)

var digestCmd = &cobra.Command{
	Use:     "digest <name>",
	Short:   "Print the digest and QR payload for one attendee",
	GroupID: "certs",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		event := cfg.Event
		if cmd.Flags().Changed("event") {
			event = digestEvent
		}
		ts := cfg.Timestamp
		if cmd.Flags().Changed("timestamp") {
			ts = digestTimestamp
		}
		if ts == "" {
			ts = time.Now().Format(config.TimestampLayout)
		}
		payload := certificate.NewPayload(args[0], event, ts)
		raw, err := payload.Marshal()
		if err != nil {
			return err
		}
		if digestQROut != "" {
			size := digestQRSize
			if size <= 0 {
				size = cfg.QR.Size
			}
			img, err := certificate.PayloadQR(raw, size)
			if err != nil {
				return usageError(err)
			}
			f, err := os.Create(digestQROut)
			if err != nil {
				return err
			}
			if err := png.Encode(f, img); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return json.NewEncoder(out).Encode(struct {
				Digest  string              `json:"digest"`
				ID      string              `json:"id"`
				Payload certificate.Payload `json:"payload"`
			}{payload.Hash, certificate.DisplayID(payload.Hash), payload})
		}
		fmt.Fprintf(out, "Digest:  %s\n", payload.Hash)
		fmt.Fprintf(out, "ID:      %s\n", certificate.DisplayID(payload.Hash))
		fmt.Fprintf(out, "Payload: %s\n", raw)
		return nil
	},
}

func init() {
	f := digestCmd.Flags()
	f.StringVarP(&digestEvent, "event", "e", "", "event name")
	f.StringVar(&digestTimestamp, "timestamp", "", "timestamp, "+config.TimestampLayout+" (default now)")
	f.StringVar(&digestQROut, "qr", "", "also write the QR code to this PNG file")
	f.IntVar(&digestQRSize, "qr-size", 0, "QR side in pixels")
}
