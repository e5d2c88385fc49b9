package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"example.com/certgate/internal/certificate"
)

var (
	previewStyle styleFlags
	previewOut   string
)

var previewCmd = &cobra.Command{
	Use:     "preview <name>",
	Short:   "Render one certificate to PNG to check the layout",
	GroupID: "certs",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := cfg
		if err := previewStyle.apply(&c); err != nil {
			return usageError(err)
		}
		comp, err := buildCompositor(cmd.Context(), c)
		if err != nil {
			return err
		}
		art, err := comp.Generate(args[0], c.Event, c.RunTimestamp(time.Now()))
		if err != nil {
			return usageError(err)
		}
		out := previewOut
		if strings.TrimSpace(out) == "" {
			out = "preview.png"
		}
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		bw := bufio.NewWriter(f)
		if err := art.WritePNG(bw); err != nil {
			f.Close()
			return err
		}
		if err := bw.Flush(); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", out, certificate.DisplayID(art.Digest), art.Digest)
		return nil
	},
}

func init() {
	previewStyle.bind(previewCmd.Flags())
	previewCmd.Flags().StringVarP(&previewOut, "out", "o", "preview.png", "output PNG file")
}
