package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"example.com/certgate/internal/attendees"
	"example.com/certgate/internal/batch"
	"example.com/certgate/internal/common"
	"example.com/certgate/internal/config"
	"example.com/certgate/internal/publish"
	"example.com/certgate/internal/report"
)

type generateOptions struct {
	style     styleFlags
	names     string
	namesText string
	noHeader  bool
	outDir    string
	format    string
	workers   int
	noArchive bool
	signKey   string
	signCert  string
	progress  bool
	ledger    string
}

var genOpts generateOptions

var generateCmd = &cobra.Command{
	Use:     "generate",
	Short:   "Generate one certificate per attendee and bundle them",
	GroupID: "certs",
	Example: `  certctl generate -t template.png -e "GDG Basra Event" --names names.csv
  certctl generate -c certgate.yaml --names-text "$(cat names.txt)" --format png`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := cfg
		if err := genOpts.apply(&c); err != nil {
			return usageError(err)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runGenerate(ctx, c, genOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	f := generateCmd.Flags()
	genOpts.style.bind(f)
	f.StringVarP(&genOpts.names, "names", "n", "", "attendee list (.txt, .csv or .xlsx)")
	f.StringVar(&genOpts.namesText, "names-text", "", "attendee names, one per line")
	f.BoolVar(&genOpts.noHeader, "no-header", false, "the first CSV/XLSX row is an attendee, not a header")
	f.StringVarP(&genOpts.outDir, "out", "o", "", "output directory")
	f.StringVarP(&genOpts.format, "format", "f", "", "document format (pdf or png)")
	f.IntVarP(&genOpts.workers, "workers", "w", 0, "concurrent rows")
	f.BoolVar(&genOpts.noArchive, "no-archive", false, "skip the ZIP bundle")
	f.StringVar(&genOpts.signKey, "sign-key", "", "PEM private key for signing the bundle manifest")
	f.StringVar(&genOpts.signCert, "sign-cert", "", "PEM certificate recorded with the signature")
	f.BoolVar(&genOpts.progress, "progress", false, "display progress updates")
	f.StringVar(&genOpts.ledger, "ledger", "", "append issued certificates to this JSONL ledger")
	generateCmd.MarkFlagsMutuallyExclusive("names", "names-text")
}

func (o *generateOptions) apply(c *config.Config) error {
	fs := o.style.fs
	if fs.Changed("names") {
		c.Names.File = o.names
	}
	if fs.Changed("no-header") {
		header := !o.noHeader
		c.Names.Header = &header
	}
	if fs.Changed("out") {
		c.Output.Dir = o.outDir
	}
	if fs.Changed("format") {
		c.Output.Format = o.format
	}
	if fs.Changed("workers") {
		c.Workers = o.workers
	}
	if fs.Changed("no-archive") {
		archive := !o.noArchive
		c.Output.Archive = &archive
	}
	if fs.Changed("sign-key") {
		c.Signing.PrivateKey = o.signKey
	}
	if fs.Changed("ledger") {
		c.Output.Ledger = o.ledger
	}
	if fs.Changed("sign-cert") {
		c.Signing.Certificate = o.signCert
	}
	return o.style.apply(c)
}

func loadAttendees(c config.Config, namesText string) ([]attendees.Attendee, error) {
	if strings.TrimSpace(namesText) != "" {
		return attendees.ParseText(strings.NewReader(namesText))
	}
	if c.Names.File == "" {
		return nil, errors.New("no attendee list (use --names or --names-text)")
	}
	f, err := os.Open(c.Names.File)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return attendees.Parse(c.Names.File, f, c.HeaderRow())
}

func readSigning(c config.Config) (key, cert []byte, err error) {
	if c.Signing.PrivateKey == "" {
		if c.Signing.Certificate != "" {
			return nil, nil, errors.New("signing certificate configured without a private key")
		}
		return nil, nil, nil
	}
	key, err = os.ReadFile(c.Signing.PrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("read signing key: %w", err)
	}
	if c.Signing.Certificate != "" {
		cert, err = os.ReadFile(c.Signing.Certificate)
		if err != nil {
			return nil, nil, fmt.Errorf("read signing certificate: %w", err)
		}
	}
	return key, cert, nil
}

func runGenerate(ctx context.Context, c config.Config, o generateOptions, out, errOut io.Writer) error {
	list, err := loadAttendees(c, o.namesText)
	if err != nil {
		return usageError(fmt.Errorf("attendees: %w", err))
	}
	comp, err := buildCompositor(ctx, c)
	if err != nil {
		return err
	}
	key, cert, err := readSigning(c)
	if err != nil {
		return usageError(err)
	}
	pub, err := publish.New(ctx, c.Publish, logger)
	if errors.Is(err, publish.ErrDisabled) {
		pub, err = nil, nil
	}
	if err != nil {
		return usageError(err)
	}

	metrics := common.NewMetrics()
	stopProgress := func() {}
	if o.progress {
		stopProgress = common.StartProgressPrinter(errOut, metrics, 500*time.Millisecond)
	}
	rep, err := batch.Run(ctx, batch.Job{
		Compositor:  comp,
		Attendees:   list,
		Event:       c.Event,
		Timestamp:   c.RunTimestamp(time.Now()),
		Format:      c.Format(),
		OutputDir:   c.Output.Dir,
		Workers:     c.Workers,
		Archive:     c.ArchiveEnabled(),
		ArchiveName: c.Output.ArchiveName,
		SigningKey:  key,
		SigningCert: cert,
		Publisher:   pub,
		Ledger:      openLedger(c.Output.Ledger),
		Metrics:     metrics,
		Logger:      logger,
	})
	stopProgress()

	var inputErr *batch.InputError
	if errors.As(err, &inputErr) {
		return usageError(err)
	}
	if rep == nil {
		return err
	}
	summary, sumErr := report.WriteSummary(rep, "")
	if sumErr != nil {
		logger.Warn("summary pdf failed", zap.String("run", rep.RunID), zap.Error(sumErr))
	}
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(rep); encErr != nil {
			return encErr
		}
	} else {
		printSummary(out, rep, summary, metrics.Snapshot())
	}
	if err != nil {
		logger.Error("packaging failed", zap.String("run", rep.RunID), zap.Error(err))
		return &exitError{code: 1, err: err}
	}
	if rep.Failed > 0 {
		return &exitError{code: 1, err: fmt.Errorf("%d of %d certificates failed", rep.Failed, rep.Total)}
	}
	return nil
}

func printSummary(w io.Writer, rep *batch.Report, summaryPDF string, snap common.MetricsSnapshot) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run:\t%s\n", rep.RunID)
	fmt.Fprintf(tw, "Event:\t%s\n", rep.Event)
	fmt.Fprintf(tw, "Timestamp:\t%s\n", rep.Timestamp)
	fmt.Fprintf(tw, "Generated:\t%d / %d (%s, %s)\n", rep.Succeeded, rep.Total, rep.Format, common.FormatBytes(snap.Bytes))
	fmt.Fprintf(tw, "Output:\t%s\n", rep.OutputDir)
	if rep.ArchivePath != "" {
		signed := ""
		if rep.Signed {
			signed = " (signed)"
		}
		fmt.Fprintf(tw, "Bundle:\t%s%s\n", rep.ArchivePath, signed)
	}
	if rep.ArchiveURL != "" {
		fmt.Fprintf(tw, "Published:\t%s\n", rep.ArchiveURL)
	}
	if rep.ReportPath != "" {
		fmt.Fprintf(tw, "Report:\t%s\n", rep.ReportPath)
	}
	if summaryPDF != "" {
		fmt.Fprintf(tw, "Summary:\t%s\n", summaryPDF)
	}
	fmt.Fprintf(tw, "Elapsed:\t%s\n", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
	if rep.PackagingError != "" {
		fmt.Fprintf(tw, "Packaging:\t%s\n", rep.PackagingError)
	}
	tw.Flush()

	failures := rep.Failures()
	if len(failures) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tNAME\tERROR")
	for _, f := range failures {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", f.Row, f.Name, f.Error)
	}
	tw.Flush()
}
