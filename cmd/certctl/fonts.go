package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"example.com/certgate/internal/fonts"
)

var fetchAll bool

var fontsCmd = &cobra.Command{
	Use:     "fonts",
	Short:   "List or pre-fetch catalog fonts",
	GroupID: "system",
}

var fontsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog fonts and whether they are cached",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cache := fonts.DirCache{Dir: cfg.Fonts.CacheDir}
		type row struct {
			fonts.Family
			Cached bool `json:"cached"`
		}
		var rows []row
		for _, fam := range fonts.Catalog() {
			cached := fam.Bundled
			if !cached {
				_, err := cache.Load(fam.Name)
				cached = err == nil
			}
			rows = append(rows, row{Family: fam, Cached: cached})
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "FAMILY\tDIRECTION\tSOURCE\tCACHED")
		for _, r := range rows {
			source := "download"
			if r.Bundled {
				source = "bundled"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", r.Name, r.Direction, source, r.Cached)
		}
		return tw.Flush()
	},
}

var fontsFetchCmd = &cobra.Command{
	Use:   "fetch [family...]",
	Short: "Download catalog fonts into the font cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		families := args
		if fetchAll {
			families = nil
			for _, fam := range fonts.Catalog() {
				if !fam.Bundled {
					families = append(families, fam.Name)
				}
			}
		}
		if len(families) == 0 {
			return usageError(errors.New("name at least one family or use --all"))
		}
		resolver := newResolver()
		failed := 0
		for _, name := range families {
			f, err := resolver.Resolve(cmd.Context(), fonts.Request{Family: name})
			if err != nil {
				failed++
				logger.Error("font fetch failed", zap.String("family", name), zap.Error(err))
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tok\n", f.Family, f.Direction)
		}
		if failed > 0 {
			return &exitError{code: 1, err: fmt.Errorf("%d of %d fonts could not be fetched", failed, len(families))}
		}
		return nil
	},
}

func init() {
	fontsFetchCmd.Flags().BoolVar(&fetchAll, "all", false, "fetch every downloadable family")
	fontsCmd.AddCommand(fontsListCmd, fontsFetchCmd)
}
