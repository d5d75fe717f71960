package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/docscrape/internal/app"
	"github.com/JakeFAU/docscrape/internal/config"
	"github.com/JakeFAU/docscrape/internal/scrape"
)

// newScrapeCmd creates the 'scrape' subcommand.
func newScrapeCmd(configPath *string) *cobra.Command {
	var validate bool
	cmd := &cobra.Command{
		Use:   "scrape DEFINITION [REPORT]",
		Short: "Scrape HTML files using a scraper definition",
		Long: `Scrape HTML files listed in a CSV report (or matched by --glob) using
DEFINITION, a .json/.yml/.yaml scraper file or the name of a built-in scraper
(title, canonical, urls, images, metas, rss).

REPORT defaults to standard input. Records are written to --output, which
accepts "-" for stdout, a local path, or a gs://bucket/object URI.`,
		Example: `  docscrape scrape scraper.yml report.csv -I downloaded > scraped.csv
  docscrape scrape title -g "pages/**/*.html" -f jsonl -o titles.jsonl
  docscrape scrape scraper.json --validate`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath, cmd.Flags())
			if err != nil {
				return &app.StartupError{Lines: []string{err.Error()}, Err: err}
			}
			opts := app.Options{
				Definition: args[0],
				Validate:   validate,
				Stdout:     cmd.OutOrStdout(),
				Stderr:     cmd.ErrOrStderr(),
			}
			if len(args) == 2 {
				opts.Report = args[1]
			}
			err = app.Run(cmd.Context(), cfg, opts)
			var startup *app.StartupError
			if err == nil || errors.As(err, &startup) || errors.Is(err, scrape.ErrInterrupted) {
				return err
			}
			return &abortError{err: err}
		},
	}

	flags := cmd.Flags()
	flags.StringP("glob", "g", "", "glob pattern of the files to scrape, instead of a report")
	flags.StringP("input-dir", "I", "", "directory the report paths are relative to")
	flags.StringSliceP("select", "s", nil, "report columns to keep in CSV output (defaults to all)")
	flags.StringP("format", "f", "csv", `output format: "csv" or "jsonl"`)
	flags.StringP("output", "o", "-", `where to write records: "-", a path, or gs://bucket/object`)
	flags.IntP("processes", "p", 0, "number of workers (defaults to the number of logical CPUs)")
	flags.String("strain", "", "simple CSS selector used to prefilter documents")
	flags.BoolVar(&validate, "validate", false, "only check the scraper definition")
	flags.String("plural-separator", "|", "separator joining list values in CSV output")
	flags.String("encoding", "utf-8", `default file encoding ("auto" to sniff)`)
	flags.Int("total", 0, "expected number of items, for the progress bar")
	flags.String("path-column", "filename", "report column holding file paths")
	flags.String("content-column", "", "report column holding inline HTML")
	flags.String("encoding-column", "", "report column holding per-file encodings")
	flags.String("url-column", "", "report column holding source URLs")
	flags.String("errors-report", "", "optional CSV file listing the items that failed")
	flags.String("metrics-addr", "", "address serving health, metrics, and progress endpoints")
	flags.Bool("no-progress", false, "disable the progress bar")
	return cmd
}
