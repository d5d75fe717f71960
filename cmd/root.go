// Package cmd defines the docscrape command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/docscrape/internal/app"
	"github.com/JakeFAU/docscrape/internal/progress"
	"github.com/JakeFAU/docscrape/internal/scrape"
)

// Process exit statuses.
const (
	ExitOK          = 0
	ExitStartup     = 1
	ExitAborted     = 2
	ExitInterrupted = 130
)

// abortError marks a run that started and then failed as a whole.
type abortError struct{ err error }

func (e *abortError) Error() string { return e.err.Error() }

func (e *abortError) Unwrap() error { return e.err }

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "docscrape",
		Short: "Scrape local HTML documents in parallel with declarative scrapers.",
		Long: `docscrape applies a JSON or YAML scraper definition (or a built-in
scraper) to many HTML documents at once and writes the extracted records as
CSV or line-delimited JSON.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML config file")
	cmd.AddCommand(newScrapeCmd(&configPath))
	return cmd
}

// Execute runs the CLI with os.Args and returns the process exit status.
func Execute() int {
	return execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return exitCode(root.ExecuteContext(ctx), stderr)
}

// exitCode reports err to stderr and maps it onto an exit status.
func exitCode(err error, stderr io.Writer) int {
	var (
		startup *app.StartupError
		aborted *abortError
	)
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &startup):
		code := ExitStartup
		tracker := progress.NewTracker(progress.TrackerConfig{
			Output: stderr,
			Exit:   func(c int) { code = c },
		})
		tracker.Die(startup.Lines...)
		return code
	case errors.Is(err, scrape.ErrInterrupted):
		_, _ = fmt.Fprintln(stderr, "Interrupted.")
		return ExitInterrupted
	case errors.As(err, &aborted):
		_, _ = fmt.Fprintf(stderr, "Scrape aborted: %v\n", aborted.err)
		return ExitAborted
	default:
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitStartup
	}
}
