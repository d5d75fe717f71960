package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/JakeFAU/docscrape/internal/definition"
	"github.com/JakeFAU/docscrape/internal/engine"
	"github.com/JakeFAU/docscrape/internal/scrape"
)

// StartupError is a fatal problem found before any item is read. Lines is
// the diagnostic shown to the user.
type StartupError struct {
	Lines []string
	Err   error
}

func (e *StartupError) Error() string { return e.Err.Error() }

func (e *StartupError) Unwrap() error { return e.Err }

// resolved is a scraper that compiled at least once.
type resolved struct {
	compile scrape.CompileFunc
	fields  []string
	named   bool
}

// resolveScraper turns the DEFINITION argument into a compile function. A
// built-in name is used only when no file of that name exists.
func resolveScraper(target, strain string) (resolved, error) {
	if _, err := os.Stat(target); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return resolved{}, fmt.Errorf("stat definition: %w", err)
		}
		compile, ok := engine.Named(target, strain)
		if !ok {
			return resolved{}, fmt.Errorf("%s: %w", target, scrape.ErrDefinitionNotFound)
		}
		return probe(compile, true)
	}

	def, err := definition.Load(target)
	if err != nil {
		return resolved{}, err
	}
	compile := func() (scrape.Scraper, error) {
		s, err := engine.Compile(def, strain)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return probe(compile, false)
}

// probe compiles once on the caller's goroutine so definition problems
// surface before any worker starts.
func probe(compile scrape.CompileFunc, named bool) (resolved, error) {
	s, err := compile()
	if err != nil {
		return resolved{}, err
	}
	return resolved{compile: compile, fields: s.Fieldnames(), named: named}, nil
}

// diagnose maps a startup failure onto the lines printed before exiting.
func diagnose(err error) *StartupError {
	var invalid *definition.ValidationError
	switch {
	case errors.Is(err, scrape.ErrDefinitionNotFound):
		return &StartupError{Lines: []string{"Could not find scraper file!"}, Err: err}
	case errors.Is(err, scrape.ErrDefinitionInvalidFormat):
		return &StartupError{
			Lines: []string{"Unknown scraper format! It should be a JSON or YAML file."},
			Err:   err,
		}
	case errors.As(err, &invalid):
		lines := []string{"Your scraper is invalid! You need to fix the following errors:", ""}
		for _, p := range invalid.Problems {
			lines = append(lines, "  - "+p.String())
		}
		return &StartupError{Lines: lines, Err: err}
	case errors.Is(err, scrape.ErrDefinitionInvalid):
		return &StartupError{Lines: []string{"Your scraper is invalid!", err.Error()}, Err: err}
	case errors.Is(err, scrape.ErrStrainTooComplex):
		return &StartupError{
			Lines: []string{
				"The given --strain selector is too complex!",
				"It can only contain simple selectors, without any relation between elements.",
			},
			Err: err,
		}
	case errors.Is(err, scrape.ErrNotTabular):
		return &StartupError{
			Lines: []string{
				`Your scraper does not yield tabular data. Try changing it or setting --format to "jsonl".`,
			},
			Err: err,
		}
	case errors.Is(err, scrape.ErrInputDirNotFound):
		return &StartupError{
			Lines: []string{"Could not find the -I/--input-dir directory!", err.Error()},
			Err:   err,
		}
	default:
		return &StartupError{Lines: []string{err.Error()}, Err: err}
	}
}
