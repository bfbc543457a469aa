package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/subcommands"

	"azukari/internal/cli"
	"azukari/internal/core"
	"azukari/internal/log"
)

// run opens the application, hands it to fn and maps the outcome to an exit
// status. Validation errors are user mistakes and exit with a usage status.
func run(ctx context.Context, fn func(context.Context, *cli.App) error) subcommands.ExitStatus {
	cli.LoadEnvFile()
	cfg, err := cli.LoadConfig(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	logger := cli.SetupLogger(cfg, log.ComponentCLI)

	app, err := cli.OpenApp(ctx, cfg, logger, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("Cleanup failed", log.FieldError, err)
		}
	}()

	if err := fn(ctx, app); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, core.ErrValidation) || errors.Is(err, core.ErrInvalidPeriod) {
			return subcommands.ExitUsageError
		}
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// parsePeriod reads "YYYY-MM". An empty value selects the open month.
func parsePeriod(s string, app *cli.App) (int, int, error) {
	if s == "" {
		open := app.Ledger.OpenPeriod()
		return open.Year, open.Month, nil
	}
	ys, ms, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q is not YYYY-MM", core.ErrInvalidPeriod, s)
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad year %q", core.ErrInvalidPeriod, ys)
	}
	m, err := strconv.Atoi(ms)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad month %q", core.ErrInvalidPeriod, ms)
	}
	// validated again by the ledger, but fail before touching storage
	if _, err := core.NewWindow(y, m, app.Ledger.Location()); err != nil {
		return 0, 0, err
	}
	return y, m, nil
}

// parseDate accepts "2006-01-02" or "2006-01-02 15:04" in the ledger's
// location. An empty value means now.
func parseDate(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Now().In(loc), nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, core.Invalid("transactionDate", fmt.Sprintf("%q is not a date", s))
}

func requireID(name string, id int64) error {
	if id <= 0 {
		return core.Invalid(name, "is required")
	}
	return nil
}
