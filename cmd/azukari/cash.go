package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"

	"azukari/internal/cli"
	"azukari/internal/core"
	"azukari/internal/services"
)

type cashCmd struct {
	facility int64
	period   string
}

func (*cashCmd) Name() string     { return "cash" }
func (*cashCmd) Synopsis() string { return "compare counted cash with a facility's ledger total" }
func (*cashCmd) Usage() string {
	return `cash -facility <id> [-period YYYY-MM] <denomination>=<count>...

  Example: cash -facility 1 10000=3 1000=12 100=7
`
}

func (c *cashCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.facility, "facility", 0, "facility id")
	f.StringVar(&c.period, "period", "", "month to check (defaults to the open month)")
}

func (c *cashCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	counts, err := parseCounts(f.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	return run(ctx, func(ctx context.Context, app *cli.App) error {
		if err := requireID("facility", c.facility); err != nil {
			return err
		}
		y, m, err := parsePeriod(c.period, app)
		if err != nil {
			return err
		}
		rep, err := app.Ledger.CashVerification(ctx, c.facility, y, m, counts)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
		for _, dc := range rep.Counts {
			fmt.Fprintf(tw, "%s\t× %d\t%s\t\n", core.FormatYen(dc.Value), dc.Count, core.FormatYen(dc.Amount()))
		}
		fmt.Fprintf(tw, "帳簿残高\t\t%s\t\n", core.FormatYen(rep.LedgerTotal))
		fmt.Fprintf(tw, "実査額\t\t%s\t\n", core.FormatYen(rep.Counted))
		fmt.Fprintf(tw, "差額\t\t%s\t\n", core.FormatYen(rep.Difference))
		return tw.Flush()
	})
}

func parseCounts(args []string) ([]services.DenominationCount, error) {
	counts := make([]services.DenominationCount, 0, len(args))
	for _, a := range args {
		vs, ns, ok := strings.Cut(a, "=")
		if !ok {
			return nil, fmt.Errorf("%q: expected <denomination>=<count>", a)
		}
		v, err := strconv.ParseInt(vs, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q: bad denomination", a)
		}
		n, err := strconv.ParseInt(ns, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q: bad count", a)
		}
		counts = append(counts, services.DenominationCount{Value: v, Count: n})
	}
	return counts, nil
}
