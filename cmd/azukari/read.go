package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"

	"azukari/internal/cli"
	"azukari/internal/core"
)

type balanceCmd struct {
	resident int64
	period   string
}

func (*balanceCmd) Name() string     { return "balance" }
func (*balanceCmd) Synopsis() string { return "print a resident's balance at the end of a month" }
func (*balanceCmd) Usage() string {
	return `balance -resident <id> [-period YYYY-MM]
`
}

func (c *balanceCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.resident, "resident", 0, "resident id")
	f.StringVar(&c.period, "period", "", "month to report (defaults to the open month)")
}

func (c *balanceCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(ctx context.Context, app *cli.App) error {
		if err := requireID("resident", c.resident); err != nil {
			return err
		}
		y, m, err := parsePeriod(c.period, app)
		if err != nil {
			return err
		}
		b, err := app.Ledger.BalanceUpToMonth(ctx, c.resident, y, m)
		if err != nil {
			return err
		}
		fmt.Println(core.FormatYen(b))
		return nil
	})
}

type statementCmd struct {
	resident int64
	period   string
}

func (*statementCmd) Name() string { return "statement" }
func (*statementCmd) Synopsis() string {
	return "print a resident's monthly statement with running balances"
}
func (*statementCmd) Usage() string {
	return `statement -resident <id> [-period YYYY-MM]
`
}

func (c *statementCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.resident, "resident", 0, "resident id")
	f.StringVar(&c.period, "period", "", "month to report (defaults to the open month)")
}

func (c *statementCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(ctx context.Context, app *cli.App) error {
		if err := requireID("resident", c.resident); err != nil {
			return err
		}
		y, m, err := parsePeriod(c.period, app)
		if err != nil {
			return err
		}
		st, err := app.Ledger.ResidentMonth(ctx, c.resident, y, m)
		if err != nil {
			return err
		}
		fmt.Printf("%s / %s  %s\n", st.Facility.Name, st.Resident.Name, st.Period)
		fmt.Printf("繰越 %s\n\n", core.FormatYen(st.PriorBalance))
		writeRows(os.Stdout, st.Rows, false)
		fmt.Printf("\n残高 %s\n", core.FormatYen(st.Balance))
		return nil
	})
}

type facilityCmd struct {
	facility int64
	period   string
	summary  bool
}

func (*facilityCmd) Name() string     { return "facility" }
func (*facilityCmd) Synopsis() string { return "print a facility's monthly ledger or unit summary" }
func (*facilityCmd) Usage() string {
	return `facility -facility <id> [-period YYYY-MM] [-summary]

  Without -summary, lists every transaction of the facility's active
  residents for the month. With -summary, prints balances per unit.
`
}

func (c *facilityCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.facility, "facility", 0, "facility id")
	f.StringVar(&c.period, "period", "", "month to report (defaults to the open month)")
	f.BoolVar(&c.summary, "summary", false, "print balances per unit instead of transactions")
}

func (c *facilityCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(ctx context.Context, app *cli.App) error {
		if err := requireID("facility", c.facility); err != nil {
			return err
		}
		y, m, err := parsePeriod(c.period, app)
		if err != nil {
			return err
		}
		if !c.summary {
			rows, err := app.Ledger.FacilityMonth(ctx, c.facility, y, m)
			if err != nil {
				return err
			}
			writeRows(os.Stdout, rows, true)
			return nil
		}

		sum, err := app.Ledger.FacilitySummary(ctx, c.facility, y, m)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s\n\n", sum.Facility.Name, sum.Period)
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
		for _, u := range sum.Units {
			fmt.Fprintf(tw, "%s\t\t%s\t\n", u.Unit.Name, core.FormatYen(u.Total))
			for _, r := range u.Residents {
				fmt.Fprintf(tw, "\t%s\t%s\t\n", r.Resident.Name, core.FormatYen(r.Balance))
			}
		}
		fmt.Fprintf(tw, "合計\t\t%s\t\n", core.FormatYen(sum.Total))
		return tw.Flush()
	})
}

type dashboardCmd struct {
	period string
}

func (*dashboardCmd) Name() string     { return "dashboard" }
func (*dashboardCmd) Synopsis() string { return "print the month-end total of every facility" }
func (*dashboardCmd) Usage() string {
	return `dashboard [-period YYYY-MM]
`
}

func (c *dashboardCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.period, "period", "", "month to report (defaults to the open month)")
}

func (c *dashboardCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(ctx context.Context, app *cli.App) error {
		y, m, err := parsePeriod(c.period, app)
		if err != nil {
			return err
		}
		d, err := app.Ledger.Dashboard(ctx, y, m)
		if err != nil {
			return err
		}
		fmt.Println(d.Period)
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
		for _, f := range d.Facilities {
			fmt.Fprintf(tw, "%s\t%d名\t%s\t\n", f.Facility.Name, f.Residents, core.FormatYen(f.Total))
		}
		fmt.Fprintf(tw, "合計\t\t%s\t\n", core.FormatYen(d.Total))
		return tw.Flush()
	})
}

func writeRows(w io.Writer, rows []core.TransactionWithBalance, withResident bool) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range rows {
		if withResident {
			fmt.Fprintf(tw, "%s\t", r.ResidentName)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Date.Format("2006-01-02"), r.Type.Label(),
			core.FormatYen(r.Amount), core.FormatYen(r.Balance), r.Description, r.Reason)
	}
	_ = tw.Flush()
}
