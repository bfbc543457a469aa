package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"azukari/internal/cli"
	"azukari/internal/core"
	"azukari/internal/services"
)

type addCmd struct {
	resident    int64
	date        string
	txType      string
	amount      string
	description string
	payee       string
	reason      string
}

func (*addCmd) Name() string     { return "add" }
func (*addCmd) Synopsis() string { return "record a deposit, withdrawal or correction" }
func (*addCmd) Usage() string {
	return `add -resident <id> -type <type> -amount <yen> [-date YYYY-MM-DD] [-description ...] [-payee ...] [-reason ...]

  Types: in, out, correct_in, correct_out, past_correct_in, past_correct_out.
  Ordinary entries must be dated in the open month. past_correct_* entries
  must be dated in a closed month and need -reason.
`
}

func (c *addCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.resident, "resident", 0, "resident id")
	f.StringVar(&c.date, "date", "", "transaction date, YYYY-MM-DD or \"YYYY-MM-DD HH:MM\" (defaults to now)")
	f.StringVar(&c.txType, "type", "", "transaction type")
	f.StringVar(&c.amount, "amount", "", "amount in whole yen")
	f.StringVar(&c.description, "description", "", "free text")
	f.StringVar(&c.payee, "payee", "", "counterparty")
	f.StringVar(&c.reason, "reason", "", "reason, required for corrections")
}

func (c *addCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(ctx context.Context, app *cli.App) error {
		txType, err := core.ParseTransactionType(c.txType)
		if err != nil {
			return core.Invalid("transactionType", err.Error())
		}
		amount, err := core.ParseYen(c.amount)
		if err != nil {
			return core.Invalid("amount", err.Error())
		}
		date, err := parseDate(c.date, app.Ledger.Location())
		if err != nil {
			return err
		}
		tx, err := app.Ledger.CreateTransaction(ctx, core.NewTransaction{
			ResidentID:  c.resident,
			Date:        date,
			Type:        txType,
			Amount:      amount,
			Description: c.description,
			Payee:       c.payee,
			Reason:      c.reason,
		})
		if err != nil {
			return err
		}
		fmt.Printf("created transaction %d (%s %s)\n", tx.ID, tx.Type.Label(), core.FormatYen(tx.Amount))
		return nil
	})
}

type correctCmd struct {
	id     int64
	reason string
}

func (*correctCmd) Name() string     { return "correct" }
func (*correctCmd) Synopsis() string { return "mark an open-month entry as corrected" }
func (*correctCmd) Usage() string {
	return `correct -id <transaction id> -reason <text>

  Turns an in/out entry of the open month into correct_in/correct_out so
  it no longer counts towards the balance. Closed months are fixed with
  "add -type past_correct_in|past_correct_out" instead.
`
}

func (c *correctCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.id, "id", 0, "transaction id")
	f.StringVar(&c.reason, "reason", "", "why the entry is wrong")
}

func (c *correctCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(ctx context.Context, app *cli.App) error {
		if err := requireID("id", c.id); err != nil {
			return err
		}
		tx, err := app.Ledger.MarkAsCorrected(ctx, c.id, c.reason)
		if err != nil {
			return err
		}
		fmt.Printf("transaction %d is now %s\n", tx.ID, tx.Type.Label())
		return nil
	})
}

type importCmd struct{}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "import facilities, units and residents from CSV" }
func (*importCmd) Usage() string {
	return `import <file.csv>

  Columns: facility,unit,resident[,initial_balance]. Existing records are
  reused; an opening balance is recorded once per resident.
`
}

func (*importCmd) SetFlags(*flag.FlagSet) {}

func (*importCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	return run(ctx, func(ctx context.Context, app *cli.App) error {
		file, err := os.Open(f.Arg(0))
		if err != nil {
			return err
		}
		defer file.Close()

		rows, err := services.ReadImportCSV(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", f.Arg(0), err)
		}
		res := services.NewImporter(app.Backend.Store, app.Ledger).Import(ctx, rows)
		fmt.Printf("facilities +%d, units +%d, residents +%d, opening balances +%d\n",
			res.FacilitiesCreated, res.UnitsCreated, res.ResidentsCreated, res.OpeningBalances)
		for _, e := range res.Errors {
			fmt.Fprintln(os.Stderr, e)
		}
		if len(res.Errors) > 0 {
			return fmt.Errorf("%d rows failed", len(res.Errors))
		}
		return nil
	})
}
