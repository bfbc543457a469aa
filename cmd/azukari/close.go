package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/subcommands"

	"azukari/internal/cli"
	"azukari/internal/core"
	"azukari/internal/log"
	"azukari/internal/worker"
)

type closeCmd struct {
	resident int64
	from     string
}

func (*closeCmd) Name() string     { return "close" }
func (*closeCmd) Synopsis() string { return "store month-end checkpoints" }
func (*closeCmd) Usage() string {
	return `close [-resident <id> -from YYYY-MM]

  Without flags, checkpoints the month before the open month for every
  resident. With -resident and -from, recomputes that resident's
  checkpoints from the given month up to the last closed month.
`
}

func (c *closeCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.resident, "resident", 0, "rebuild checkpoints of this resident only")
	f.StringVar(&c.from, "from", "", "first month to rebuild")
}

func (c *closeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(ctx context.Context, app *cli.App) error {
		w := worker.NewCheckpointWorker(app.Backend.Store, app.Ledger.Location(),
			app.Config.AggregateConcurrency, app.Logger.WithComponent(log.ComponentWorker))

		if c.resident == 0 {
			n, err := w.CloseMonth(ctx, time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("%d checkpoints stored\n", n)
			return nil
		}

		y, m, err := parsePeriod(c.from, app)
		if err != nil {
			return err
		}
		from, err := core.NewWindow(y, m, app.Ledger.Location())
		if err != nil {
			return err
		}
		if _, err := app.Backend.Store.DeleteCheckpointsFrom(ctx, c.resident, y, m); err != nil {
			return err
		}
		n, err := w.RebuildCheckpoints(ctx, c.resident, from)
		if err != nil {
			return err
		}
		fmt.Printf("%d checkpoints rebuilt\n", n)
		return nil
	})
}
