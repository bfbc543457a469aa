// Command azukari is the operator CLI of the resident cash ledger.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

var commands = []subcommands.Command{
	&balanceCmd{},
	&statementCmd{},
	&facilityCmd{},
	&dashboardCmd{},
	&addCmd{},
	&correctCmd{},
	&importCmd{},
	&closeCmd{},
	&cashCmd{},
}

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	for _, c := range commands {
		commander.Register(c, "")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
