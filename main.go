package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/daocopilot/cli/cmd"
)

func main() {
	if err := fang.Execute(context.Background(), cmd.Root(),
		fang.WithVersion(cmd.VersionInfo()),
		fang.WithCommit(cmd.Commit),
	); err != nil {
		os.Exit(1)
	}
}
