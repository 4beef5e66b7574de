// Command recorder records events and entity state history into SQL.
package main

import (
	"os"

	"github.com/roach88/recorder/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
