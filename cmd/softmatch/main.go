package main

import (
	"context"
	"fmt"
	"os"

	"github.com/devrev/softmatch/internal/cli"
)

var (
	version = "dev"
	commit  = ""
)

func main() {
	cmd := cli.NewRootCommand(cli.BuildInfo{Version: version, Commit: commit})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
