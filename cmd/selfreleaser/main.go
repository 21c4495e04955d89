package main

import (
	"fmt"
	"os"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/cli"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	if err := cli.Execute(Version); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
