package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/tides-platform/console/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// denied checks already printed their verdict
		if !errors.Is(err, cli.ErrDenied) {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		os.Exit(1)
	}
}
