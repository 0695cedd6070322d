package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/signalnine/docprobe/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		if !errors.Is(err, cmd.ErrChecksFailed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}
