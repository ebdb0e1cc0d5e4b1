package main

import (
	"os"

	"github.com/cpyref/refscan/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
