package main

import (
	"fmt"
	"os"

	"github.com/rezonia/erechnung/cmd/erechnung/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
