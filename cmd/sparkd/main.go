package main

import (
	"fmt"
	"os"

	"monspark/services/sparkd"
)

func main() {
	if err := sparkd.Main(); err != nil {
		fmt.Fprintf(os.Stderr, "sparkd: %v\n", err)
		os.Exit(1)
	}
}
