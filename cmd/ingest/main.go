package main

import (
	"os"

	"github.com/erp/ingestion/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
