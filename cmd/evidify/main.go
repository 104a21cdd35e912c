package main

import (
	"fmt"
	"os"

	"github.com/evidifyai/evidify/internal/ui"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.Error.Sprint(err))
		os.Exit(1)
	}
}
