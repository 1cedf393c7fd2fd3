// Command pseudows serves and speaks the emulated WebSocket protocol.
package main

import (
	"fmt"
	"os"

	"github.com/kleeedolinux/pseudows/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
