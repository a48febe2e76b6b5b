// Command chatctl is a terminal client for the chat API. It creates chats,
// sends turns and prints the answer as it streams.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
