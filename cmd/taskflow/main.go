// Command taskflow runs a plan of dependent tasks through a
// ScheduledPoolRunner and prints every envelope it produces.
package main

import (
	"os"
)

func main() {
	root := newRootCommand()
	root.AddCommand(newRunCommand(), newVersionCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
