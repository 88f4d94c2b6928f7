// Command dutctl drives a dutharness server over its HTTP API.
package main

import (
	"os"
)

var version = "dev"

func main() {
	root := newRootCmd()
	root.Version = version
	if err := root.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}
