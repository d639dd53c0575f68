// mwquery runs continuation-aware MediaWiki API queries from the shell.
//
// Pages and iterate results are written as JSON lines, so output can be piped
// into jq or another tool while the query is still running.
package main

import (
	"errors"
	"fmt"
	"os"
)

// Version information (set at build time)
var version = "dev"

func main() {
	err := newRootCmd().Execute()
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "mwquery:", err)

	var exit *exitError
	if errors.As(err, &exit) {
		os.Exit(exit.code)
	}
	os.Exit(1)
}
