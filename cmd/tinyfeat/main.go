// Command tinyfeat computes feature matrices over time series, keeps them as
// snapshots, merges snapshots and syncs results to a canonical store.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
