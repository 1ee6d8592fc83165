// Package main implements zendesk-prioritizer, which keeps an agent's Zendesk
// view in priority order and notifies about new tickets in watched views.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
