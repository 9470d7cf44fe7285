//go:build windows

package main

import (
	"os"
	"os/signal"
)

// notifySignals routes the signals that interrupt a batch to ch. Windows
// only delivers os.Interrupt (Ctrl+C).
func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch, os.Interrupt)
}
