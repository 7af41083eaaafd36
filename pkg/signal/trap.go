// Package signal provides the daemon's termination signal trap.
package signal

import (
	"context"
	"os"
	gosignal "os/signal"
	"sync/atomic"
	"syscall"

	"github.com/containerd/log"
)

// Trap sets up a simplified signal "trap", appropriate for common
// behavior expected from a vanilla unix command-line tool in general
// (and the converge daemon in particular).
//
// If SIGINT or SIGTERM is received, cleanup runs and the process
// exits. If the signal repeats three times before cleanup completes,
// cleanup is skipped and the process terminates directly.
func Trap(cleanup func()) {
	c := make(chan os.Signal, 1)
	gosignal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		var interruptCount uint32
		for sig := range c {
			go func(sig os.Signal) {
				log.G(context.TODO()).Infof("processing signal '%v'", sig)
				switch n := atomic.AddUint32(&interruptCount, 1); {
				case n == 1:
					cleanup()
					os.Exit(0)
				case n < 3:
					// Shutdown already in progress.
				default:
					log.G(context.TODO()).Info("forcing shutdown, interrupting cleanup")
					os.Exit(128 + int(sig.(syscall.Signal)))
				}
			}(sig)
		}
	}()
}
