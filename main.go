/*
Testbed application that drives the engine package
with a small demo scene
*/
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/crown3d/crown/engine"
	"github.com/crown3d/crown/testbed"
)

func main() {
	tb := testbed.NewTestGame()

	eng, err := engine.New(tb.Game)
	if err != nil {
		panic(err)
	}

	if err := eng.Initialize(); err != nil {
		panic(err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	go func() {
		<-sigCh
		_ = eng.Shutdown()
		os.Exit(0)
	}()

	if err := eng.Run(); err != nil {
		panic(err)
	}

	if err := eng.Shutdown(); err != nil {
		panic(err)
	}
}
