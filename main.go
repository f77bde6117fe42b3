// SPDX-License-Identifier: MIT
package main

import (
	"os"

	"audiopipe/cmd"
	applog "audiopipe/internal/log"
	"audiopipe/pkg/build"
)

// main runs one pipeline process. Each process is started separately,
// typically by a supervisor:
//
//	audiopipe capture     device → filter chain → named pipes
//	audiopipe livestream  livestream pipe → opus/pcm + spectrogram websockets
//	audiopipe analysis    analysis pipe → stdout
//
// The processes share nothing but the pipes under fifo.base_path. Each
// stops on SIGINT or SIGTERM after tearing its resources down in order.
func main() {
	if err := build.Initialize(); err != nil {
		applog.Debugf("Build: running without link-time metadata: %v", err)
	}

	if err := cmd.Execute(os.Args[1:]); err != nil {
		applog.Errorf("%v", err)
		os.Exit(1)
	}
}
