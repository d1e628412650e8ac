// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

// periscope establishes an SSH tunnel to a remote device's display
// server and exposes it to local consumers.
//
// Two commands, one per transport strategy:
//
// connect: local proxy. The tunnel comes up, a loopback TCP listener
// is bound, and every connection accepted on it is spliced onto the
// tunnel's forward port. Consumers that can open sockets (a desktop
// VNC viewer) point at the printed address.
//
// relay: message multiplexer. Consumers that cannot open sockets
// speak newline-delimited JSON messages instead, carried over the
// relay's stdio by default, or over a TCP or WebSocket listener with
// --listen / --listen-ws.
package main

import (
	"fmt"
	"os"

	"github.com/periscope-project/periscope/lib/process"
	"github.com/periscope-project/periscope/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("missing command")
	}
	switch args[0] {
	case "connect":
		return runConnect(args[1:])
	case "relay":
		return runRelay(args[1:])
	case "version", "--version":
		fmt.Printf("periscope %s\n", version.Info())
		return nil
	case "help", "--help", "-h":
		printUsage()
		return nil
	default:
		return fmt.Errorf("unknown command %q (see 'periscope help')", args[0])
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `periscope - remote display access over SSH

USAGE
    periscope <command> [flags]

COMMANDS
    connect <host>    Tunnel to <host> and serve a local TCP proxy.
                      Prints the listen address; point a display
                      viewer at it.
    relay <host>      Tunnel to <host> and serve the message
                      multiplexer. Speaks JSON lines on stdio by
                      default; --listen serves a TCP carrier,
                      --listen-ws a WebSocket carrier.
    version           Print version information.
    help              Show this help.

FLAGS (connect and relay)
    --config <path>   Config file (default: $PERISCOPE_CONFIG, else
                      built-in defaults).
    -v, --verbose     Per-connection debug logging.

EXAMPLES
    # Splice a local viewer onto device-17's display
    periscope connect device-17.example.net

    # Serve the multiplexer to a browser-hosted viewer
    periscope relay device-17.example.net --listen-ws 127.0.0.1:8180
`)
}
