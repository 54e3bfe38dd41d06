// Command adsbus relays ADS-B traffic between any number of outgoing
// connections, listening sockets, subprocesses, files and the process's
// own stdio, decoding and re-encoding between wire formats as needed.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"adsbus/internal/codec"
	"adsbus/internal/config"
	"adsbus/internal/logx"
	"adsbus/internal/runtime"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts := config.RegisterFlags(flag.CommandLine)
	flag.Parse()

	if opts.ListFormats {
		fmt.Println(strings.Join(codec.Names, "\n"))
		return 0
	}

	if err := opts.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "adsbus: %v\n", err)
		return 1
	}

	// write(2) to a peer that has already reset its end raises SIGPIPE,
	// whose default action kills the process; every socket write goes
	// through this process's own non-blocking syscalls rather than
	// net.Conn, so nothing upstream already arranges for that signal to
	// be ignored.
	signal.Ignore(syscall.SIGPIPE)

	log := logx.New(opts.LogLevel, opts.LogFormat, opts.LogPath)
	defer log.Close()

	rt, err := runtime.New(log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "adsbus: %v\n", err)
		return 1
	}
	rt.Configure(opts)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				log.Rotate()
			default:
				rt.Loop.Shutdown()
				return
			}
		}
	}()

	if err := rt.Loop.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "adsbus: %v\n", err)
		return 1
	}
	return 0
}
