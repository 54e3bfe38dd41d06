// Package config assembles the command-line endpoint flags into a single
// validated Options value that internal/runtime wires into a running bus.
// Flag registration follows the module order the original used to print
// its own --help text: server, log, outgoing, incoming, exec, file,
// stdinout.
package config

import (
	"flag"
	"strconv"

	"adsbus/internal/buserr"
	"adsbus/internal/cliopts"
	"adsbus/internal/codec"
)

// Options holds every flag-derived setting the bus needs to start.
type Options struct {
	// server
	ListFormats bool

	// log
	LogPath   string
	LogLevel  string
	LogFormat string

	// outgoing
	Connects []cliopts.ConnectSpec

	// incoming
	Listens []cliopts.ListenSpec

	// exec
	Execs []cliopts.ExecSpec

	// file
	FilesIn  []cliopts.FileSpec
	FilesOut []cliopts.FileSpec

	// stdinout
	StdinFormat  string
	StdoutFormat string
}

// RegisterFlags declares every bus flag on fs and returns the Options they
// populate once fs.Parse has run.
func RegisterFlags(fs *flag.FlagSet) *Options {
	o := &Options{}

	// server
	fs.BoolVar(&o.ListFormats, "list-formats", false, "print the registered wire formats and exit")

	// log
	fs.StringVar(&o.LogPath, "log", "", "also write log output to this file; reopened in place on SIGHUP")
	fs.StringVar(&o.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&o.LogFormat, "log-format", "text", "log line format: text or json")

	// outgoing
	fs.Var(cliopts.ConnectList{Items: &o.Connects}, "connect",
		"connect to a peer: <format>=<host>/<port> (repeatable)")

	// incoming
	fs.Var(cliopts.ListenList{Items: &o.Listens}, "listen",
		"listen for peers: <format>=[host]/<port> (repeatable, host may be empty for a wildcard bind)")

	// exec
	fs.Var(cliopts.ExecList{Items: &o.Execs}, "exec",
		"run a subprocess as a peer, wiring its stdin/stdout: <format>=<command> (repeatable)")

	// file
	fs.Var(cliopts.FileList{Items: &o.FilesIn}, "file-in",
		"read a file as a receive-only source: <format>=<path> (repeatable)")
	fs.Var(cliopts.FileList{Items: &o.FilesOut}, "file-out",
		"append a file as a send-only sink: <format>=<path> (repeatable)")

	// stdinout
	fs.StringVar(&o.StdinFormat, "stdin", "", "bind the process's standard input as a receive endpoint in this format")
	fs.StringVar(&o.StdoutFormat, "stdout", "", "bind the process's standard output as a send endpoint in this format")

	return o
}

// Validate checks every flag value it can without touching the network or
// filesystem, applying defaults in place the way the teacher's config
// validators do. It returns the first problem found.
func (o *Options) Validate() *buserr.ConfigError {
	if o.LogLevel == "" {
		o.LogLevel = "info"
	}
	if o.LogFormat == "" {
		o.LogFormat = "text"
	}
	switch o.LogFormat {
	case "text", "json":
	default:
		return buserr.NewConfigError("log-format must be \"text\" or \"json\", got "+quote(o.LogFormat), nil)
	}

	for i, c := range o.Connects {
		if !codec.Registered(c.Format) {
			return buserr.NewConfigError(field("connect", i, "format")+": unknown format "+quote(c.Format), nil)
		}
		if err := validPort(c.Port); err != nil {
			return buserr.NewConfigError(field("connect", i, "port"), err)
		}
	}

	for i, l := range o.Listens {
		if !codec.Registered(l.Format) {
			return buserr.NewConfigError(field("listen", i, "format")+": unknown format "+quote(l.Format), nil)
		}
		if err := validPort(l.Port); err != nil {
			return buserr.NewConfigError(field("listen", i, "port"), err)
		}
	}

	for i, e := range o.Execs {
		if !codec.Registered(e.Format) {
			return buserr.NewConfigError(field("exec", i, "format")+": unknown format "+quote(e.Format), nil)
		}
	}

	for i, fi := range o.FilesIn {
		if !codec.Registered(fi.Format) {
			return buserr.NewConfigError(field("file-in", i, "format")+": unknown format "+quote(fi.Format), nil)
		}
	}
	for i, fo := range o.FilesOut {
		if !codec.Registered(fo.Format) {
			return buserr.NewConfigError(field("file-out", i, "format")+": unknown format "+quote(fo.Format), nil)
		}
	}

	if o.StdinFormat != "" && !codec.Registered(o.StdinFormat) {
		return buserr.NewConfigError("stdin: unknown format "+quote(o.StdinFormat), nil)
	}
	if o.StdoutFormat != "" && !codec.Registered(o.StdoutFormat) {
		return buserr.NewConfigError("stdout: unknown format "+quote(o.StdoutFormat), nil)
	}

	return nil
}

func validPort(port string) error {
	n, err := strconv.Atoi(port)
	if err != nil {
		return err
	}
	if n < 1 || n > 65535 {
		return strconv.ErrRange
	}
	return nil
}

func field(flagName string, index int, attr string) string {
	return flagName + "[" + strconv.Itoa(index) + "]." + attr
}

func quote(s string) string {
	return strconv.Quote(s)
}
