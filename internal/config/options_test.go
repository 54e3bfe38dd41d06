package config

import (
	"flag"
	"testing"
)

func parse(t *testing.T, args ...string) *Options {
	t.Helper()
	fs := flag.NewFlagSet("adsbus", flag.ContinueOnError)
	o := RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return o
}

func TestRegisterFlagsParsesEveryEndpointKind(t *testing.T) {
	o := parse(t,
		"--connect", "json=feed.example.com/30005",
		"--listen", "beast=/30005",
		"--exec", "raw=/usr/bin/dump1090 --raw",
		"--file-in", "json=/var/log/adsbus/in.jsonl",
		"--file-out", "stats=/var/log/adsbus/stats.jsonl",
		"--stdin", "raw",
		"--stdout", "beast",
	)

	if len(o.Connects) != 1 || o.Connects[0].Host != "feed.example.com" {
		t.Errorf("connects: %+v", o.Connects)
	}
	if len(o.Listens) != 1 || o.Listens[0].Host != "" {
		t.Errorf("listens: %+v", o.Listens)
	}
	if len(o.Execs) != 1 || o.Execs[0].Command != "/usr/bin/dump1090 --raw" {
		t.Errorf("execs: %+v", o.Execs)
	}
	if len(o.FilesIn) != 1 || len(o.FilesOut) != 1 {
		t.Errorf("files: in=%+v out=%+v", o.FilesIn, o.FilesOut)
	}
	if o.StdinFormat != "raw" || o.StdoutFormat != "beast" {
		t.Errorf("stdio: in=%q out=%q", o.StdinFormat, o.StdoutFormat)
	}
	if err := o.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateDefaultsLogSettings(t *testing.T) {
	o := parse(t)
	if err := o.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if o.LogLevel != "info" || o.LogFormat != "text" {
		t.Errorf("expected default log settings, got level=%q format=%q", o.LogLevel, o.LogFormat)
	}
}

func TestValidateRejectsUnknownFormat(t *testing.T) {
	o := parse(t, "--connect", "nonsense=host/1")
	if err := o.Validate(); err == nil {
		t.Error("expected an error for an unregistered format")
	}
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	o := parse(t, "--listen", "raw=/70000")
	if err := o.Validate(); err == nil {
		t.Error("expected an error for a port above 65535")
	}
}

func TestValidateRejectsBadLogFormat(t *testing.T) {
	o := parse(t, "--log-format", "xml")
	if err := o.Validate(); err == nil {
		t.Error("expected an error for an unrecognized log format")
	}
}

func TestValidateRejectsUnknownStdioFormat(t *testing.T) {
	o := parse(t, "--stdin", "nonsense")
	if err := o.Validate(); err == nil {
		t.Error("expected an error for an unregistered stdin format")
	}
}
