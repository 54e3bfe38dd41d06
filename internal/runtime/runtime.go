// Package runtime assembles a parsed configuration into a running bus:
// one event loop, one resolver, one packet bus, and a connector, listener,
// subprocess, file, or stdio transport per configured endpoint, each
// wired into the bus's receive and/or send side according to what its
// format can do.
package runtime

import (
	"fmt"
	"log/slog"

	"adsbus/internal/cliopts"
	"adsbus/internal/codec"
	"adsbus/internal/config"
	"adsbus/internal/connector"
	"adsbus/internal/evloop"
	"adsbus/internal/flow"
	"adsbus/internal/identity"
	"adsbus/internal/listener"
	"adsbus/internal/logx"
	"adsbus/internal/packet"
	"adsbus/internal/transport"
)

// Canonical scale parameters this bus announces about its own,
// already-rescaled packets in every hello greeting it sends: a 12 MHz
// MLAT tick rate with the full 64-bit counter range, and the full 32-bit
// RSSI range. Every Receive/Duplex flow rescales an upstream's declared
// (mhz, max, rssi_max) into this space before a packet ever reaches
// Broadcast, so these constants are the only ones the send side ever
// needs to advertise.
const (
	canonicalMHz     = 12
	canonicalMax     = ^uint64(0)
	canonicalRSSIMax = ^uint32(0)
)

// Runtime owns every long-lived object a configured bus needs.
type Runtime struct {
	Loop     *evloop.Loop
	Resolver *evloop.Resolver
	Bus      *flow.Bus
	ServerID packet.SourceID

	log *logx.Logger
}

// New builds the reactor, resolver, and bus, but wires no endpoints yet;
// call Configure for that.
func New(log *logx.Logger) (*Runtime, error) {
	loop, err := evloop.New(log.For(logx.CategorySystem, "-"))
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	resolver, err := evloop.NewResolver(loop)
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	serverID := identity.New()
	bus := flow.NewBus(loop, log.For(logx.CategorySend, "-"), serverID, canonicalMHz, canonicalMax, canonicalRSSIMax)

	return &Runtime{
		Loop:     loop,
		Resolver: resolver,
		Bus:      bus,
		ServerID: serverID,
		log:      log,
	}, nil
}

// Configure wires every endpoint named in o into the runtime. Endpoints
// are registered with the idle-exit reference counter exactly once, here,
// regardless of how many times they individually reconnect later: a
// connector or listener stands for the same configured endpoint for the
// life of the process, so its contribution to "is there still an input"
// must not track its momentary connected/disconnected state. The counts
// are not released when a file, stdin or subprocess stream later reaches
// end of input or closes, so idle-exit fires only when no input (or no
// output) endpoint was registered in the first place.
func (rt *Runtime) Configure(o *config.Options) {
	for _, c := range o.Connects {
		rt.addConnect(c)
	}
	for _, l := range o.Listens {
		rt.addListen(l)
	}
	for _, e := range o.Execs {
		rt.addExec(e)
	}
	for _, f := range o.FilesIn {
		rt.addFileIn(f)
	}
	for _, f := range o.FilesOut {
		rt.addFileOut(f)
	}
	if o.StdinFormat != "" {
		rt.addStdin(o.StdinFormat)
	}
	if o.StdoutFormat != "" {
		rt.addStdout(o.StdoutFormat)
	}
}

// formatCapability reports whether format has a receive-side parser and/or
// a send-side encoder on this bus.
func (rt *Runtime) formatCapability(format string) (hasDecoder, hasEncoder bool) {
	_, hasDecoder = codec.NewDecoder(format, rt.ServerID)
	hasEncoder = rt.Bus.HasEncoder(format)
	return
}

func (rt *Runtime) addConnect(spec cliopts.ConnectSpec) {
	hasDecoder, hasEncoder := rt.formatCapability(spec.Format)
	switch {
	case hasDecoder && hasEncoder:
		rt.Loop.AddBidirectional()
	case hasDecoder:
		rt.Loop.AddInput()
	case hasEncoder:
		rt.Loop.AddOutput()
	}

	id := identity.New()
	log := rt.log.For(logx.CategoryOutgoing, string(id))

	var hello func() []byte
	if hasEncoder {
		hello = func() []byte { return rt.Bus.Hello(spec.Format) }
	}

	connector.New(rt.Loop, rt.Resolver, log, id, spec.Host, spec.Port, hello,
		func(conn *transport.Conn, connID packet.SourceID, onDisconnect func()) {
			// hello, if the format has one, already rode out on the TCP Fast
			// Open SYN above; nothing left to send here.
			rt.wireConnection(conn, spec.Format, connID, hasEncoder, log, onDisconnect)
		})
}

func (rt *Runtime) addListen(spec cliopts.ListenSpec) {
	hasDecoder, hasEncoder := rt.formatCapability(spec.Format)
	switch {
	case hasDecoder && hasEncoder:
		rt.Loop.AddBidirectional()
	case hasDecoder:
		rt.Loop.AddInput()
	case hasEncoder:
		rt.Loop.AddOutput()
	}

	log := rt.log.For(logx.CategoryIncoming, "-")

	listener.New(rt.Loop, rt.Resolver, log, spec.Host, spec.Port,
		func(conn *transport.Conn, id packet.SourceID) {
			helloSent := false
			if hasEncoder {
				if hello := rt.Bus.Hello(spec.Format); len(hello) > 0 {
					if _, err := conn.Write(hello); err != nil {
						log.Warn("writing hello to new connection failed", "id", string(id), "error", err)
						conn.Close()
						return
					}
				}
				helloSent = true
			}
			rt.wireConnection(conn, spec.Format, id, helloSent, log, nil)
		})
}

// wireConnection builds whichever of Duplex, Receive, or Send a
// connection's format capability calls for. onDisconnect, if non-nil, is
// the connector's reconnect hook; listener-accepted connections pass nil
// since the listener itself doesn't reconnect per accepted peer.
func (rt *Runtime) wireConnection(conn *transport.Conn, format string, id packet.SourceID, helloSent bool, log *slog.Logger, onDisconnect func()) {
	dec, hasDecoder := codec.NewDecoder(format, rt.ServerID)
	hasEncoder := rt.Bus.HasEncoder(format)

	notify := func() {
		if onDisconnect != nil {
			onDisconnect()
		}
	}

	switch {
	case hasDecoder && hasEncoder:
		if _, err := flow.NewDuplex(rt.Loop, rt.Bus, conn, format, dec, id, helloSent, log, func(*flow.Duplex) { notify() }); err != nil {
			log.Warn("wiring duplex connection failed", "id", string(id), "error", err)
			conn.Close()
			notify()
		}
	case hasDecoder:
		if _, err := flow.NewReceive(rt.Loop, conn, dec, id, log, rt.Bus.Broadcast, func(*flow.Receive) { notify() }); err != nil {
			log.Warn("wiring receive connection failed", "id", string(id), "error", err)
			conn.Close()
			notify()
		}
	case hasEncoder:
		if _, err := rt.Bus.Subscribe(conn, format, id, helloSent, func(s *flow.Send) { rt.Bus.Unsubscribe(s); notify() }); err != nil {
			log.Warn("wiring send connection failed", "id", string(id), "error", err)
			conn.Close()
			notify()
		}
	default:
		conn.Close()
		notify()
	}
}

func (rt *Runtime) addExec(spec cliopts.ExecSpec) {
	hasDecoder, hasEncoder := rt.formatCapability(spec.Format)
	if hasDecoder {
		rt.Loop.AddInput()
	}
	if hasEncoder {
		rt.Loop.AddOutput()
	}

	log := rt.log.For(logx.CategoryOutgoing, "-")

	stdout, stdin, cmd, err := transport.Exec(spec.Command)
	if err != nil {
		log.Warn("starting subprocess failed", "command", spec.Command, "error", err)
		return
	}
	log.Info("started subprocess", "command", spec.Command, "pid", cmd.Process.Pid)

	id := identity.New()
	var recv *flow.Receive
	var send *flow.Send
	waited := false
	reap := func() {
		if waited {
			return
		}
		waited = true
		cmd.Wait()
	}

	if hasDecoder {
		dec, _ := codec.NewDecoder(spec.Format, rt.ServerID)
		var err error
		recv, err = flow.NewReceive(rt.Loop, stdout, dec, id, log, rt.Bus.Broadcast, func(*flow.Receive) {
			if send != nil {
				send.Close()
			}
			reap()
		})
		if err != nil {
			log.Warn("wiring subprocess stdout failed", "error", err)
			stdout.Close()
			stdin.Close()
			reap()
			return
		}
	} else {
		stdout.Close()
	}

	if hasEncoder {
		var err error
		send, err = rt.Bus.Subscribe(stdin, spec.Format, id, false, func(s *flow.Send) {
			rt.Bus.Unsubscribe(s)
			if recv != nil {
				recv.Close()
			}
			reap()
		})
		if err != nil {
			log.Warn("wiring subprocess stdin failed", "error", err)
			if recv != nil {
				recv.Close()
			}
			stdin.Close()
			reap()
			return
		}
	} else {
		stdin.Close()
	}
}

func (rt *Runtime) addFileIn(spec cliopts.FileSpec) {
	log := rt.log.For(logx.CategoryReceive, "-")
	dec, ok := codec.NewDecoder(spec.Format, rt.ServerID)
	if !ok {
		log.Warn("format has no receive-side parser, skipping", "format", spec.Format, "path", spec.Path)
		return
	}
	conn, err := transport.OpenRead(spec.Path)
	if err != nil {
		log.Warn("opening file for read failed", "path", spec.Path, "error", err)
		return
	}
	rt.Loop.AddInput()

	id := identity.New()
	if _, err := flow.NewReceive(rt.Loop, conn, dec, id, log, rt.Bus.Broadcast, nil); err != nil {
		log.Warn("wiring file input failed", "path", spec.Path, "error", err)
		conn.Close()
	}
}

func (rt *Runtime) addFileOut(spec cliopts.FileSpec) {
	log := rt.log.For(logx.CategorySend, "-")
	if !rt.Bus.HasEncoder(spec.Format) {
		log.Warn("format has no send-side encoder, skipping", "format", spec.Format, "path", spec.Path)
		return
	}
	conn, err := transport.OpenAppend(spec.Path)
	if err != nil {
		log.Warn("opening file for append failed", "path", spec.Path, "error", err)
		return
	}
	rt.Loop.AddOutput()

	id := identity.New()
	if _, err := rt.Bus.Subscribe(conn, spec.Format, id, false, rt.Bus.Unsubscribe); err != nil {
		log.Warn("wiring file output failed", "path", spec.Path, "error", err)
	}
}

func (rt *Runtime) addStdin(format string) {
	log := rt.log.For(logx.CategoryReceive, "-")
	dec, ok := codec.NewDecoder(format, rt.ServerID)
	if !ok {
		log.Warn("format has no receive-side parser, skipping stdin", "format", format)
		return
	}
	conn, err := transport.Stdin()
	if err != nil {
		log.Warn("binding stdin failed", "error", err)
		return
	}
	rt.Loop.AddInput()

	id := identity.New()
	if _, err := flow.NewReceive(rt.Loop, conn, dec, id, log, rt.Bus.Broadcast, nil); err != nil {
		log.Warn("wiring stdin failed", "error", err)
		conn.Close()
	}
}

func (rt *Runtime) addStdout(format string) {
	log := rt.log.For(logx.CategorySend, "-")
	if !rt.Bus.HasEncoder(format) {
		log.Warn("format has no send-side encoder, skipping stdout", "format", format)
		return
	}
	conn, err := transport.Stdout()
	if err != nil {
		log.Warn("binding stdout failed", "error", err)
		return
	}
	rt.Loop.AddOutput()

	id := identity.New()
	if _, err := rt.Bus.Subscribe(conn, format, id, false, rt.Bus.Unsubscribe); err != nil {
		log.Warn("wiring stdout failed", "error", err)
	}
}
