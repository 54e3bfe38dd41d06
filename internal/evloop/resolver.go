package evloop

import (
	"context"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// LookupResult carries the outcome of one asynchronous DNS lookup.
type LookupResult struct {
	Addrs []*net.TCPAddr
	Err   error
}

type pendingLookup struct {
	token    *bool
	callback func(LookupResult)
	result   LookupResult
}

// Resolver performs DNS lookups on background goroutines and delivers
// their results back onto the event loop goroutine, so callbacks never
// race with the rest of the reactor's single-threaded state. One Resolver
// serves the whole process.
type Resolver struct {
	loop *Loop

	mu      sync.Mutex
	pending []pendingLookup

	notifyR, notifyW int
}

// NewResolver creates a resolver bound to loop and registers its
// completion-notification pipe with the reactor.
func NewResolver(loop *Loop) (*Resolver, error) {
	fds, err := unix.Pipe2(nil, unix.O_CLOEXEC|unix.O_NONBLOCK)
	if err != nil {
		return nil, err
	}
	r := &Resolver{loop: loop, notifyR: fds[0], notifyW: fds[1]}
	if err := loop.addFD(r.notifyR, unix.EPOLLIN, &resolverPeer{r: r}); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, err
	}
	return r, nil
}

type resolverPeer struct{ r *Resolver }

func (p *resolverPeer) FD() int { return p.r.notifyR }
func (p *resolverPeer) HandleEvent(uint32) {
	var drain [64]byte
	for {
		n, err := unix.Read(p.r.notifyR, drain[:])
		if n <= 0 || err != nil {
			break
		}
	}
	p.r.drain()
}

func (r *Resolver) drain() {
	r.mu.Lock()
	due := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, lookup := range due {
		if lookup.token != nil && *lookup.token {
			continue // cancelled before completion
		}
		lookup.callback(lookup.result)
	}
}

// NewCancelToken returns a token that, when its value is set to true before the
// lookup completes, suppresses the callback. Callers that tear down a peer
// while its resolution is still in flight should set the token so the
// (now meaningless) result never reaches a freed peer.
func NewCancelToken() *bool {
	cancelled := false
	return &cancelled
}

// Resolve looks up host/port asynchronously. passive selects
// AI_PASSIVE-style resolution (wildcard bind addresses are meaningful) vs
// active (connect) resolution. callback runs on the event loop goroutine.
func (r *Resolver) Resolve(host, port string, passive bool, token *bool, callback func(LookupResult)) {
	go func() {
		var result LookupResult
		network := "tcp"
		if host == "" && passive {
			host = "0.0.0.0"
		}
		ips, err := net.DefaultResolver.LookupIPAddr(context.Background(), host)
		if err != nil {
			result.Err = err
		} else {
			for _, ip := range ips {
				addr, err := net.ResolveTCPAddr(network, net.JoinHostPort(ip.String(), port))
				if err != nil {
					continue
				}
				result.Addrs = append(result.Addrs, addr)
			}
			if len(result.Addrs) == 0 {
				result.Err = &net.AddrError{Err: "no addresses found", Addr: host}
			}
		}

		r.mu.Lock()
		r.pending = append(r.pending, pendingLookup{token: token, callback: callback, result: result})
		r.mu.Unlock()

		var one [1]byte
		unix.Write(r.notifyW, one[:])
	}()
}
