package evloop

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

const maxEvents = 10

// registration tracks how one peer was added: either to epoll, or, for
// descriptors epoll refuses (EPERM — regular files and a few other
// non-pollable fd kinds), to the always-trigger list that gets a
// HandleEvent call on every loop iteration regardless of readiness.
type registration struct {
	peer   Peer
	always bool
}

// Loop is the bus's single-threaded event reactor: one epoll instance, a
// timer wheel, a self-pipe for signal-driven shutdown, and the
// input/output reference counts that drive idle-exit.
type Loop struct {
	log *slog.Logger

	epfd int

	byFD    map[int]*registration
	always  []*registration
	alwaysN map[Peer]int // peer -> index into always, for O(1) removal

	shutdownR, shutdownW int
	shuttingDown         bool

	wheel *Wheel

	countIn, countOut, countOutIn int
}

// New creates an epoll instance and the self-pipe used to interrupt
// epoll_wait for an orderly shutdown.
func New(log *slog.Logger) (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("evloop: epoll_create1: %w", err)
	}

	fds, err := unix.Pipe2(nil, unix.O_CLOEXEC|unix.O_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("evloop: pipe2: %w", err)
	}

	l := &Loop{
		log:       log,
		epfd:      epfd,
		byFD:      make(map[int]*registration),
		alwaysN:   make(map[Peer]int),
		shutdownR: fds[0],
		shutdownW: fds[1],
		wheel:     NewWheel(),
	}
	if err := l.addFD(l.shutdownR, unix.EPOLLIN|unix.EPOLLRDHUP, &shutdownPeer{fd: fds[0], loop: l}); err != nil {
		unix.Close(epfd)
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, err
	}
	return l, nil
}

// Wheel exposes the loop's timer wheel so other packages can schedule
// wakeups (retry backoff, DNS resolution completion, etc).
func (l *Loop) Wheel() *Wheel { return l.wheel }

type shutdownPeer struct {
	fd   int
	loop *Loop
}

func (p *shutdownPeer) FD() int { return p.fd }
func (p *shutdownPeer) HandleEvent(uint32) {
	p.loop.log.Info("shutting down")
	unix.Close(p.fd)
	p.loop.shuttingDown = true
}

// Add registers peer with epoll for the given event mask. If the
// descriptor is not pollable (EPERM, e.g. a regular file), peer is instead
// added to the always-trigger list and fires on every loop iteration.
func (l *Loop) Add(peer Peer, events uint32) error {
	return l.addFD(peer.FD(), events, peer)
}

func (l *Loop) addFD(fd int, events uint32, peer Peer) error {
	ev := &unix.EpollEvent{Events: events, Fd: int32(fd)}
	err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, ev)
	if err == unix.EPERM {
		if events == 0 {
			return nil
		}
		r := &registration{peer: peer, always: true}
		l.alwaysN[peer] = len(l.always)
		l.always = append(l.always, r)
		return nil
	}
	if err != nil {
		return fmt.Errorf("evloop: epoll_ctl add fd %d: %w", fd, err)
	}
	l.byFD[fd] = &registration{peer: peer}
	return nil
}

// Remove unregisters peer, whichever list it lives on.
func (l *Loop) Remove(peer Peer) {
	fd := peer.FD()
	if _, ok := l.byFD[fd]; ok {
		unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		delete(l.byFD, fd)
		return
	}
	if idx, ok := l.alwaysN[peer]; ok {
		last := len(l.always) - 1
		l.always[idx] = l.always[last]
		l.alwaysN[l.always[idx].peer] = idx
		l.always = l.always[:last]
		delete(l.alwaysN, peer)
	}
}

// Modify changes the epoll event mask for an already-registered peer.
func (l *Loop) Modify(peer Peer, events uint32) error {
	fd := peer.FD()
	if _, ok := l.byFD[fd]; !ok {
		return nil // always-trigger peers have no mask to modify
	}
	ev := &unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return fmt.Errorf("evloop: epoll_ctl mod fd %d: %w", fd, err)
	}
	return nil
}

// Shutdown requests an orderly exit: the next loop iteration observes it
// via the self-pipe and stops.
func (l *Loop) Shutdown() {
	if l.shutdownW == -1 {
		return
	}
	unix.Close(l.shutdownW)
	l.shutdownW = -1
}

// AddInput/RemoveInput, AddOutput/RemoveOutput and AddBidirectional/
// RemoveBidirectional track the reference counts that drive idle-exit: the
// loop shuts itself down once there are no remaining inputs, or no
// remaining outputs, to move packets between.
func (l *Loop) AddInput()           { l.countIn++ }
func (l *Loop) RemoveInput()        { l.countIn-- }
func (l *Loop) AddOutput()          { l.countOut++ }
func (l *Loop) RemoveOutput()       { l.countOut-- }
func (l *Loop) AddBidirectional()   { l.countOutIn++ }
func (l *Loop) RemoveBidirectional() { l.countOutIn-- }

// Run blocks, dispatching events and wakeups, until Shutdown is called (or
// the idle-exit policy triggers it) or epoll_wait fails unrecoverably.
func (l *Loop) Run() error {
	l.log.Info("starting event loop")
	events := make([]unix.EpollEvent, maxEvents)

	for !l.shuttingDown {
		if l.countIn+l.countOutIn == 0 {
			l.log.Info("no remaining inputs")
			l.Shutdown()
		} else if l.countOut+l.countOutIn == 0 {
			l.log.Info("no remaining outputs")
			l.Shutdown()
		}

		delay := l.wheel.Delay()
		if len(l.always) > 0 {
			delay = 0
		}

		n, err := unix.EpollWait(l.epfd, events, delay)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("evloop: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			reg, ok := l.byFD[int(events[i].Fd)]
			if !ok || l.shuttingDown {
				continue
			}
			reg.peer.HandleEvent(events[i].Events)
		}

		for _, reg := range append([]*registration(nil), l.always...) {
			if l.shuttingDown {
				break
			}
			reg.peer.HandleEvent(0)
		}

		l.wheel.Dispatch()
	}

	unix.Close(l.epfd)
	return nil
}
