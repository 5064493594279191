package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mossy-p/roomcall/internal/coordinator"
)

// statusPrinter prints session transitions as the coordinator publishes them.
type statusPrinter struct {
	out io.Writer

	mu     sync.Mutex
	last   map[string]coordinator.SessionInfo
	remote bool
	joined bool
	left   chan struct{}
}

func newStatusPrinter(out io.Writer) *statusPrinter {
	return &statusPrinter{
		out:  out,
		last: make(map[string]coordinator.SessionInfo),
		left: make(chan struct{}, 1),
	}
}

func (p *statusPrinter) update(snap coordinator.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[string]bool, len(snap.Sessions))
	for _, s := range snap.Sessions {
		seen[s.PeerID] = true
		if prev, ok := p.last[s.PeerID]; !ok || prev.State != s.State {
			fmt.Fprintf(p.out, "peer %s: %s (%s)\n", s.PeerID, s.State, s.Role)
		}
		p.last[s.PeerID] = s
	}
	for id := range p.last {
		if !seen[id] {
			fmt.Fprintf(p.out, "peer %s: gone\n", id)
			delete(p.last, id)
		}
	}

	if snap.RemoteStreamAvailable && !p.remote {
		fmt.Fprintln(p.out, "remote media flowing")
	}
	p.remote = snap.RemoteStreamAvailable

	if p.joined && !snap.Joined {
		select {
		case p.left <- struct{}{}:
		default:
		}
	}
	p.joined = snap.Joined
}

// waitLeft blocks until the coordinator reports it left the room.
func (p *statusPrinter) waitLeft(timeout time.Duration) {
	select {
	case <-p.left:
	case <-time.After(timeout):
	}
}
