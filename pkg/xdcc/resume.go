package xdcc

import (
	"net"

	"github.com/google/uuid"
)

// Descriptor is everything a worker needs to pull one file. Once handed to a
// worker the control loop no longer touches it.
type Descriptor struct {
	ID       uuid.UUID
	Filename string
	Path     string
	IP       net.IP
	Port     string
	Size     int64
	Offset   int64
}

func (d *Descriptor) Addr() string {
	return net.JoinHostPort(d.IP.String(), d.Port)
}

// PendingResumes holds descriptors waiting for a DCC ACCEPT, keyed by the
// data port the bot offered. Owned by the control loop.
type PendingResumes struct {
	byPort map[string]*Descriptor
}

func NewPendingResumes() *PendingResumes {
	return &PendingResumes{byPort: make(map[string]*Descriptor)}
}

// Put stores d under port and returns the entry it replaced, if any.
func (p *PendingResumes) Put(port string, d *Descriptor) (*Descriptor, bool) {
	prev, ok := p.byPort[port]
	p.byPort[port] = d
	return prev, ok
}

// Take removes and returns the descriptor waiting on port.
func (p *PendingResumes) Take(port string) (*Descriptor, bool) {
	d, ok := p.byPort[port]
	if ok {
		delete(p.byPort, port)
	}
	return d, ok
}

func (p *PendingResumes) Len() int {
	return len(p.byPort)
}

// Drain empties the table, returning what was abandoned.
func (p *PendingResumes) Drain() []*Descriptor {
	out := make([]*Descriptor, 0, len(p.byPort))
	for port, d := range p.byPort {
		out = append(out, d)
		delete(p.byPort, port)
	}
	return out
}
