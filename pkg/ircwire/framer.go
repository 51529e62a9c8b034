package ircwire

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"
)

const (
	DefaultMaxLineBytes = 4096
	readIncrement       = 512
)

var (
	// ErrNoMessageYet is returned when the poll deadline expired before a full
	// line arrived. It is not a failure.
	ErrNoMessageYet = errors.New("no message yet")
	// ErrConnectionClosed signals the peer closed the stream.
	ErrConnectionClosed = errors.New("connection closed by server")
	// ErrOversizedMessage guards against unbounded accumulation of unterminated input.
	ErrOversizedMessage = errors.New("message exceeds maximum line size")
)

type deadlineSetter interface {
	SetReadDeadline(t time.Time) error
}

// Framer turns a byte stream into lines. Partial data after a terminator is
// carried over to the next ReadLine call.
type Framer struct {
	r       io.Reader
	dl      deadlineSetter
	poll    time.Duration
	maxLine int
	carry   []byte
	chunk   []byte
}

// NewFramer wraps r. When r supports SetReadDeadline and poll > 0 each read is
// bounded by poll so callers regain control periodically.
func NewFramer(r io.Reader, poll time.Duration, maxLine int) *Framer {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	f := &Framer{
		r:       r,
		poll:    poll,
		maxLine: maxLine,
		carry:   make([]byte, 0, readIncrement),
		chunk:   make([]byte, readIncrement),
	}
	if dl, ok := r.(deadlineSetter); ok && poll > 0 {
		f.dl = dl
	}
	return f
}

// ReadLine returns the next line without its CRLF terminator.
func (f *Framer) ReadLine() (string, error) {
	for {
		if line, ok := f.next(); ok {
			return line, nil
		}
		if len(f.carry) > f.maxLine {
			return "", ErrOversizedMessage
		}

		if f.dl != nil {
			if err := f.dl.SetReadDeadline(time.Now().Add(f.poll)); err != nil {
				return "", err
			}
		}
		n, err := f.r.Read(f.chunk)
		if n > 0 {
			f.carry = append(f.carry, f.chunk[:n]...)
			continue
		}
		switch {
		case err == nil:
			return "", ErrConnectionClosed
		case errors.Is(err, syscall.EINTR):
			continue
		case IsTimeout(err):
			return "", ErrNoMessageYet
		case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			return "", ErrConnectionClosed
		default:
			return "", err
		}
	}
}

// Buffered reports how many carried bytes are waiting for a terminator.
func (f *Framer) Buffered() int {
	return len(f.carry)
}

func (f *Framer) next() (string, bool) {
	idx := bytes.IndexByte(f.carry, '\n')
	if idx < 0 {
		return "", false
	}
	line := f.carry[:idx]
	line = bytes.TrimSuffix(line, []byte{'\r'})
	out := string(line)

	rest := copy(f.carry, f.carry[idx+1:])
	f.carry = f.carry[:rest]
	return out, true
}

// IsTimeout reports whether err is a read or write deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
