package xdcc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

const (
	loopbackAddr = uint32(2130706433) // 127.0.0.1
	waitTimeout  = 5 * time.Second
)

// fakeIRC accepts a single client and records every line it sends.
type fakeIRC struct {
	t     *testing.T
	ln    net.Listener
	conn  net.Conn
	ready chan struct{}
	lines chan string
}

func newFakeIRC(t *testing.T) *fakeIRC {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeIRC{
		t:     t,
		ln:    ln,
		ready: make(chan struct{}),
		lines: make(chan string, 256),
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(f.lines)
			return
		}
		f.conn = conn
		close(f.ready)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			f.lines <- strings.TrimRight(scanner.Text(), "\r")
		}
		close(f.lines)
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		select {
		case <-f.ready:
			_ = f.conn.Close()
		default:
		}
	})
	return f
}

func (f *fakeIRC) addr() string {
	return f.ln.Addr().String()
}

func (f *fakeIRC) send(line string) {
	f.t.Helper()
	select {
	case <-f.ready:
	case <-time.After(waitTimeout):
		f.t.Fatalf("client never connected")
	}
	if _, err := io.WriteString(f.conn, line+"\r\n"); err != nil {
		f.t.Fatalf("write %q: %v", line, err)
	}
}

// expect skips lines until one equals want.
func (f *fakeIRC) expect(want string) {
	f.t.Helper()
	deadline := time.After(waitTimeout)
	var seen []string
	for {
		select {
		case line, ok := <-f.lines:
			if !ok {
				f.t.Fatalf("connection closed waiting for %q; saw %q", want, seen)
			}
			if line == want {
				return
			}
			seen = append(seen, line)
		case <-deadline:
			f.t.Fatalf("timed out waiting for %q; saw %q", want, seen)
		}
	}
}

// collect returns everything received within d.
func (f *fakeIRC) collect(d time.Duration) []string {
	var out []string
	deadline := time.After(d)
	for {
		select {
		case line, ok := <-f.lines:
			if !ok {
				return out
			}
			out = append(out, line)
		case <-deadline:
			return out
		}
	}
}

// login walks the client through registration and the channel join.
func (f *fakeIRC) login(nick, channel string) {
	f.t.Helper()
	f.expect("NICK " + nick)
	f.expect(fmt.Sprintf("USER %s 0 * %s", nick, nick))
	f.send(":irc.test 376 " + nick + " :End of /MOTD command.")
	f.expect("JOIN #" + channel)
	f.send(fmt.Sprintf(":%s!~%s@localhost JOIN :#%s", nick, nick, channel))
}

// dccPeer serves payload to each data connection it accepts.
type dccPeer struct {
	ln      net.Listener
	accepts atomic.Int32
	hold    chan struct{}
}

func newDCCPeer(t *testing.T, payload []byte) *dccPeer {
	return newStallingPeer(t, payload, false)
}

// newStallingPeer keeps the data connection open after payload when stall is
// set, until the test ends.
func newStallingPeer(t *testing.T, payload []byte, stall bool) *dccPeer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := &dccPeer{ln: ln, hold: make(chan struct{})}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			p.accepts.Add(1)
			go func(c net.Conn) {
				defer c.Close()
				_, _ = c.Write(payload)
				if stall {
					<-p.hold
				}
			}(conn)
		}
	}()
	t.Cleanup(func() {
		close(p.hold)
		_ = ln.Close()
	})
	return p
}

func (p *dccPeer) port() string {
	return strconv.Itoa(p.ln.Addr().(*net.TCPAddr).Port)
}

func (p *dccPeer) sendLine(bot, nick, file string, size int) string {
	return fmt.Sprintf(":%s!~bot@localhost PRIVMSG %s :\x01DCC SEND \"%s\" %d %s %d\x01", bot, nick, file, loopbackAddr, p.port(), size)
}

func payloadOf(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

type runResult struct {
	report *Report
	err    error
}

func startSession(t *testing.T, ctx context.Context, cfg Config, opts ...Option) (*Session, <-chan runResult) {
	t.Helper()
	s, err := NewSession(cfg, opts...)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	out := make(chan runResult, 1)
	go func() {
		report, err := s.Run(ctx)
		out <- runResult{report: report, err: err}
	}()
	return s, out
}

func waitRun(t *testing.T, ch <-chan runResult) runResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(waitTimeout):
		t.Fatalf("session did not finish")
		return runResult{}
	}
}

func testConfig(server, dir string, packs ...int) Config {
	return Config{
		Server:            server,
		Channel:           "nibl",
		Nickname:          "leech",
		Bot:               "Archive",
		Packages:          packs,
		Dir:               dir,
		ConnectTimeout:    2 * time.Second,
		ControlPoll:       50 * time.Millisecond,
		DataPoll:          50 * time.Millisecond,
		WriteTimeout:      2 * time.Second,
		InactivityTimeout: 10 * time.Second,
		LoginTimeout:      10 * time.Second,
		QueueRetry:        200 * time.Millisecond,
	}
}

// recordingProgress captures sink calls and flags the first Update.
type recordingProgress struct {
	mu       sync.Mutex
	started  map[uuid.UUID]int64
	finished map[uuid.UUID]Status
	updated  chan struct{}
	once     sync.Once
}

func newRecordingProgress() *recordingProgress {
	return &recordingProgress{
		started:  make(map[uuid.UUID]int64),
		finished: make(map[uuid.UUID]Status),
		updated:  make(chan struct{}),
	}
}

func (r *recordingProgress) Start(id uuid.UUID, _ string, _, offset int64) {
	r.mu.Lock()
	r.started[id] = offset
	r.mu.Unlock()
}

func (r *recordingProgress) Update(uuid.UUID, int64) {
	r.once.Do(func() { close(r.updated) })
}

func (r *recordingProgress) Finish(id uuid.UUID, status Status, _ error) {
	r.mu.Lock()
	r.finished[id] = status
	r.mu.Unlock()
}

func (r *recordingProgress) waitUpdate(t *testing.T) {
	t.Helper()
	select {
	case <-r.updated:
	case <-time.After(waitTimeout):
		t.Fatalf("no progress update received")
	}
}
