package xdcc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jgoldverg/xdccget/internal"
	"github.com/jgoldverg/xdccget/pkg/ircwire"
	"github.com/jgoldverg/xdccget/pkg/metrics"
	"github.com/jgoldverg/xdccget/pkg/pool"
)

const (
	quitDone        = "my job is done here!"
	quitInterrupted = "Interrupted by user"
	quitTimeout     = "Connection timeout"
)

// ErrSessionStarted is returned when Run is called twice on one Session.
var ErrSessionStarted = errors.New("session already started")

type Option func(*Session)

func WithProgress(p ProgressSink) Option {
	return func(s *Session) {
		if p != nil {
			s.progress = p
		}
	}
}

func WithMetrics(c *metrics.TransferCollector) Option {
	return func(s *Session) { s.metrics = c }
}

// WithSignal shares an existing cancellation signal with the session.
func WithSignal(sig *Signal) Option {
	return func(s *Session) {
		if sig != nil {
			s.cancel = sig
		}
	}
}

// Session drives one IRC login and the XDCC requests for a list of packs.
// Everything except state and the two signals is owned by the
// goroutine calling Run.
type Session struct {
	cfg      Config
	progress ProgressSink
	metrics  *metrics.TransferCollector
	cancel   *Signal // set by the caller only
	stop     *Signal // stops workers on cancel or failure
	buffers  *pool.BufferPool

	state   atomic.Int32
	started atomic.Bool

	conn       net.Conn
	framer     *ircwire.Framer
	classifier ircwire.Classifier
	nick       string

	pending *PendingResumes
	reg     *registry
	results chan WorkerResult
	workers sync.WaitGroup

	welcomed  bool
	joinSent  bool
	queue     []int // packs not yet requested
	awaiting  []int // packs requested but not yet answered with an offer
	retries   map[int]int
	requested int
	outcomes  int
	inFlight  map[string]*Descriptor

	suspended   bool
	suspendedAt time.Time
	waitFor     *Descriptor
	lastSpawned *Descriptor

	startedAt    time.Time
	lastActivity time.Time
}

func NewSession(cfg Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		cfg:      cfg.withDefaults(),
		progress: NopProgress{},
		cancel:   NewSignal(),
		stop:     NewSignal(),
		buffers:  pool.NewBufferPool(pool.DefaultBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.nick = s.cfg.Nickname
	s.classifier = ircwire.Classifier{Nick: s.nick, Channel: s.cfg.Channel}
	s.pending = NewPendingResumes()
	s.reg = newRegistry(s.metrics)
	s.results = make(chan WorkerResult, len(s.cfg.Packages))
	s.retries = make(map[int]int)
	s.inFlight = make(map[string]*Descriptor)
	s.setState(StateConnecting)
	return s, nil
}

// State may be called from any goroutine.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Signal returns the cancellation signal shared with the workers.
func (s *Session) Signal() *Signal {
	return s.cancel
}

// Run blocks until every pack is accounted for, a fatal error occurs or the
// session is cancelled. Spawned workers are always joined before it returns.
func (s *Session) Run(ctx context.Context) (*Report, error) {
	if !s.started.CompareAndSwap(false, true) {
		return nil, ErrSessionStarted
	}
	unbind := s.cancel.Bind(ctx)
	defer unbind()
	release := s.stop.Follow(s.cancel)
	defer release()

	err := s.run()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.joinWorkers()
	s.abandonPending()

	if err == nil && s.cancel.Cancelled() && s.reg.count(StatusInterrupted) > 0 {
		s.setState(StateCancelled)
		err = ErrUserCancelled
	}
	if err == nil {
		s.setState(StateDone)
	}
	return s.report(), err
}

func (s *Session) run() error {
	if err := s.connect(); err != nil {
		return err
	}

	for {
		s.collect()

		if s.cancel.Cancelled() {
			return s.abort()
		}
		now := time.Now()
		if err := s.watchdogs(now); err != nil {
			return err
		}
		if s.outcomes >= len(s.cfg.Packages) {
			return s.complete()
		}
		s.checkQueueWait(now)
		if err := s.issueRequests(); err != nil {
			return s.fail(err)
		}

		line, err := s.framer.ReadLine()
		switch {
		case err == nil:
		case errors.Is(err, ircwire.ErrNoMessageYet):
			continue
		case errors.Is(err, ircwire.ErrOversizedMessage):
			return s.fail(err)
		case errors.Is(err, ircwire.ErrConnectionClosed):
			if s.cancel.Cancelled() {
				return s.abort()
			}
			return s.fail(fmt.Errorf("%w: %w", ErrConnection, err))
		default:
			if s.cancel.Cancelled() {
				return s.abort()
			}
			return s.fail(fmt.Errorf("%w: read: %v", ErrConnection, err))
		}

		s.lastActivity = time.Now()
		if err := s.handle(line); err != nil {
			return s.fail(err)
		}
	}
}

func (s *Session) connect() error {
	fields := internal.Fields{internal.FieldServer: s.cfg.Server}
	internal.Info("connecting", fields)

	ctx, cancel := s.cancel.Context(context.Background())
	defer cancel()
	dialer := net.Dialer{Timeout: s.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.cfg.Server)
	if err != nil {
		if s.cancel.Cancelled() {
			s.setState(StateCancelled)
			return ErrUserCancelled
		}
		return s.fail(fmt.Errorf("%w: dial %s: %v", ErrConnection, s.cfg.Server, err))
	}
	s.conn = conn
	s.framer = ircwire.NewFramer(conn, s.cfg.ControlPoll, s.cfg.MaxLineBytes)

	s.setState(StateLoggingIn)
	if err := s.send(ircwire.Nick(s.nick)); err != nil {
		return s.fail(err)
	}
	if err := s.send(ircwire.User(s.nick)); err != nil {
		return s.fail(err)
	}
	s.setState(StateAwaitingWelcomeEnd)

	s.startedAt = time.Now()
	s.lastActivity = s.startedAt
	return nil
}

func (s *Session) handle(line string) error {
	msg := s.classifier.Classify(line)
	if msg.Kind != ircwire.Unclassified {
		internal.Debug("received", internal.Fields{
			internal.FieldLine:  line,
			internal.FieldState: s.State().String(),
		})
	}

	if msg.Kind == ircwire.Ping {
		if err := s.send(ircwire.Pong(msg.Payload)); err != nil {
			return err
		}
		return nil
	}

	switch msg.Kind {
	case ircwire.DccSend, ircwire.DccAccept, ircwire.QueueFullNotice, ircwire.AlreadyRequestedNotice:
		if !strings.EqualFold(msg.Sender, s.cfg.Bot) {
			internal.Warn("ignoring bot message from another sender", internal.Fields{
				internal.FieldBot:  msg.Sender,
				internal.FieldLine: line,
			})
			return nil
		}
	}

	switch msg.Kind {
	case ircwire.WelcomeEnd:
		return s.onWelcomeEnd()
	case ircwire.NicknameInUse:
		return s.onNicknameInUse()
	case ircwire.JoinConfirmed:
		s.onJoined()
	case ircwire.DccSend:
		return s.onDccSend(msg)
	case ircwire.DccAccept:
		s.onDccAccept(msg)
	case ircwire.QueueFullNotice:
		s.onQueueFull(msg)
	case ircwire.AlreadyRequestedNotice:
		return s.onAlreadyRequested(msg)
	}
	return nil
}

func (s *Session) onWelcomeEnd() error {
	s.welcomed = true
	if s.joinSent {
		return nil
	}
	if err := s.send(ircwire.Join(s.cfg.Channel)); err != nil {
		return err
	}
	s.joinSent = true
	s.setState(StateJoining)
	internal.Info("joining channel", internal.Fields{internal.FieldChannel: "#" + s.cfg.Channel})
	return nil
}

func (s *Session) onNicknameInUse() error {
	if s.welcomed {
		return nil
	}
	taken := s.nick
	s.nick += "_"
	s.classifier.Nick = s.nick
	internal.Warn("nickname in use, retrying", internal.Fields{
		internal.FieldNick: taken,
		internal.FieldMsg:  s.nick,
	})
	return s.send(ircwire.Nick(s.nick))
}

func (s *Session) onJoined() {
	if s.State() != StateJoining {
		return
	}
	s.queue = append([]int(nil), s.cfg.Packages...)
	s.setState(StateRequesting)
	internal.Info("joined, requesting packs", internal.Fields{
		internal.FieldBot:  s.cfg.Bot,
		internal.FieldPack: fmt.Sprint(s.cfg.Packages),
	})
}

// issueRequests sends every queued pack request unless the bot told us its
// queue is full.
func (s *Session) issueRequests() error {
	if s.State() != StateRequesting || s.suspended {
		return nil
	}
	for len(s.queue) > 0 {
		pack := s.queue[0]
		if err := s.send(ircwire.XdccSend(s.cfg.Bot, pack)); err != nil {
			return err
		}
		s.queue = s.queue[1:]
		s.awaiting = append(s.awaiting, pack)
		s.requested++
		internal.Debug("requested pack", internal.Fields{
			internal.FieldBot:  s.cfg.Bot,
			internal.FieldPack: pack,
		})
	}
	s.setState(StateAwaitingDccEvents)
	return nil
}

// slotsLeft reports how many more offers the session can still account for.
func (s *Session) slotsLeft() int {
	return len(s.cfg.Packages) - s.outcomes - s.pending.Len()
}

func (s *Session) onDccSend(msg ircwire.Message) error {
	offer, err := ircwire.ParseDCCSend(msg.Payload)
	if err != nil {
		internal.Warn("ignoring malformed DCC SEND", internal.Fields{
			internal.FieldError: err.Error(),
			internal.FieldLine:  msg.Raw,
		})
		return nil
	}
	if s.slotsLeft() <= 0 {
		internal.Warn("ignoring unexpected DCC SEND", internal.Fields{
			internal.FieldFile: offer.Filename,
			internal.FieldBot:  msg.Sender,
		})
		return nil
	}
	if len(s.awaiting) > 0 {
		s.awaiting = s.awaiting[1:]
	}

	d := &Descriptor{
		Filename: offer.Filename,
		Path:     filepath.Join(s.cfg.Dir, offer.Filename),
		IP:       offer.IP,
		Port:     offer.Port,
		Size:     offer.Size,
	}
	d.ID = s.reg.create(d.Filename, d.Size, 0)

	fields := internal.Fields{
		internal.FieldFile: d.Filename,
		internal.FieldSize: d.Size,
		internal.FieldPeer: d.Addr(),
	}

	existing, exists := localSize(d.Path)
	switch {
	case exists && existing >= d.Size:
		s.skip(d, existing)
		internal.Info("file already complete, skipping", fields)
		return nil
	case existing > 0:
		d.Offset = existing
		if err := s.send(ircwire.DccResume(s.cfg.Bot, d.Filename, d.Port, d.Offset)); err != nil {
			return err
		}
		s.metrics.ObserveResumeRequest()
		if prev, replaced := s.pending.Put(d.Port, d); replaced {
			_ = s.reg.finish(prev.ID, StatusFailed, prev.Offset, errors.New("superseded by a new offer on the same port"))
		}
		fields[internal.FieldOffset] = d.Offset
		internal.Info("requesting resume", fields)
		return nil
	}

	internal.Info("offer received", fields)
	s.spawn(d)
	return nil
}

func (s *Session) onDccAccept(msg ircwire.Message) {
	accept, err := ircwire.ParseDCCAccept(msg.Payload)
	if err != nil {
		internal.Warn("ignoring malformed DCC ACCEPT", internal.Fields{
			internal.FieldError: err.Error(),
			internal.FieldLine:  msg.Raw,
		})
		return
	}
	d, ok := s.pending.Take(accept.Port)
	if !ok {
		internal.Warn("stale DCC ACCEPT, no resume pending on port", internal.Fields{
			internal.FieldPort: accept.Port,
			internal.FieldFile: accept.Filename,
		})
		return
	}
	if accept.Offset != d.Offset {
		err := fmt.Errorf("%w: bot accepted offset %d, requested %d", ErrTransfer, accept.Offset, d.Offset)
		_ = s.reg.finish(d.ID, StatusFailed, d.Offset, err)
		s.outcomes++
		internal.Warn("resume offset mismatch", internal.Fields{
			internal.FieldFile:   d.Filename,
			internal.FieldOffset: accept.Offset,
			internal.FieldError:  err.Error(),
		})
		return
	}
	s.spawn(d)
}

func (s *Session) onQueueFull(msg ircwire.Message) {
	if len(s.awaiting) > 0 {
		last := s.awaiting[len(s.awaiting)-1]
		s.awaiting = s.awaiting[:len(s.awaiting)-1]
		s.queue = append([]int{last}, s.queue...)
		s.requested--
	}
	s.suspended = true
	s.suspendedAt = time.Now()
	s.waitFor = s.lastSpawned
	if s.State() == StateAwaitingDccEvents && len(s.queue) > 0 {
		s.setState(StateRequesting)
	}

	fields := internal.Fields{internal.FieldBot: msg.Sender, internal.FieldMsg: "queue full"}
	if s.waitFor != nil {
		fields[internal.FieldFile] = s.waitFor.Filename
	}
	internal.Info("bot queue full, waiting before further requests", fields)
}

// checkQueueWait lifts a queue-full suspension once the transfer we were
// waiting on is complete on disk, or after the retry delay when nothing is
// in flight.
func (s *Session) checkQueueWait(now time.Time) {
	if !s.suspended {
		return
	}
	if w := s.waitFor; w != nil {
		if _, running := s.inFlight[w.ID.String()]; running && !fileComplete(w.Path, w.Size) {
			return
		}
	} else if len(s.inFlight) > 0 || now.Sub(s.suspendedAt) < s.cfg.QueueRetry {
		return
	}
	s.suspended = false
	s.waitFor = nil
	internal.Debug("resuming requests", internal.Fields{internal.FieldPack: fmt.Sprint(s.queue)})
}

func (s *Session) onAlreadyRequested(msg ircwire.Message) error {
	if len(s.awaiting) == 0 {
		return nil
	}
	pack := s.awaiting[len(s.awaiting)-1]
	if err := s.send(ircwire.XdccRemove(s.cfg.Bot, pack)); err != nil {
		return err
	}
	if err := s.send(ircwire.XdccCancel(s.cfg.Bot)); err != nil {
		return err
	}

	s.retries[pack]++
	if s.retries[pack] > s.cfg.MaxRequestRetries {
		s.awaiting = s.awaiting[:len(s.awaiting)-1]
		id := s.reg.create(fmt.Sprintf("#%d", pack), 0, 0)
		_ = s.reg.finish(id, StatusFailed, 0, fmt.Errorf("%w: bot kept reporting pack #%d as already requested", ErrTransfer, pack))
		s.outcomes++
		internal.Warn("giving up on pack", internal.Fields{
			internal.FieldBot:  msg.Sender,
			internal.FieldPack: pack,
		})
		return nil
	}

	internal.Info("duplicate request, re-requesting", internal.Fields{
		internal.FieldBot:  s.cfg.Bot,
		internal.FieldPack: pack,
	})
	return s.send(ircwire.XdccSend(s.cfg.Bot, pack))
}

func (s *Session) skip(d *Descriptor, existing int64) {
	s.progress.Start(d.ID, d.Filename, d.Size, existing)
	_ = s.reg.finish(d.ID, StatusSkipped, existing, nil)
	s.progress.Finish(d.ID, StatusSkipped, nil)
	s.outcomes++
}

func (s *Session) spawn(d *Descriptor) {
	_ = s.reg.start(d.ID, d.Offset)
	s.outcomes++
	s.inFlight[d.ID.String()] = d
	s.lastSpawned = d

	w := NewWorker(d, s.stop, WorkerOptions{
		Poll:           s.cfg.DataPoll,
		ConnectTimeout: s.cfg.ConnectTimeout,
		RecvBuffer:     s.cfg.RecvBufferBytes,
		Progress:       s.progress,
		Metrics:        s.metrics,
		Buffers:        s.buffers,
	})
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		s.results <- w.Run()
	}()
}

// collect records finished workers without blocking.
func (s *Session) collect() {
	for {
		select {
		case res := <-s.results:
			s.record(res)
		default:
			return
		}
	}
}

func (s *Session) record(res WorkerResult) {
	delete(s.inFlight, res.ID.String())
	_ = s.reg.finish(res.ID, res.Status, res.Received, res.Err)
}

func (s *Session) joinWorkers() {
	s.workers.Wait()
	s.collect()
}

func (s *Session) abandonPending() {
	for _, d := range s.pending.Drain() {
		_ = s.reg.finish(d.ID, StatusInterrupted, d.Offset, errors.New("session ended before the resume was accepted"))
	}
}

func (s *Session) watchdogs(now time.Time) error {
	if !s.welcomed && now.Sub(s.startedAt) > s.cfg.LoginTimeout {
		return s.timeout(fmt.Errorf("%w: no welcome from %s after %s", ErrProtocolTimeout, s.cfg.Server, s.cfg.LoginTimeout))
	}
	if idle := now.Sub(s.lastActivity); idle > s.cfg.InactivityTimeout {
		return s.timeout(fmt.Errorf("%w: nothing received for %s", ErrProtocolTimeout, idle.Truncate(time.Second)))
	}
	return nil
}

func (s *Session) timeout(err error) error {
	_ = s.send(ircwire.Quit(quitTimeout))
	return s.fail(err)
}

func (s *Session) complete() error {
	_ = s.send(ircwire.Quit(quitDone))
	_ = s.conn.Close()
	s.setState(StateClosing)
	internal.Info("all packs accounted for, waiting for transfers", internal.Fields{
		internal.FieldPack: len(s.cfg.Packages),
	})
	return nil
}

func (s *Session) abort() error {
	s.stop.Cancel()
	if s.conn != nil {
		if s.requested > s.outcomes {
			_ = s.send(ircwire.XdccCancel(s.cfg.Bot))
		}
		_ = s.send(ircwire.Quit(quitInterrupted))
		_ = s.conn.Close()
	}
	s.setState(StateCancelled)
	internal.Warn("interrupted, cancelling downloads", nil)
	return ErrUserCancelled
}

func (s *Session) fail(err error) error {
	s.stop.Cancel()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.setState(StateFailed)
	internal.Error("session failed", internal.Fields{
		internal.FieldServer: s.cfg.Server,
		internal.FieldError:  err.Error(),
	})
	return err
}

func (s *Session) send(line string) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if _, err := io.WriteString(s.conn, line); err != nil {
		return fmt.Errorf("%w: write: %v", ErrConnection, err)
	}
	internal.Debug("sent", internal.Fields{internal.FieldLine: strings.TrimRight(line, "\r\n")})
	return nil
}

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		internal.Debug("state change", internal.Fields{internal.FieldState: st.String()})
	}
}

func (s *Session) report() *Report {
	return &Report{
		State:     s.State(),
		Requested: len(s.cfg.Packages),
		Transfers: s.reg.snapshots(),
	}
}

// localSize reports the size of a regular file at path and whether one exists.
func localSize(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0, false
	}
	return info.Size(), true
}

func fileComplete(path string, size int64) bool {
	n, ok := localSize(path)
	return ok && n >= size
}
