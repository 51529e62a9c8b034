package xdcc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jgoldverg/xdccget/internal"
	"github.com/jgoldverg/xdccget/pkg/ircwire"
	"github.com/jgoldverg/xdccget/pkg/metrics"
	"github.com/jgoldverg/xdccget/pkg/pool"
)

const fileWriteBuffer = 256 * 1024

// WorkerResult is handed back to the control loop exactly once per worker.
type WorkerResult struct {
	ID       uuid.UUID
	Status   Status
	Received int64
	Err      error
}

// WorkerOptions are shared by every worker of a session.
type WorkerOptions struct {
	Poll           time.Duration
	ConnectTimeout time.Duration
	RecvBuffer     int
	Progress       ProgressSink
	Metrics        *metrics.TransferCollector
	Buffers        *pool.BufferPool
}

// Worker streams one DCC offer to disk. It only reads the cancellation signal
// and reports through the progress sink; the descriptor is its own.
type Worker struct {
	desc   *Descriptor
	cancel *Signal
	opts   WorkerOptions
}

func NewWorker(desc *Descriptor, cancel *Signal, opts WorkerOptions) *Worker {
	if opts.Poll <= 0 {
		opts.Poll = defaultDataPoll
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.Progress == nil {
		opts.Progress = NopProgress{}
	}
	if opts.Buffers == nil {
		opts.Buffers = pool.NewBufferPool(pool.DefaultBufferSize)
	}
	return &Worker{desc: desc, cancel: cancel, opts: opts}
}

func (w *Worker) Run() (res WorkerResult) {
	d := w.desc
	res = WorkerResult{ID: d.ID, Received: d.Offset}

	w.opts.Metrics.WorkerStarted()
	defer w.opts.Metrics.WorkerStopped()
	w.opts.Progress.Start(d.ID, d.Filename, d.Size, d.Offset)
	defer func() {
		w.opts.Progress.Finish(d.ID, res.Status, res.Err)
	}()

	fields := internal.Fields{
		internal.FieldTransfer: d.ID.String(),
		internal.FieldFile:     d.Filename,
		internal.FieldPeer:     d.Addr(),
		internal.FieldOffset:   d.Offset,
		internal.FieldSize:     d.Size,
	}

	if w.cancel.Cancelled() {
		res.Status = StatusInterrupted
		return res
	}

	conn, err := w.dial()
	if err != nil {
		if w.cancel.Cancelled() {
			res.Status = StatusInterrupted
			return res
		}
		res.Status = StatusFailed
		res.Err = fmt.Errorf("%w: %w: dial %s: %v", ErrTransfer, ErrConnection, d.Addr(), err)
		internal.Warn("data connection failed", withErr(fields, res.Err))
		return res
	}
	defer conn.Close()

	file, err := openDestination(d)
	if err != nil {
		res.Status = StatusFailed
		res.Err = fmt.Errorf("%w: open %s: %v", ErrTransfer, d.Path, err)
		internal.Warn("cannot open destination", withErr(fields, res.Err))
		return res
	}

	internal.Debug("transfer started", fields)
	received, status, copyErr := w.copy(conn, file)
	res.Received = received
	res.Status = status

	if closeErr := file.Close(); closeErr != nil && copyErr == nil && status == StatusCompleted {
		res.Status = StatusFailed
		copyErr = fmt.Errorf("close %s: %v", d.Path, closeErr)
	}
	if copyErr != nil {
		res.Err = fmt.Errorf("%w: %v", ErrTransfer, copyErr)
		internal.Warn("transfer failed", withErr(fields, res.Err))
		return res
	}

	switch res.Status {
	case StatusInterrupted:
		internal.Info("transfer interrupted, partial file kept", internal.Fields{
			internal.FieldFile: d.Filename,
			internal.FieldSize: received,
		})
	default:
		internal.Debug("transfer finished", fields)
	}
	return res
}

func (w *Worker) dial() (net.Conn, error) {
	ctx, cancel := w.cancel.Context(context.Background())
	defer cancel()
	dialer := net.Dialer{
		Timeout: w.opts.ConnectTimeout,
		Control: socketControl(w.opts.RecvBuffer),
	}
	return dialer.DialContext(ctx, "tcp", w.desc.Addr())
}

// copy reads until the running total equals the expected size. A peer close
// before that point is a failure; the bytes already written stay on disk.
func (w *Worker) copy(conn net.Conn, file *os.File) (int64, Status, error) {
	d := w.desc
	received := d.Offset
	out := bufio.NewWriterSize(file, fileWriteBuffer)
	buf := w.opts.Buffers.GetBuffer()
	defer w.opts.Buffers.PutBuffer(buf)

	for received < d.Size {
		if w.cancel.Cancelled() {
			if err := out.Flush(); err != nil {
				return received, StatusFailed, fmt.Errorf("flush %s: %v", d.Path, err)
			}
			return received, StatusInterrupted, nil
		}

		_ = conn.SetReadDeadline(time.Now().Add(w.opts.Poll))
		n, err := conn.Read(buf)
		if n > 0 {
			w.opts.Metrics.ObserveReceive(n)
			chunk := buf[:n]
			if remaining := d.Size - received; int64(n) > remaining {
				chunk = chunk[:remaining]
			}
			if _, werr := out.Write(chunk); werr != nil {
				return received, StatusFailed, fmt.Errorf("write %s: %v", d.Path, werr)
			}
			received += int64(len(chunk))
			w.opts.Metrics.ObserveDiskWrite(len(chunk))
			w.opts.Progress.Update(d.ID, received)
		}
		if err == nil || received >= d.Size {
			continue
		}
		if ircwire.IsTimeout(err) {
			continue
		}
		_ = out.Flush()
		if errors.Is(err, io.EOF) {
			return received, StatusFailed, fmt.Errorf("peer closed after %d of %d bytes", received, d.Size)
		}
		return received, StatusFailed, fmt.Errorf("%w: read: %v", ErrConnection, err)
	}

	if err := out.Flush(); err != nil {
		return received, StatusFailed, fmt.Errorf("flush %s: %v", d.Path, err)
	}
	return received, StatusCompleted, nil
}

// openDestination creates the file for a fresh transfer and appends for a
// resumed one. It never truncates a partial download.
func openDestination(d *Descriptor) (*os.File, error) {
	if d.Offset > 0 {
		return os.OpenFile(d.Path, os.O_WRONLY|os.O_APPEND, 0o644)
	}
	return os.OpenFile(d.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}

func withErr(fields internal.Fields, err error) internal.Fields {
	out := make(internal.Fields, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[internal.FieldError] = err.Error()
	return out
}
