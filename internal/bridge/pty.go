package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/gattc/internal/groutine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// pollTimeoutMs bounds how long the pump loops sleep before rechecking ctx.
const pollTimeoutMs = 50

// port is the master side of a raw pseudo-terminal. Bytes written by the
// slave's user land in inbound; bytes queued in outbound are written to the
// slave. Both rings drop the overflow and count it.
type port struct {
	logger *logrus.Logger
	master *os.File
	slave  *os.File
	name   string

	inbound  *ringbuffer.RingBuffer
	outbound *ringbuffer.RingBuffer
	ready    chan struct{} // signalled when inbound gains data
	queued   chan struct{} // signalled when outbound gains data

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	droppedIn  atomic.Uint64
	droppedOut atomic.Uint64
	bytesIn    atomic.Uint64
	bytesOut   atomic.Uint64
}

func openPort(readCap, writeCap int, logger *logrus.Logger) (*port, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("open pty: %w", err)
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, fmt.Errorf("set %s to raw mode: %w", slave.Name(), err)
	}
	if err := unix.SetNonblock(int(master.Fd()), true); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, fmt.Errorf("set pty master nonblocking: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &port{
		logger:   logger,
		master:   master,
		slave:    slave,
		name:     slave.Name(),
		inbound:  ringbuffer.New(readCap),
		outbound: ringbuffer.New(writeCap),
		ready:    make(chan struct{}, 1),
		queued:   make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}

	p.wg.Add(2)
	groutine.Go(ctx, "pty-read-loop", func(context.Context) { p.readLoop() })
	groutine.Go(ctx, "pty-write-loop", func(context.Context) { p.writeLoop() })
	return p, nil
}

func (p *port) readLoop() {
	defer p.wg.Done()

	fds := []unix.PollFd{{Fd: int32(p.master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, 4096)
	for p.ctx.Err() == nil {
		n, err := unix.Poll(fds, pollTimeoutMs)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.logger.WithError(err).Warn("pty read poll failed")
			continue
		}
		if n == 0 {
			continue
		}

		n, err = p.master.Read(buf)
		if n > 0 {
			written, _ := p.inbound.Write(buf[:n])
			if written < n {
				p.droppedIn.Add(uint64(n - written))
				p.logger.WithField("dropped", n-written).Warn("pty inbound buffer full")
			}
			p.bytesIn.Add(uint64(written))
			select {
			case p.ready <- struct{}{}:
			default:
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
			case errors.Is(err, io.EOF), errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF):
				return
			default:
				p.logger.WithError(err).Warn("pty read loop stopped")
				return
			}
		}
	}
}

func (p *port) writeLoop() {
	defer p.wg.Done()

	fds := []unix.PollFd{{Fd: int32(p.master.Fd()), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)
	for p.ctx.Err() == nil {
		n, err := p.outbound.TryRead(buf)
		if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
			select {
			case <-p.ctx.Done():
				return
			case <-p.queued:
			}
			continue
		}

		for off := 0; off < n; {
			w, err := p.master.Write(buf[off:n])
			off += w
			p.bytesOut.Add(uint64(w))
			if err == nil {
				continue
			}
			switch {
			case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
				if _, perr := unix.Poll(fds, pollTimeoutMs); perr != nil && !errors.Is(perr, syscall.EINTR) {
					p.logger.WithError(perr).Warn("pty write poll failed")
				}
				if p.ctx.Err() != nil {
					return
				}
			case errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF):
				return
			default:
				p.logger.WithError(err).Warn("pty write loop stopped")
				return
			}
		}
	}
}

// Write queues data for the slave. It never blocks; the return value is
// how much was queued.
func (p *port) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}
	n, err := p.outbound.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) && !errors.Is(err, ringbuffer.ErrTooMuchDataToWrite) {
		return n, err
	}
	if n > 0 {
		select {
		case p.queued <- struct{}{}:
		default:
		}
	}
	if n < len(data) {
		p.droppedOut.Add(uint64(len(data) - n))
		p.logger.WithField("dropped", len(data)-n).Warn("pty outbound buffer full")
	}
	return n, nil
}

// Read drains up to len(b) bytes the slave has written. It returns 0, nil
// when nothing is buffered.
func (p *port) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	n, err := p.inbound.TryRead(b)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return n, err
	}
	return n, nil
}

func (p *port) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	p.wg.Wait()

	return errors.Join(p.master.Close(), p.slave.Close())
}
