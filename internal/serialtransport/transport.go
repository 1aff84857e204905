// Package serialtransport owns the physical connection to a WeatherLink
// datalogger and serializes every exchange across it. The underlying
// protocol is half-duplex: only one command may be in flight at a time,
// and a STOP/WWR/START bracket must execute as a single atomic unit. Where
// the reference implementation reached for a reentrant lock plus an
// executor thread, this package instead runs one dedicated goroutine that
// drains a channel of submitted jobs one at a time -- a single-flight gate
// rather than a worker pool, since WeatherLink only ever has one
// conversation in flight regardless of concurrency available to the host.
package serialtransport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/valyala/bytebufferpool"

	serial "github.com/tarm/goserial"

	"github.com/chrissnell/weatherlink-core/internal/log"
	"github.com/chrissnell/weatherlink-core/internal/wireproto"
)

var readPool bytebufferpool.Pool

const (
	defaultReadTimeout = 2 * time.Second
	wakeLineFeeds       = 3
	wakeLineFeedDelay   = 1200 * time.Millisecond
)

// Transport is a serialized, reopenable connection to the station. All
// exported I/O methods are dispatched through a single worker goroutine, so
// two goroutines calling Send concurrently never interleave bytes on the
// wire.
type Transport struct {
	device string
	baud   int

	jobs   chan job
	done   chan struct{}
	rwc    io.ReadWriteCloser
	closed bool
}

type job struct {
	fn   func() (any, error)
	resp chan result
}

type result struct {
	val any
	err error
}

// New creates a Transport bound to a serial device; the port is opened
// lazily on the first Open call.
func New(device string, baud int) *Transport {
	t := &Transport{
		device: device,
		baud:   baud,
		jobs:   make(chan job),
		done:   make(chan struct{}),
	}
	go t.run()
	return t
}

// NewWithConn builds a Transport already bound to rwc, skipping the real
// serial.OpenPort call. Used by tests and the simulator harness to drive
// the driver/poller/archivesync stack against an in-memory station
// double instead of a physical port.
func NewWithConn(rwc io.ReadWriteCloser) *Transport {
	t := &Transport{
		jobs: make(chan job),
		done: make(chan struct{}),
		rwc:  rwc,
	}
	go t.run()
	return t
}

func (t *Transport) run() {
	for {
		select {
		case j := <-t.jobs:
			v, err := j.fn()
			j.resp <- result{val: v, err: err}
		case <-t.done:
			return
		}
	}
}

// submit runs fn on the single I/O goroutine and blocks for its result,
// honoring ctx cancellation while waiting.
func (t *Transport) submit(ctx context.Context, fn func() (any, error)) (any, error) {
	j := job{fn: fn, resp: make(chan result, 1)}
	select {
	case t.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, fmt.Errorf("serialtransport: transport closed")
	}
	select {
	case r := <-j.resp:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Open opens the serial port if it is not already open. Idempotent.
func (t *Transport) Open(ctx context.Context) error {
	_, err := t.submit(ctx, func() (any, error) {
		if t.rwc != nil {
			return nil, nil
		}
		cfg := &serial.Config{Name: t.device, Baud: t.baud, ReadTimeout: defaultReadTimeout}
		rwc, err := serial.OpenPort(cfg)
		if err != nil {
			return nil, fmt.Errorf("serialtransport: opening %s: %w", t.device, err)
		}
		t.rwc = rwc
		t.closed = false
		log.Infow("serial port opened", "device", t.device, "baud", t.baud)
		return nil, nil
	})
	return err
}

// Close closes the underlying port if open. Idempotent.
func (t *Transport) Close(ctx context.Context) error {
	_, err := t.submit(ctx, func() (any, error) {
		if t.rwc == nil || t.closed {
			return nil, nil
		}
		err := t.rwc.Close()
		t.closed = true
		t.rwc = nil
		return nil, err
	})
	return err
}

// Shutdown stops the transport's worker goroutine. Call after Close.
func (t *Transport) Shutdown() {
	close(t.done)
}

func (t *Transport) write(p []byte) (int, error) {
	if t.rwc == nil {
		return 0, fmt.Errorf("serialtransport: port not open")
	}
	return t.rwc.Write(p)
}

// readExactly reads n bytes using a pooled scratch buffer for the
// io.ReadFull target -- every LOOP packet and archive record read is a
// small fixed-size frame, and the pool avoids a fresh allocation for each
// one. The returned slice is a fresh copy the caller owns; the scratch
// buffer goes back to the pool before returning.
func (t *Transport) readExactly(n int) ([]byte, error) {
	if t.rwc == nil {
		return nil, fmt.Errorf("serialtransport: port not open")
	}
	scratch := readPool.Get()
	defer readPool.Put(scratch)
	scratch.B = scratch.B[:0]
	scratch.B = append(scratch.B, make([]byte, n)...)
	if _, err := io.ReadFull(t.rwc, scratch.B); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, scratch.B)
	return out, nil
}

// Send writes raw bytes to the port.
func (t *Transport) Send(ctx context.Context, data []byte) error {
	_, err := t.submit(ctx, func() (any, error) {
		_, err := t.write(data)
		return nil, err
	})
	return err
}

// WaitForACK sends data and blocks for a single response byte, returning an
// error unless it is ACK (0x06).
func (t *Transport) WaitForACK(ctx context.Context, data []byte) error {
	_, err := t.submit(ctx, func() (any, error) {
		if _, err := t.write(data); err != nil {
			return nil, err
		}
		resp, err := t.readExactly(1)
		if err != nil {
			return nil, fmt.Errorf("serialtransport: reading ACK: %w", err)
		}
		switch resp[0] {
		case wireproto.ACK:
			return nil, nil
		case wireproto.NAK, wireproto.NAKWireAlias:
			return nil, fmt.Errorf("serialtransport: station NAKed command")
		case wireproto.CAN:
			return nil, fmt.Errorf("serialtransport: station cancelled command (CRC rejected)")
		default:
			return nil, fmt.Errorf("serialtransport: unexpected response byte 0x%02X", resp[0])
		}
	})
	return err
}

// Receive reads exactly n bytes from the port.
func (t *Transport) Receive(ctx context.Context, n int) ([]byte, error) {
	v, err := t.submit(ctx, func() (any, error) {
		return t.readExactly(n)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Flush drains and discards any bytes currently buffered on the port,
// using a short idle read so it never blocks indefinitely.
func (t *Transport) Flush(ctx context.Context) error {
	_, err := t.submit(ctx, func() (any, error) {
		if t.rwc == nil {
			return nil, nil
		}
		buf := make([]byte, 256)
		for {
			n, err := t.rwc.Read(buf)
			if n == 0 || err != nil {
				return nil, nil
			}
		}
	})
	return err
}

// Wake sends the line-feed wakeup sequence (wakeLineFeeds line feeds,
// wakeLineFeedDelay apart) and then waits for one read; the bytes read are
// not checked against the console's "\n\r" reply.
func (t *Transport) Wake(ctx context.Context) error {
	_, err := t.submit(ctx, func() (any, error) {
		for i := 0; i < wakeLineFeeds; i++ {
			if _, err := t.write([]byte{'\n'}); err != nil {
				return nil, fmt.Errorf("serialtransport: wake write: %w", err)
			}
			time.Sleep(wakeLineFeedDelay)
		}
		buf := make([]byte, 1024)
		if t.rwc == nil {
			return nil, fmt.Errorf("serialtransport: port not open")
		}
		if _, err := t.rwc.Read(buf); err != nil {
			return nil, fmt.Errorf("serialtransport: wake read: %w", err)
		}
		return nil, nil
	})
	return err
}

// Atomic runs fn with exclusive access to the single I/O goroutine, so a
// multi-command sequence (e.g. STOP, WWR, START) executes as one unit with
// no other caller's command interleaved on the wire. fn receives an IO
// handle bound directly to the port rather than going back through submit,
// since the calling goroutine already holds the gate.
func (t *Transport) Atomic(ctx context.Context, fn func(io IO) error) error {
	_, err := t.submit(ctx, func() (any, error) {
		return nil, fn(directIO{t})
	})
	return err
}

// IO is the raw, already-serialized transport surface exposed inside an
// Atomic block.
type IO interface {
	Send([]byte) error
	WaitForACK([]byte) error
	Receive(n int) ([]byte, error)
}

type directIO struct{ t *Transport }

func (d directIO) Send(data []byte) error {
	_, err := d.t.write(data)
	return err
}

func (d directIO) WaitForACK(data []byte) error {
	if _, err := d.t.write(data); err != nil {
		return err
	}
	resp, err := d.t.readExactly(1)
	if err != nil {
		return fmt.Errorf("serialtransport: reading ACK: %w", err)
	}
	if resp[0] != wireproto.ACK {
		return fmt.Errorf("serialtransport: unexpected response byte 0x%02X", resp[0])
	}
	return nil
}

func (d directIO) Receive(n int) ([]byte, error) {
	return d.t.readExactly(n)
}

// NewPacketScanner builds a bufio.Scanner that frames fixed-size LOOP
// packets of packetSize bytes out of a raw station stream, searching for
// the leading SOH byte the way the reference scanner searches for "LOO".
func NewPacketScanner(r io.Reader, packetSize int) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, packetSize), packetSize)
	sc.Split(func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		for i := 0; i <= len(data)-1; i++ {
			if data[i] != wireproto.SOH {
				continue
			}
			if len(data) >= i+packetSize {
				return i + packetSize, data[i : i+packetSize], nil
			}
			return 0, nil, nil
		}
		if atEOF && len(data) > 0 {
			return len(data), nil, io.EOF
		}
		return 0, nil, nil
	})
	return sc
}
