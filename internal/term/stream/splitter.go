// Package stream fans a single byte source out to multiple readers.
//
// A terminal session has one output stream but at least two consumers:
// the live display and the programmatic capture that watches for
// lifecycle markers. The splitter gives each consumer its own buffered
// reader so a slow display can never starve the capture (or vice
// versa). Every reader observes every byte the source produced, in
// order, exactly once.
package stream

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// ErrInterrupted is returned by Read when Interrupt wakes a blocked
// read. The reader stays usable; later reads proceed normally.
var ErrInterrupted = errors.New("stream: read interrupted")

// Reader is one independently-paced copy of the source stream.
// It implements io.Reader; Read blocks until data arrives or the
// source ends.
type Reader struct {
	mu   sync.Mutex
	cond *sync.Cond
	buf  bytes.Buffer
	err  error
	intr bool
}

func newReader() *Reader {
	r := &Reader{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Read returns buffered bytes, blocking while none are available.
// Buffered data is always drained before the source error or an
// interrupt is reported.
func (r *Reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.buf.Len() == 0 && r.err == nil && !r.intr {
		r.cond.Wait()
	}
	if r.buf.Len() > 0 {
		return r.buf.Read(p)
	}
	if r.err != nil {
		return 0, r.err
	}
	r.intr = false
	return 0, ErrInterrupted
}

// Interrupt wakes a blocked Read with ErrInterrupted. If no read is
// blocked, the next read with an empty buffer reports it instead. The
// consumer that owns the reader must also own the interrupt, or a
// stale interrupt can fire on an unrelated read.
func (r *Reader) Interrupt() {
	r.mu.Lock()
	r.intr = true
	r.mu.Unlock()
	r.cond.Broadcast()
}

func (r *Reader) push(p []byte) {
	r.mu.Lock()
	r.buf.Write(p)
	r.mu.Unlock()
	r.cond.Signal()
}

func (r *Reader) close(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.cond.Broadcast()
}

// Splitter copies one source stream to a fixed set of readers.
type Splitter struct {
	readers []*Reader
}

// NewSplitter starts pumping src into n independent readers. The pump
// goroutine exits when src returns an error; each reader then reports
// that error once its buffer drains.
func NewSplitter(src io.Reader, n int) *Splitter {
	s := &Splitter{readers: make([]*Reader, n)}
	for i := range s.readers {
		s.readers[i] = newReader()
	}
	go s.pump(src)
	return s
}

// Readers returns the split outputs. The slice is fixed at
// construction; each entry belongs to exactly one consumer.
func (s *Splitter) Readers() []*Reader {
	return s.readers
}

func (s *Splitter) pump(src io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			// bytes.Buffer.Write copies, so sharing buf is safe.
			for _, r := range s.readers {
				r.push(buf[:n])
			}
		}
		if err != nil {
			for _, r := range s.readers {
				r.close(err)
			}
			return
		}
	}
}
