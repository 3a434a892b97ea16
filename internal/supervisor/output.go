package supervisor

import (
	"bytes"
	"context"
	"iter"
	"sync"
)

// maxLineBytes caps a line held without a terminator. Longer runs are split.
const maxLineBytes = 64 << 10

// outputBuffer keeps the most recent lines written by a process and wakes
// readers when more arrive. It is safe for one writer and many readers.
type outputBuffer struct {
	mu      sync.Mutex
	max     int
	lines   []string
	first   uint64 // sequence number of lines[0]
	partial []byte
	afterCR bool // the last terminator was '\r'; a following '\n' is dropped
	closed  bool
	notify  chan struct{}
	readers int
}

func newOutputBuffer(maxLines int) *outputBuffer {
	if maxLines <= 0 {
		maxLines = 1
	}
	return &outputBuffer{max: maxLines, notify: make(chan struct{})}
}

// Write splits p into lines ended by "\n", "\r\n" or a bare "\r".
// Incomplete trailing data is held until the next terminator, close, or
// until it reaches maxLineBytes.
func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	added := false
	for len(p) > 0 {
		if b.afterCR {
			b.afterCR = false
			if p[0] == '\n' {
				p = p[1:]
				continue
			}
		}

		i := bytes.IndexAny(p, "\r\n")
		if i < 0 {
			i = len(p)
		}
		if room := maxLineBytes - len(b.partial); i > room {
			b.partial = append(b.partial, p[:room]...)
			b.flushLocked()
			p = p[room:]
			added = true
			continue
		}

		b.partial = append(b.partial, p[:i]...)
		if i == len(p) {
			break
		}
		b.afterCR = p[i] == '\r'
		b.flushLocked()
		p = p[i+1:]
		added = true
	}
	if added {
		b.wakeLocked()
	}
	return n, nil
}

// flushLocked ends the partial line.
func (b *outputBuffer) flushLocked() {
	b.appendLocked(string(b.partial))
	b.partial = b.partial[:0]
}

func (b *outputBuffer) appendLocked(line string) {
	b.lines = append(b.lines, line)
	if over := len(b.lines) - b.max; over > 0 {
		b.lines = b.lines[over:]
		b.first += uint64(over)
	}
}

func (b *outputBuffer) wakeLocked() {
	close(b.notify)
	b.notify = make(chan struct{})
}

// close flushes any partial line and marks the stream finished.
func (b *outputBuffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if len(b.partial) > 0 {
		b.flushLocked()
	}
	b.partial = nil
	b.closed = true
	b.wakeLocked()
}

// read returns retained lines from seq onward along with the sequence
// number to continue from.
func (b *outputBuffer) read(seq uint64) (lines []string, next uint64, wait <-chan struct{}, closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if seq < b.first {
		seq = b.first
	}
	end := b.first + uint64(len(b.lines))
	if seq < end {
		lines = append([]string(nil), b.lines[seq-b.first:]...)
	}
	return lines, end, b.notify, b.closed
}

func (b *outputBuffer) acquire() {
	b.mu.Lock()
	b.readers++
	b.mu.Unlock()
}

func (b *outputBuffer) release() {
	b.mu.Lock()
	b.readers--
	b.mu.Unlock()
}

// activeReaders returns the number of iterations in progress.
func (b *outputBuffer) activeReaders() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readers
}

// follow yields the retained lines and then follows new ones until the
// stream is closed and drained, ctx is done, or the consumer stops.
func (b *outputBuffer) follow(ctx context.Context) iter.Seq[string] {
	return func(yield func(string) bool) {
		b.acquire()
		defer b.release()

		var seq uint64
		for ctx.Err() == nil {
			lines, next, wait, closed := b.read(seq)
			for _, line := range lines {
				if !yield(line) {
					return
				}
			}
			seq = next
			if len(lines) > 0 {
				continue
			}
			if closed {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-wait:
			}
		}
	}
}
