// Package frame splits a continuous byte stream into newline-terminated
// messages.
//
// A line is everything up to, and excluding, the first '\n'.  Lines may
// arrive split across any number of reads and several lines may arrive
// in one read; both cases yield the same ordered sequence of lines.  A
// buffer that grows past the maximum without a newline is rejected with
// [errors.ErrMalformedFrame] so a silent peer cannot grow memory
// without bound.
package frame

import (
	"bytes"
	"io"

	ncerr "rollcall/internal/errors"
)

// MaxLineLength bounds the bytes buffered while waiting for a newline.
const MaxLineLength = 1024

// ErrNeedMoreData is returned by [TryExtractLine] when buf holds no
// complete line yet.
var ErrNeedMoreData = ncerr.New("need more data")

// TryExtractLine returns the first complete line in buf and whatever
// follows its terminator.  When no newline is present it returns
// ErrNeedMoreData, or ErrMalformedFrame once buf holds max bytes.  A
// line plus its terminator never exceeds max bytes.
func TryExtractLine(buf []byte, max int) (line, rest []byte, err error) {
	if max <= 0 {
		max = MaxLineLength
	}
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		if len(buf) >= max {
			return nil, buf, ncerr.ErrMalformedFrame
		}
		return nil, buf, ErrNeedMoreData
	}
	if i >= max {
		return nil, buf, ncerr.ErrMalformedFrame
	}
	return buf[:i], buf[i+1:], nil
}

// Framer accumulates bytes fed from a transport and yields complete
// lines in arrival order.  It is not safe for concurrent use; each
// connection owns its own Framer.
type Framer struct {
	max int
	buf []byte
}

// NewFramer returns a Framer that rejects lines longer than max bytes
// (MaxLineLength when max <= 0).
func NewFramer(max int) *Framer {
	if max <= 0 {
		max = MaxLineLength
	}
	return &Framer{max: max, buf: make([]byte, 0, 256)}
}

// Feed appends p to the pending buffer.  It fails with
// ErrMalformedFrame when the buffer holds no terminator and has reached
// the limit.  Oversized lines behind a complete one are reported by
// Next, after the complete lines have been drained.
func (f *Framer) Feed(p []byte) error {
	f.buf = append(f.buf, p...)
	if len(f.buf) >= f.max && bytes.IndexByte(f.buf, '\n') < 0 {
		return ncerr.ErrMalformedFrame
	}
	return nil
}

// Next pops the next complete line.  ok is false when only a partial
// line (or nothing) is buffered.
func (f *Framer) Next() (line string, ok bool, err error) {
	l, rest, err := TryExtractLine(f.buf, f.max)
	switch {
	case err == ErrNeedMoreData:
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	line = string(l)
	// Shift the remainder down so the backing array is reused.
	n := copy(f.buf, rest)
	f.buf = f.buf[:n]
	return line, true, nil
}

// Buffered returns the number of bytes waiting for a terminator.
func (f *Framer) Buffered() int { return len(f.buf) }

// Reader reads lines from an underlying byte stream through a Framer.
type Reader struct {
	r       io.Reader
	framer  *Framer
	readBuf []byte
}

// NewReader wraps r.  Reads are issued in chunks of at most max bytes.
func NewReader(r io.Reader, max int) *Reader {
	f := NewFramer(max)
	return &Reader{r: r, framer: f, readBuf: make([]byte, f.max)}
}

// ReadLine blocks until a complete line is available, the stream fails
// or the frame limit is exceeded.  A stream that ends mid-line returns
// io.ErrUnexpectedEOF; a clean end between lines returns io.EOF.
func (r *Reader) ReadLine() (string, error) {
	for {
		line, ok, err := r.framer.Next()
		if err != nil {
			return "", err
		}
		if ok {
			return line, nil
		}
		n, err := r.r.Read(r.readBuf)
		if n > 0 {
			if ferr := r.framer.Feed(r.readBuf[:n]); ferr != nil {
				return "", ferr
			}
			continue
		}
		if err != nil {
			if err == io.EOF && r.framer.Buffered() > 0 {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
	}
}
