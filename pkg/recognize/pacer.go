package recognize

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
)

// SendFunc writes one binary audio frame.
type SendFunc func(ctx context.Context, frame []byte) error

// Pacer uploads an audio source as a sequence of binary frames of at most
// [ChunkSize] bytes, followed by one empty frame marking the end of audio.
//
// The caller decides the cadence: it calls [Pacer.Tick] once per interval
// until Tick reports that the upload is done. A Pacer cannot be rewound.
type Pacer struct {
	src       *bufio.Reader
	chunkSize int
	buf       []byte

	offset int64
	chunks int
	done   bool
}

// NewPacer returns a Pacer reading from src. chunkSize <= 0 means [ChunkSize].
func NewPacer(src io.Reader, chunkSize int) *Pacer {
	if chunkSize <= 0 {
		chunkSize = ChunkSize
	}
	return &Pacer{
		// One byte of look-ahead tells whether the next chunk is the last.
		src:       bufio.NewReaderSize(src, chunkSize+1),
		chunkSize: chunkSize,
		buf:       make([]byte, chunkSize),
	}
}

// Offset returns the number of audio bytes sent so far.
func (p *Pacer) Offset() int64 { return p.offset }

// Chunks returns the number of non-empty audio frames sent so far.
func (p *Pacer) Chunks() int { return p.chunks }

// Done reports whether the end-of-audio marker was sent or the upload failed.
func (p *Pacer) Done() bool { return p.done }

// Tick sends the next chunk. When at most one chunk of audio remains it sends
// the remainder and the empty marker frame and returns done == true. Any
// error stops the pacer for good; there are no retries.
func (p *Pacer) Tick(ctx context.Context, send SendFunc) (done bool, err error) {
	if p.done {
		return true, nil
	}

	peek, err := p.src.Peek(p.chunkSize + 1)
	if err != nil && !errors.Is(err, io.EOF) {
		p.done = true
		return true, &sourceError{err: err}
	}

	if len(peek) <= p.chunkSize {
		n := copy(p.buf, peek)
		if n > 0 {
			if err := p.send(ctx, send, p.buf[:n]); err != nil {
				return true, err
			}
		}
		p.done = true
		return true, send(ctx, []byte{})
	}

	n, _ := io.ReadFull(p.src, p.buf)
	if err := p.send(ctx, send, p.buf[:n]); err != nil {
		return true, err
	}
	return false, nil
}

func (p *Pacer) send(ctx context.Context, send SendFunc, chunk []byte) error {
	if err := send(ctx, chunk); err != nil {
		p.done = true
		return err
	}
	p.offset += int64(len(chunk))
	p.chunks++
	return nil
}

// sourceError marks a failure to read the audio source, as opposed to a
// failure to send.
type sourceError struct {
	err error
}

func (e *sourceError) Error() string { return fmt.Sprintf("read audio: %v", e.err) }

func (e *sourceError) Unwrap() error { return e.err }
