package delivery

import (
	"context"
	"io"
)

// ChunkSize is the pump buffer size.
const ChunkSize = 32 << 10

// Pump is a pull iterator over a reader. It holds one buffer, so a chunk
// returned by Next is only valid until the following call. Callers write
// each chunk before pulling the next, which keeps reads from running ahead
// of the client.
type Pump struct {
	r       io.Reader
	buf     []byte
	pending error
	n       int64
}

func NewPump(r io.Reader, size int) *Pump {
	if size <= 0 {
		size = ChunkSize
	}
	return &Pump{r: r, buf: make([]byte, size)}
}

// Next returns the next non-empty chunk, io.EOF at the end, the read error,
// or ctx.Err() once ctx is done.
func (p *Pump) Next(ctx context.Context) ([]byte, error) {
	if p.pending != nil {
		return nil, p.pending
	}
	for {
		if err := ctx.Err(); err != nil {
			p.pending = err
			return nil, err
		}
		n, err := p.r.Read(p.buf)
		if err != nil {
			p.pending = err
		}
		if n > 0 {
			p.n += int64(n)
			return p.buf[:n], nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// Total is the number of bytes returned so far.
func (p *Pump) Total() int64 { return p.n }
