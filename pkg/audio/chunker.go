package audio

// Chunker regroups a byte stream of mono PCM into fixed-size chunks.
type Chunker struct {
	size int
	buf  []byte
}

// NewChunker returns a Chunker emitting chunks of chunkSize samples.
func NewChunker(chunkSize int) *Chunker {
	return &Chunker{size: 2 * chunkSize}
}

// Write appends p to the pending bytes. It never fails.
func (c *Chunker) Write(p []byte) (int, error) {
	c.buf = append(c.buf, p...)
	return len(p), nil
}

// Next returns the oldest complete chunk, if any. The returned slice is owned
// by the caller.
func (c *Chunker) Next() ([]byte, bool) {
	if len(c.buf) < c.size {
		return nil, false
	}
	chunk := make([]byte, c.size)
	copy(chunk, c.buf)
	n := copy(c.buf, c.buf[c.size:])
	c.buf = c.buf[:n]
	return chunk, true
}

// Buffered returns the number of bytes waiting for a full chunk.
func (c *Chunker) Buffered() int { return len(c.buf) }
