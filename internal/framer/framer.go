// Package framer splits a per-connection byte stream into CR/LF-delimited
// messages (§4.3). It is modeled on the reader-side accumulation idiom of
// code.hybscloud.com/framer (hayabusa-cloud-framer/framer.go) — buffer,
// then peel off complete frames — adapted from that library's
// length-prefixed binary wire format to this spec's free-form line
// protocol, since a line-oriented exchange has no length prefix to read.
package framer

// Framer accumulates bytes fed via Feed and extracts complete lines. It
// never blocks and retains a partial trailing message across calls, per the
// spec's §4.3 contract.
type Framer struct {
	buf []byte
}

// New returns an empty Framer.
func New() *Framer {
	return &Framer{}
}

func isEOL(b byte) bool { return b == '\n' || b == '\r' }

// Feed appends chunk to the accumulator and returns every complete message
// it can now extract, in arrival order. Consecutive EOL bytes collapse, so
// empty messages are never emitted. Bytes after the final EOL in the buffer
// are retained for the next call.
func (f *Framer) Feed(chunk []byte) []string {
	f.buf = append(f.buf, chunk...)

	var messages []string
	start := 0
	i := 0
	for i < len(f.buf) {
		if isEOL(f.buf[i]) {
			if i > start {
				messages = append(messages, string(f.buf[start:i]))
			}
			// Collapse the run of EOL bytes.
			for i < len(f.buf) && isEOL(f.buf[i]) {
				i++
			}
			start = i
			continue
		}
		i++
	}

	// Retain the unterminated tail (if any) for the next Feed.
	if start > 0 {
		remaining := len(f.buf) - start
		copy(f.buf, f.buf[start:])
		f.buf = f.buf[:remaining]
	}
	return messages
}
