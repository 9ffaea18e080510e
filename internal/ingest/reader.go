// Package ingest reads laboratory exports into datasets and writes GLASS
// output files.
package ingest

// reader.go provides streaming readers that clean CSV input without
// buffering the whole upload:
//
//   - UTF8Sanitizer: replaces invalid UTF-8 bytes with '?'
//   - BOMSkipper: drops a leading UTF-8 BOM added by Excel on Windows
//   - LimitedReader: counts bytes and fails with ErrFileTooLarge past a cap
//
// Wrap applies all three in the order they must run.

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ErrFileTooLarge is returned once more than the configured number of bytes
// has been read.
var ErrFileTooLarge = errors.New("file too large")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// UTF8Sanitizer replaces invalid UTF-8 bytes on the fly. A multi-byte rune
// split across two reads is carried over to the next call.
type UTF8Sanitizer struct {
	reader io.Reader

	// bytes of an incomplete trailing rune from the previous read
	carry []byte
}

// NewUTF8Sanitizer wraps r.
func NewUTF8Sanitizer(r io.Reader) *UTF8Sanitizer {
	return &UTF8Sanitizer{reader: r, carry: make([]byte, 0, utf8.UTFMax)}
}

// Read implements io.Reader.
func (s *UTF8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := copy(p, s.carry)
	s.carry = s.carry[:copy(s.carry, s.carry[offset:])]
	if len(s.carry) > 0 {
		return offset, nil
	}

	n, err := s.reader.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}

	data := p[:n]
	if asciiOnly(data) {
		return n, err
	}
	return s.sanitize(data, err != nil), err
}

// sanitize rewrites data in place and returns the number of bytes to emit.
// Unless final is set, an incomplete rune at the end is kept for later.
func (s *UTF8Sanitizer) sanitize(data []byte, final bool) int {
	w := 0
	for r := 0; r < len(data); {
		if !final && !utf8.FullRune(data[r:]) {
			s.carry = append(s.carry, data[r:]...)
			return w
		}
		ru, size := utf8.DecodeRune(data[r:])
		if ru == utf8.RuneError && size == 1 {
			data[w] = '?'
			w++
			r++
			continue
		}
		copy(data[w:], data[r:r+size])
		w += size
		r += size
	}
	return w
}

func asciiOnly(data []byte) bool {
	for _, b := range data {
		if b >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// BOMSkipper drops a UTF-8 byte order mark at the start of the stream.
type BOMSkipper struct {
	br      *bufio.Reader
	checked bool
}

// NewBOMSkipper wraps r.
func NewBOMSkipper(r io.Reader) *BOMSkipper {
	return &BOMSkipper{br: bufio.NewReader(r)}
}

// Read implements io.Reader.
func (b *BOMSkipper) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		head, err := b.br.Peek(len(utf8BOM))
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if bytes.Equal(head, utf8BOM) {
			if _, err := b.br.Discard(len(utf8BOM)); err != nil {
				return 0, err
			}
		}
	}
	return b.br.Read(p)
}

// LimitedReader counts bytes read and fails once Limit is exceeded.
// A Limit of zero or less disables the cap.
type LimitedReader struct {
	reader    io.Reader
	Limit     int64
	BytesRead int64
}

// NewLimitedReader wraps r with a byte cap.
func NewLimitedReader(r io.Reader, limit int64) *LimitedReader {
	return &LimitedReader{reader: r, Limit: limit}
}

// Read implements io.Reader.
func (l *LimitedReader) Read(p []byte) (int, error) {
	n, err := l.reader.Read(p)
	l.BytesRead += int64(n)
	if l.Limit > 0 && l.BytesRead > l.Limit {
		return n, fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, l.Limit)
	}
	return n, err
}

// Wrap applies the size cap to the raw bytes, then BOM removal and UTF-8
// sanitizing.
func Wrap(r io.Reader, limit int64) io.Reader {
	return NewUTF8Sanitizer(NewBOMSkipper(NewLimitedReader(r, limit)))
}
