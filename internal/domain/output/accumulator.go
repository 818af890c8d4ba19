package output

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"

	"github.com/substratehq/substrate/internal/shared/errdefs"
)

// DefaultMaxSize bounds accumulated output when no limit is given (10 MiB)
const DefaultMaxSize = 10 * 1024 * 1024

// ErrFinalized is returned when an accumulator is used after finalization
var ErrFinalized = errors.New("accumulator already finalized")

// Accumulator collects command output chunks up to a configured ceiling.
// It is not safe for concurrent use; each command capture owns one instance.
type Accumulator struct {
	chunks    [][]byte
	total     int
	maxSize   int
	finalized bool
}

// New creates an accumulator with the given ceiling in bytes.
// A non-positive ceiling falls back to DefaultMaxSize.
func New(maxSize int) *Accumulator {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Accumulator{maxSize: maxSize}
}

// Default creates an accumulator with the default 10 MiB ceiling
func Default() *Accumulator {
	return New(DefaultMaxSize)
}

// Push appends a chunk. The accumulator takes ownership of the slice; the
// caller must not reuse it. A chunk that would push the total past the
// ceiling is rejected whole and the accumulator keeps its prior state.
func (a *Accumulator) Push(chunk []byte) error {
	if a.finalized {
		return ErrFinalized
	}
	if len(chunk) == 0 {
		return nil
	}
	if a.total+len(chunk) > a.maxSize {
		return errdefs.OutputTooLarge(a.maxSize, a.total+len(chunk))
	}

	a.chunks = append(a.chunks, chunk)
	a.total += len(chunk)
	return nil
}

// Len returns the total accumulated size in bytes
func (a *Accumulator) Len() int {
	return a.total
}

// MaxSize returns the configured ceiling in bytes
func (a *Accumulator) MaxSize() int {
	return a.maxSize
}

// ChunkCount returns the number of stored chunks
func (a *Accumulator) ChunkCount() int {
	return len(a.chunks)
}

// Finalize consumes the accumulator and returns the output as one contiguous
// slice: a single allocation sized to the total and one copy pass. When
// exactly one chunk was pushed it is returned as-is without copying.
func (a *Accumulator) Finalize() ([]byte, error) {
	if a.finalized {
		return nil, ErrFinalized
	}
	a.finalized = true

	switch len(a.chunks) {
	case 0:
		return []byte{}, nil
	case 1:
		single := a.chunks[0]
		a.chunks = nil
		return single, nil
	}

	out := make([]byte, 0, a.total)
	for _, chunk := range a.chunks {
		out = append(out, chunk...)
	}
	a.chunks = nil
	return out, nil
}

// FinalizeText consumes the accumulator and returns the output as a UTF-8
// string. Non-UTF-8 output is rejected with the detected charset in the
// error details.
func (a *Accumulator) FinalizeText() (string, error) {
	data, err := a.Finalize()
	if err != nil {
		return "", err
	}
	return Text(data)
}

// Text converts captured bytes to a UTF-8 string, rejecting non-UTF-8
// data with the detected charset in the error details.
func Text(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errdefs.InvalidEncoding(detectCharset(data))
	}
	return string(data), nil
}

// detectCharset guesses the charset of non-UTF-8 bytes
func detectCharset(data []byte) string {
	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(data)
	if err != nil || result == nil {
		return "unknown"
	}
	return strings.ToLower(result.Charset)
}
