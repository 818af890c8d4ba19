package terminal

import "sync"

// Buffer is a thread-safe ring buffer for pending terminal output.
// When full it overwrites the oldest bytes; interactive consumers care
// about recent output, not a complete transcript.
type Buffer struct {
	mu   sync.Mutex
	data []byte
	size int
	head int
	tail int
}

// NewBuffer creates a ring buffer holding up to size-1 pending bytes
func NewBuffer(size int) *Buffer {
	if size < 2 {
		size = 2
	}
	return &Buffer{
		data: make([]byte, size),
		size: size,
	}
}

// Write appends data, overwriting the oldest bytes when full
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// A write larger than the buffer can only ever keep its tail
	if len(p) >= b.size {
		p = p[len(p)-(b.size-1):]
	}

	for _, c := range p {
		b.data[b.tail] = c
		b.tail = (b.tail + 1) % b.size

		// Buffer full, drop the oldest byte
		if b.tail == b.head {
			b.head = (b.head + 1) % b.size
		}
	}

	return len(p), nil
}

// ReadAll drains and returns all pending bytes, empty when none
func (b *Buffer) ReadAll() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.head == b.tail {
		return []byte{}
	}

	var result []byte
	if b.tail > b.head {
		result = make([]byte, b.tail-b.head)
		copy(result, b.data[b.head:b.tail])
	} else {
		// Wrapped around
		firstPart := b.data[b.head:]
		secondPart := b.data[:b.tail]
		result = make([]byte, len(firstPart)+len(secondPart))
		copy(result, firstPart)
		copy(result[len(firstPart):], secondPart)
	}

	b.head = b.tail

	return result
}

// Len returns the number of pending bytes
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tail >= b.head {
		return b.tail - b.head
	}
	return b.size - b.head + b.tail
}
