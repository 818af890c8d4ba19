// Package output provides bounded-memory accumulation of command output.
//
// Commands can emit output of unbounded size; the accumulator captures it as
// a sequence of independent chunks with an incrementally tracked total, so
// growth stays linear and a configurable ceiling triggers backpressure
// instead of unbounded allocation.
//
// Key Components:
//   - Accumulator: chunked byte collector with a hard size ceiling
//   - One-shot finalization into a contiguous byte slice or UTF-8 string
//   - Charset detection for diagnosing non-UTF-8 output
//
// Guarantees:
//   - Push is O(1) in the size check; a rejected chunk is fully discarded
//   - Finalize is O(n): one allocation sized to the total, one copy pass
//   - A single-chunk accumulator finalizes without copying
//   - Finalization consumes the accumulator; further use is an error
//
// Example Usage:
//
//	acc := output.New(10 * 1024 * 1024)
//	for chunk := range chunks {
//	    if err := acc.Push(chunk); err != nil {
//	        return err // OUTPUT_TOO_LARGE, prior chunks intact
//	    }
//	}
//	data, err := acc.Finalize()
package output
