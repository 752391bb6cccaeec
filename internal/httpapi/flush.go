package httpapi

import (
	"io"
	"net/http"
	"sync/atomic"
)

// flushWriter tracks whether anything was written and flushes the response
// after each write so long-running exports stream instead of buffering.
type flushWriter struct {
	dst   io.Writer
	wrote atomic.Bool
}

func newFlushWriter(dst io.Writer) *flushWriter {
	return &flushWriter{dst: dst}
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.dst.Write(p)
	if n > 0 {
		f.wrote.Store(true)
	}
	if flusher, ok := f.dst.(http.Flusher); ok {
		flusher.Flush()
	}
	return n, err
}

func (f *flushWriter) wroteAny() bool {
	return f.wrote.Load()
}
