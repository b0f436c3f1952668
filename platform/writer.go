package platform

import "io"

type quietWriter interface {
	writeQuiet(fd int, p []byte) (int, error)
}

// StreamWriter is an io.Writer over Adapter.Write on one descriptor. In
// isolated mode it is how log output leaves the enclave.
type StreamWriter struct {
	a  Adapter
	fd int
}

// NewStreamWriter returns a writer for fd through a
func NewStreamWriter(a Adapter, fd int) *StreamWriter {
	return &StreamWriter{a: a, fd: fd}
}

// Write retries short writes until p is consumed or the adapter fails
func (w *StreamWriter) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		var n int
		var err error
		if q, ok := w.a.(quietWriter); ok {
			n, err = q.writeQuiet(w.fd, p[written:])
		} else {
			n, err = w.a.Write(w.fd, p[written:])
		}
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
		written += n
	}
	return written, nil
}
