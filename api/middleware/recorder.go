package middleware

import (
	"bytes"
	"net/http"
)

// recorder tracks the status and size of a response, and optionally keeps a
// copy of the body for the idempotency cache.
type recorder struct {
	http.ResponseWriter
	status  int
	written int
	capture *bytes.Buffer
}

func newRecorder(w http.ResponseWriter, captureBody bool) *recorder {
	rec := &recorder{ResponseWriter: w}
	if captureBody {
		rec.capture = &bytes.Buffer{}
	}
	return rec
}

// WriteHeader keeps the first status; net/http ignores later calls too.
func (r *recorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	if r.capture != nil {
		r.capture.Write(b)
	}
	n, err := r.ResponseWriter.Write(b)
	r.written += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *recorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *recorder) body() []byte {
	if r.capture == nil {
		return nil
	}
	return r.capture.Bytes()
}
