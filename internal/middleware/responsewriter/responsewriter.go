// Package responsewriter wraps an http.ResponseWriter to remember the status
// code written through it.
package responsewriter

import "net/http"

// Recorder is an http.ResponseWriter that remembers the status code.
type Recorder struct {
	http.ResponseWriter

	status      int
	wroteHeader bool
}

// NewRecorder wraps w. The status defaults to 200 until WriteHeader is
// called.
func NewRecorder(w http.ResponseWriter) *Recorder {
	return &Recorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *Recorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *Recorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

// Status returns the status code sent to the client.
func (r *Recorder) Status() int {
	return r.status
}

// Unwrap lets http.ResponseController reach the wrapped writer.
func (r *Recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
