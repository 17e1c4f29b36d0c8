// Package relay forwards generated fragments to a live HTTP response while
// accumulating the full answer.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrClientGone means the response could not be written or flushed, or the
// request context ended. Nothing further is read from the source after it.
var ErrClientGone = errors.New("client went away")

// Source is a pull based fragment producer. Recv returns io.EOF when done.
type Source interface {
	Recv() (string, error)
}

// Sink is the consumer side of a relay, normally an HTTP response body.
type Sink interface {
	io.Writer
	Flush() error
}

type Result struct {
	Text      string
	Fragments int
	Bytes     int
	// FirstFragment is the latency from the start of Relay until the first
	// fragment was flushed. Zero when nothing was sent.
	FirstFragment time.Duration
}

// Relay copies fragments from src to dst one at a time. Each fragment is
// written and flushed before the next one is requested. The returned Result
// always describes exactly what reached dst, including on error.
func Relay(ctx context.Context, src Source, dst Sink) (Result, error) {
	var (
		res   Result
		acc   strings.Builder
		start = time.Now()
	)
	done := func(err error) (Result, error) {
		res.Text = acc.String()
		return res, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return done(fmt.Errorf("%w: %v", ErrClientGone, err))
		}
		fragment, err := src.Recv()
		if errors.Is(err, io.EOF) {
			return done(nil)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return done(fmt.Errorf("%w: %v", ErrClientGone, ctxErr))
			}
			return done(err)
		}
		if fragment == "" {
			continue
		}
		n, err := dst.Write([]byte(fragment))
		if err != nil {
			return done(fmt.Errorf("%w: write: %v", ErrClientGone, err))
		}
		if err := dst.Flush(); err != nil {
			return done(fmt.Errorf("%w: flush: %v", ErrClientGone, err))
		}
		if res.Fragments == 0 {
			res.FirstFragment = time.Since(start)
		}
		acc.WriteString(fragment)
		res.Fragments++
		res.Bytes += n
	}
}

type responseSink struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewResponseSink adapts an http.ResponseWriter (including gin's) to a Sink.
func NewResponseSink(w http.ResponseWriter) Sink {
	return &responseSink{w: w, rc: http.NewResponseController(w)}
}

func (s *responseSink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s *responseSink) Flush() error {
	return s.rc.Flush()
}
