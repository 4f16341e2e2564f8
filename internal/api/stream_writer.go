package api

import (
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

var errStreamingUnsupported = errors.New("streaming unsupported")

// SSEStreamWriter emits generation events as server-sent events. Write
// errors are sticky: once the client is gone every later event is dropped
// and Err reports the first failure.
type SSEStreamWriter struct {
	w       io.Writer
	flusher func()
	seq     int
	err     error
}

func NewSSEStreamWriter(c *echo.Context) (*SSEStreamWriter, error) {
	res := c.Response()
	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, errStreamingUnsupported
	}
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")

	return &SSEStreamWriter{
		w:       res,
		flusher: flusher.Flush,
		seq:     1,
	}, nil
}

func (s *SSEStreamWriter) Created(gen Generation) {
	s.send(streamEvent{Type: "generation.created", Generation: &gen})
}

func (s *SSEStreamWriter) Token(seq int, token string) {
	s.send(streamEvent{Type: "generation.token", Sequence: &seq, Token: token})
}

// Finish emits generation.completed, or generation.failed when gen carries
// an error, followed by the terminating [DONE] marker.
func (s *SSEStreamWriter) Finish(gen Generation) {
	typ := "generation.completed"
	if gen.Error != nil {
		typ = "generation.failed"
	}
	s.send(streamEvent{Type: typ, Generation: &gen})
	if s.err == nil {
		_, s.err = io.WriteString(s.w, "data: [DONE]\n\n")
		s.flush()
	}
}

func (s *SSEStreamWriter) Err() error { return s.err }

func (s *SSEStreamWriter) send(ev streamEvent) {
	if s.err != nil {
		return
	}
	ev.SequenceNumber = s.seq
	s.seq++
	b, err := json.Marshal(ev)
	if err != nil {
		s.err = err
		return
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, b); err != nil {
		s.err = err
		return
	}
	s.flush()
}

func (s *SSEStreamWriter) flush() {
	if s.flusher != nil {
		s.flusher()
	}
}
