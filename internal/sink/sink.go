// Package sink delivers engine events to external consumers.
package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/signalsfoundry/geotrack/internal/events"
	"github.com/signalsfoundry/geotrack/internal/logging"
	"github.com/signalsfoundry/geotrack/model"
)

// Sink receives events one at a time.
type Sink interface {
	Deliver(ctx context.Context, ev model.Event) error
	Close() error
}

// WriterSink writes one JSON object per line.
type WriterSink struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
}

// NewWriterSink wraps w. If w is also an io.Closer it is closed by Close.
func NewWriterSink(w io.Writer) *WriterSink {
	s := &WriterSink{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Deliver encodes and writes ev, flushing after every line so tailing
// readers see events promptly.
func (s *WriterSink) Deliver(_ context.Context, ev model.Event) error {
	line, err := events.MarshalJSON(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("write event %q: %w", ev.ID, err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write event %q: %w", ev.ID, err)
	}
	return s.w.Flush()
}

func (s *WriterSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.w.Flush()
	if s.closer != nil {
		err = errors.Join(err, s.closer.Close())
	}
	return err
}

// Pump forwards events from in to every sink until in is closed or ctx is
// done. Delivery errors are logged and do not stop the pump. Sinks are
// closed on return.
func Pump(ctx context.Context, in <-chan model.Event, log logging.Logger, sinks ...Sink) error {
	log = logging.OrNoop(log)
	defer func() {
		for _, s := range sinks {
			if err := s.Close(); err != nil {
				log.Warn(ctx, "close sink failed", logging.Err(err))
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			for _, s := range sinks {
				if err := s.Deliver(ctx, ev); err != nil {
					log.Warn(ctx, "deliver event failed",
						logging.String("event_id", ev.ID),
						logging.String("event_kind", string(ev.Kind())),
						logging.Err(err),
					)
				}
			}
		}
	}
}
