package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/signalsfoundry/geotrack/internal/logging"
	"github.com/signalsfoundry/geotrack/model"
)

const maxLineBytes = 1 << 20

// sampleIngester is the slice of the session the feed reader needs.
type sampleIngester interface {
	Ingest(ctx context.Context, sample model.PositionSample) ([]model.Event, error)
}

// ingestLines feeds one JSON-encoded PositionSample per line into sess until
// r is exhausted, ctx is done or the session stops. Malformed lines and
// rejected samples are logged and skipped. It returns the number of
// samples accepted.
func ingestLines(ctx context.Context, sess sampleIngester, r io.Reader, log logging.Logger) (int, error) {
	log = logging.OrNoop(log)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	accepted := 0
	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return accepted, err
		}
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var sample model.PositionSample
		if err := json.Unmarshal(raw, &sample); err != nil {
			log.Warn(ctx, "skipping malformed sample", logging.Int("line", line), logging.Err(err))
			continue
		}
		if _, err := sess.Ingest(ctx, sample); err != nil {
			if errors.Is(err, model.ErrSessionStopped) {
				return accepted, err
			}
			log.Warn(ctx, "sample rejected",
				logging.Int("line", line),
				logging.String("entity_id", sample.EntityID),
				logging.Err(err),
			)
			continue
		}
		accepted++
	}
	if err := sc.Err(); err != nil {
		return accepted, fmt.Errorf("read samples: %w", err)
	}
	return accepted, nil
}
