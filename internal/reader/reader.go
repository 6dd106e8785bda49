// Package reader feeds tag reads from the RFID hardware into the ingestion
// gateway. The hardware surface is behind TagReader so the daemon can run
// against a FIFO, a serial port, or a test double without caring which.
package reader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNoTag reports a poll that completed without a tag in range. It is the
// normal idle result, not a failure.
var ErrNoTag = errors.New("no tag in range")

// TagReader reads one tag value per call. Implementations return ErrNoTag
// when nothing is in range and io.EOF when the underlying source is closed.
type TagReader interface {
	ReadTag(ctx context.Context) (string, error)
}

// Ingestor is the slice of the ingestion gateway the loop needs.
type Ingestor interface {
	Submit(ctx context.Context, value string) (int64, error)
}

// Loop polls the reader until ctx is canceled. Submit failures are logged
// and polling continues; a read that cannot be persisted is dropped rather
// than wedging the reader, since the hardware keeps producing regardless.
func Loop(ctx context.Context, tags TagReader, ingestor Ingestor, interval time.Duration, logger *zap.Logger) error {
	if tags == nil {
		return fmt.Errorf("tag reader is required")
	}
	if ingestor == nil {
		return fmt.Errorf("ingestor is required")
	}
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// ReadTag blocks until the hardware produces a line. Closing the source
	// on cancellation is the only way to unblock it, so a closable reader is
	// shut down as soon as ctx ends rather than waiting for the next tag.
	if closer, ok := tags.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() {
			_ = closer.Close()
		})
		defer stop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		value, err := tags.ReadTag(ctx)
		switch {
		case errors.Is(err, ErrNoTag):
			continue
		case errors.Is(err, io.EOF):
			logger.Info("tag source closed, stopping reader loop")
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return ctx.Err()
		case err != nil:
			logger.Warn("tag read failed", zap.Error(err))
			continue
		}

		if _, err := ingestor.Submit(ctx, value); err != nil {
			logger.Error("failed to store tag read",
				zap.String("value", value),
				zap.Error(err),
			)
		}
	}
}

// LineReader reads newline-delimited tag values from an io.Reader, typically
// the FIFO a hardware bridge process writes into. Blank lines count as idle
// polls.
type LineReader struct {
	source  io.Reader
	scanner *bufio.Scanner
}

func NewLineReader(r io.Reader) (*LineReader, error) {
	if r == nil {
		return nil, fmt.Errorf("reader is required")
	}
	return &LineReader{source: r, scanner: bufio.NewScanner(r)}, nil
}

// Close closes the underlying source when it supports closing, unblocking a
// ReadTag stuck waiting for input.
func (r *LineReader) Close() error {
	if closer, ok := r.source.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (r *LineReader) ReadTag(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if !r.scanner.Scan() {
		// A source closed by cancellation surfaces as a scan error; report
		// the cancellation, not the closed file.
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := r.scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read tag line: %w", err)
		}
		return "", io.EOF
	}

	value := strings.TrimSpace(r.scanner.Text())
	if value == "" {
		return "", ErrNoTag
	}
	return value, nil
}
