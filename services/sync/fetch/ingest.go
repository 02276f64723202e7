// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/compass/services/sync/datatypes"
	"github.com/AleutianAI/compass/services/sync/store"
)

// Decoder is a pull-based iterator over the progressive-fetch protocol:
// one JSON message per line, either {"section": ..., "data": ...} or the
// informational {"complete": true} marker.
//
// Transport chunk boundaries do not align with message boundaries; the
// buffered reader carries partial lines across reads, so callers see only
// whole messages. The sequence is lazy, finite, and non-restartable.
type Decoder struct {
	r       *bufio.Reader
	logger  *slog.Logger
	skipped int
	done    bool
}

// NewDecoder wraps a stream body in a message iterator.
func NewDecoder(r io.Reader, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{r: bufio.NewReader(r), logger: logger}
}

// Next returns the next decoded message. It returns io.EOF when the stream
// is exhausted and a transport error if the underlying read fails.
//
// Empty lines are ignored. A line that fails JSON parsing is logged and
// skipped; partial delivery is preferred over total failure, so a bad line
// never aborts the stream.
func (d *Decoder) Next() (datatypes.StreamMessage, error) {
	for {
		if d.done {
			return datatypes.StreamMessage{}, io.EOF
		}

		line, err := d.r.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return datatypes.StreamMessage{}, err
			}
			// A final line without a trailing newline is still a
			// complete message once the stream ends.
			d.done = true
			if strings.TrimSpace(line) == "" {
				return datatypes.StreamMessage{}, io.EOF
			}
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var msg datatypes.StreamMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			d.skipped++
			ingestMalformedLines.Inc()
			d.logger.Warn("skipping malformed stream line", "error", err)
			continue
		}
		return msg, nil
	}
}

// Skipped returns how many malformed lines were dropped so far.
func (d *Decoder) Skipped() int { return d.skipped }

// Ingester feeds decoded stream messages into the store as they arrive, so
// each section is renderable the moment it lands rather than after the
// whole stream finishes.
type Ingester struct {
	store  *store.Store
	logger *slog.Logger
}

// NewIngester creates an Ingester writing to the given store.
func NewIngester(s *store.Store, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{store: s, logger: logger}
}

// Ingest consumes the stream until it ends, dispatching each section
// payload to the store in arrival order.
//
// The {"complete": true} marker is a hint for logging, not a correctness
// gate: a stream that ends without it still finalizes cleanly. Section
// payloads the store rejects (unknown name from a newer server, or a
// payload that fails to decode) are logged and skipped. Only a transport
// read error is returned.
func (i *Ingester) Ingest(ctx context.Context, r io.Reader) error {
	ctx, span := tracer.Start(ctx, "Ingester.Ingest")
	defer span.End()

	dec := NewDecoder(r, i.logger)
	var sections int
	sawComplete := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			span.RecordError(err)
			return err
		}

		if msg.Complete {
			sawComplete = true
			continue
		}
		if msg.Section == "" {
			i.logger.Warn("stream message without section or complete marker")
			continue
		}

		if err := i.store.SetSection(msg.Section, msg.Data); err != nil {
			i.logger.Warn("dropping undecodable section payload",
				"section", string(msg.Section),
				"error", err,
			)
			continue
		}
		sections++
		ingestSectionsTotal.WithLabelValues(string(msg.Section)).Inc()
	}

	span.SetAttributes(
		attribute.Int("ingest.sections", sections),
		attribute.Int("ingest.skipped_lines", dec.Skipped()),
		attribute.Bool("ingest.saw_complete", sawComplete),
	)
	if !sawComplete {
		i.logger.Debug("stream ended without complete marker", "sections", sections)
	}
	i.logger.Info("progressive fetch ingested",
		"sections", sections,
		"skipped_lines", dec.Skipped(),
	)
	return nil
}
