// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetch

import (
	"context"
	"io"
	"reflect"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/AleutianAI/compass/services/sync/datatypes"
	"github.com/AleutianAI/compass/services/sync/store"
)

const streamBody = `{"section":"preferences","data":{"theme":"dark"}}
{"section":"myOKRTs","data":[{"id":"o1","type":"Objective","title":"Ship","progress":30}]}

{"section":"notifications","data":[]}
{"section":"sharedOKRTs","data":[{"id":"o9","type":"Objective","title":"Theirs"}]}
{"complete":true}
`

// segmentReader returns the body in caller-chosen segments so tests can
// split mid-line, the way transport chunks actually arrive.
type segmentReader struct {
	segments []string
	idx      int
}

func (r *segmentReader) Read(p []byte) (int, error) {
	if r.idx >= len(r.segments) {
		return 0, io.EOF
	}
	n := copy(p, r.segments[r.idx])
	if n < len(r.segments[r.idx]) {
		r.segments[r.idx] = r.segments[r.idx][n:]
		return n, nil
	}
	r.idx++
	return n, nil
}

func ingestInto(t *testing.T, r io.Reader) *store.Store {
	t.Helper()
	s := store.New()
	if err := NewIngester(s, nil).Ingest(context.Background(), r); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	return s
}

func TestDecoderNext(t *testing.T) {
	t.Run("yields messages in order and EOF at end", func(t *testing.T) {
		dec := NewDecoder(strings.NewReader(streamBody), nil)

		var sections []datatypes.Section
		for {
			msg, err := dec.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			if msg.Complete {
				continue
			}
			sections = append(sections, msg.Section)
		}

		want := []datatypes.Section{"preferences", "myOKRTs", "notifications", "sharedOKRTs"}
		if !reflect.DeepEqual(sections, want) {
			t.Errorf("sections = %v, want %v", sections, want)
		}
	})

	t.Run("skips malformed lines without aborting", func(t *testing.T) {
		body := "{\"section\":\"groups\",\"data\":[]}\nnot json at all\n{\"complete\":true}\n"
		dec := NewDecoder(strings.NewReader(body), nil)

		msg, err := dec.Next()
		if err != nil || msg.Section != datatypes.SectionGroups {
			t.Fatalf("first message = %+v, %v", msg, err)
		}
		msg, err = dec.Next()
		if err != nil || !msg.Complete {
			t.Fatalf("expected complete marker after skipping bad line, got %+v, %v", msg, err)
		}
		if dec.Skipped() != 1 {
			t.Errorf("Skipped = %d, want 1", dec.Skipped())
		}
	})

	t.Run("final line without trailing newline is a complete message", func(t *testing.T) {
		body := `{"section":"groups","data":[{"id":"g1","name":"x"}]}`
		dec := NewDecoder(strings.NewReader(body), nil)

		msg, err := dec.Next()
		if err != nil || msg.Section != datatypes.SectionGroups {
			t.Fatalf("message = %+v, %v", msg, err)
		}
		if _, err := dec.Next(); err != io.EOF {
			t.Errorf("expected EOF, got %v", err)
		}
	})
}

func TestIngestLineFraming(t *testing.T) {
	whole := ingestInto(t, strings.NewReader(streamBody))

	// Split mid-line, mid-JSON-string, at an arbitrary byte offset.
	cut := strings.Index(streamBody, `"myOKRTs"`) + 4
	chunked := ingestInto(t, &segmentReader{segments: []string{
		streamBody[:cut],
		streamBody[cut : cut+37],
		streamBody[cut+37:],
	}})

	byteAtATime := ingestInto(t, iotest.OneByteReader(strings.NewReader(streamBody)))

	wholeTree := whole.Tree()
	for name, s := range map[string]*store.Store{"chunked": chunked, "one_byte": byteAtATime} {
		if !reflect.DeepEqual(wholeTree, s.Tree()) {
			t.Errorf("%s delivery produced a different tree", name)
		}
	}
}

func TestIngestMarksSectionsLoaded(t *testing.T) {
	s := ingestInto(t, strings.NewReader(streamBody))

	for _, section := range []datatypes.Section{
		datatypes.SectionPreferences,
		datatypes.SectionMyOKRTs,
		datatypes.SectionNotifications,
		datatypes.SectionSharedOKRTs,
	} {
		state, err := s.State(section)
		if err != nil {
			t.Fatalf("State(%s) failed: %v", section, err)
		}
		if !state.Loaded || state.Loading {
			t.Errorf("section %s state = %+v, want loaded", section, state)
		}
	}

	// Sections never mentioned by the stream stay untouched.
	state, _ := s.State(datatypes.SectionGroups)
	if state.Loaded {
		t.Error("groups should not be loaded")
	}

	if len(s.Tree().Notifications) != 0 {
		t.Error("empty notifications section should decode to zero records")
	}
}

func TestIngestWithoutCompleteMarker(t *testing.T) {
	body := "{\"section\":\"groups\",\"data\":[{\"id\":\"g1\",\"name\":\"x\"}]}\n"
	s := ingestInto(t, strings.NewReader(body))

	if len(s.Tree().Groups) != 1 {
		t.Error("stream without complete marker must still finalize cleanly")
	}
}

func TestIngestDropsUnknownSections(t *testing.T) {
	body := "{\"section\":\"futureSection\",\"data\":{}}\n{\"section\":\"groups\",\"data\":[]}\n"
	s := ingestInto(t, strings.NewReader(body))

	state, _ := s.State(datatypes.SectionGroups)
	if !state.Loaded {
		t.Error("known section after an unknown one must still apply")
	}
}
