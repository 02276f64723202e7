// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/compass/services/sync/datatypes"
)

// ErrUnknownSection is returned when a store call references a section name
// the engine does not track. Unlike data-level problems (which are absorbed
// at the ingest and patch boundaries), this is a programming error and is
// surfaced loudly so integration bugs are caught at the call site.
var ErrUnknownSection = errors.New("sync/store: unknown section")

// unknownSection wraps ErrUnknownSection with the offending name.
func unknownSection(s datatypes.Section) error {
	return fmt.Errorf("%w: %q", ErrUnknownSection, string(s))
}
