// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package patch

import (
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/compass/services/sync/datatypes"
)

// cacheUpdateField is the response key write endpoints use to piggyback a
// cache-patch instruction on their normal payload.
const cacheUpdateField = "_cacheUpdate"

// ExtractCacheUpdate splits a mutation response into its cache-patch
// instruction and the remaining domain payload.
//
// Callers must strip the instruction before treating the response as domain
// data; the returned body has the field removed. A missing instruction is
// not an error: it means no incremental patch is available, and the first
// return value is nil.
func ExtractCacheUpdate(body []byte) (*datatypes.CacheUpdate, []byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, nil, fmt.Errorf("decoding mutation response: %w", err)
	}

	raw, ok := fields[cacheUpdateField]
	if !ok {
		return nil, body, nil
	}
	delete(fields, cacheUpdateField)

	var instr datatypes.CacheUpdate
	if err := json.Unmarshal(raw, &instr); err != nil {
		return nil, nil, fmt.Errorf("decoding %s: %w", cacheUpdateField, err)
	}

	rest, err := json.Marshal(fields)
	if err != nil {
		return nil, nil, fmt.Errorf("re-encoding mutation response: %w", err)
	}
	return &instr, rest, nil
}
