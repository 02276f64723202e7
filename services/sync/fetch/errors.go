// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetch

import (
	"errors"
	"fmt"
	"time"
)

// ErrAuthExpired means the backend returned unauthorized. The caller must
// redirect to re-authentication; the store is deliberately left untouched
// so stale-but-present data survives the redirect.
var ErrAuthExpired = errors.New("sync/fetch: authentication expired")

// TransientError is a network or non-2xx, non-401 failure. It is recorded
// on the store as a visible error string and never retried automatically;
// the next freshness check retries naturally.
type TransientError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s failed with status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s failed: %v", e.Endpoint, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// CachedFetchError is returned when a recent fetch failed and the failure
// is still inside its cache window, so concurrent consumers don't produce
// a retry storm.
type CachedFetchError struct {
	Err      error
	FailedAt time.Time
	RetryAt  time.Time
}

func (e *CachedFetchError) Error() string {
	return fmt.Sprintf("fetch failed at %s, retry allowed after %s: %v",
		e.FailedAt.Format(time.RFC3339), e.RetryAt.Format(time.RFC3339), e.Err)
}

func (e *CachedFetchError) Unwrap() error { return e.Err }
