// Package xid generates the time-derived identifiers stamped onto orders.
package xid

import (
	"strconv"
	"time"
)

// Order returns the time-derived order identifier: milliseconds since epoch
// as a decimal string, matching the format of existing order records.
func Order(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
