//go:build !linux

package restorer

// UeventRescanner is unavailable outside Linux (no netlink uevents); dbu's
// external helpers are Linux-only regardless, so callers should construct a
// FixedDelayRescanner on other platforms.
type UeventRescanner struct {
	Timeout int64
}
