//go:build !linux

package restorer

// NewDefaultRescanner returns the fixed-delay Rescanner, since netlink
// uevents aren't available off Linux.
func NewDefaultRescanner() Rescanner {
	return &FixedDelayRescanner{}
}
