//go:build linux

package restorer

// NewDefaultRescanner returns the uevent-based Rescanner, which settles
// faster and more reliably than a fixed sleep when netlink uevents are
// available (the common case on Linux).
func NewDefaultRescanner() Rescanner {
	return &UeventRescanner{}
}
