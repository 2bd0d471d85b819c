package apilog

import "time"

// cleanupInterval is how often retention cleanup runs.
const cleanupInterval = time.Hour

// RunCleanupLoop invokes fn periodically until stop is closed. The
// first run happens after one interval, not immediately, so startup is
// not slowed by a potentially large delete.
func RunCleanupLoop(stop <-chan struct{}, fn func()) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			fn()
		}
	}
}
