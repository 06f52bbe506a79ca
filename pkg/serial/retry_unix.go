//go:build !windows

package serial

import "time"

func retryParamsFor(retryUnix, _ time.Duration) (maxAttempts int, base time.Duration) {
	if retryUnix <= 0 {
		retryUnix = 250 * time.Millisecond
	}
	return 15, retryUnix
}
