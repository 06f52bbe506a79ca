//go:build windows

package serial

import "time"

func retryParamsFor(_, retryWindows time.Duration) (maxAttempts int, base time.Duration) {
	if retryWindows <= 0 {
		retryWindows = 500 * time.Millisecond
	}
	return 30, retryWindows
}
