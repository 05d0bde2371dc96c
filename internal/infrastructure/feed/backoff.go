package feed

import "time"

// Backoff returns base * 2^retry capped at ceiling. Negative retries return base.
func Backoff(retry int, base, ceiling time.Duration) time.Duration {
	if retry < 0 {
		return base
	}
	// 2^30 seconds is far above any sane cap.
	if retry > 30 {
		return ceiling
	}
	d := base * time.Duration(1<<retry)
	if d > ceiling || d <= 0 {
		return ceiling
	}
	return d
}
