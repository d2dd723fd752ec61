// Package safeconv provides integer conversions that cannot wrap around.
package safeconv

// ClampToUint64 converts v to uint64, mapping negative values to zero.
func ClampToUint64(v int64) uint64 {
	if v < 0 {
		return 0
	}

	return uint64(v)
}
