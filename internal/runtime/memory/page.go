package memory

// RoundUp rounds n up to a multiple of pageSize. pageSize must be a power
// of two.
func RoundUp(n uintptr, pageSize int) uintptr {
	mask := uintptr(pageSize) - 1
	return (n + mask) &^ mask
}

// RoundDown rounds n down to a multiple of pageSize.
func RoundDown(n uintptr, pageSize int) uintptr {
	return n &^ (uintptr(pageSize) - 1)
}

// IsPageAligned reports whether n is a multiple of pageSize.
func IsPageAligned(n uintptr, pageSize int) bool {
	return RoundDown(n, pageSize) == n
}

// ValidPageSize reports whether ps is a usable page size.
func ValidPageSize(ps int) bool {
	return ps > 0 && ps&(ps-1) == 0
}
