//go:build !verify

package heap

// verifyAssertions enables internal consistency checks. Build with the
// verify tag to turn them on.
const verifyAssertions = false
