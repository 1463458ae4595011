//go:build verify

package heap

const verifyAssertions = true
