//go:build debug

package heap

const diagnosticsEnabled = true
