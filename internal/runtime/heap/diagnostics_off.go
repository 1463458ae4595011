//go:build !debug

package heap

// diagnosticsEnabled gates the raw memory diagnostics. They read and write
// memory without type information and are only built in with the debug tag.
const diagnosticsEnabled = false
