//go:build !unix

package ctrlplane

// EnableSharedMemory is a no-op on non-Unix platforms: there is no portable
// named-shared-memory primitive wired up here, so regions stay heap-backed
// (single-process only) on these builds.
func EnableSharedMemory() {}
