//go:build unix

package ctrlplane

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// shmDir is where named regions are opened, mirroring the POSIX shared
// memory convention (tmpfs-backed) that "region-{pid}-{rid}" names are
// meant to resolve under.
const shmDir = "/dev/shm"

// shmStore backs a region with a named, mmap'd shared-memory file so that
// a second process attaching to the same coordinator can map the exact
// same bytes, per spec §4.A/§6.
type shmStore struct {
	f   *os.File
	buf []byte
}

func (s *shmStore) Bytes() []byte { return s.buf }

func (s *shmStore) Close() error {
	var err error
	if s.buf != nil {
		err = unix.Munmap(s.buf)
		s.buf = nil
	}
	if s.f != nil {
		name := s.f.Name()
		s.f.Close()
		os.Remove(name)
	}
	return err
}

func openShm(name string, size uint64) (RegionStore, error) {
	path := shmDir + "/" + name
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		// Fall back to a private tmp file when /dev/shm is unavailable
		// (e.g. a sandboxed CI runner); the region is still a real mmap,
		// just not guaranteed to be the system's shm tmpfs.
		f, err = os.CreateTemp("", "midas-"+name+"-*")
		if err != nil {
			return nil, fmt.Errorf("ctrlplane: open shared region %q: %w", name, err)
		}
	}

	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("ctrlplane: truncate shared region %q: %w", name, err)
	}

	buf, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ctrlplane: mmap shared region %q: %w", name, err)
	}

	return &shmStore{f: f, buf: buf}, nil
}

// EnableSharedMemory switches region allocation from heap-backed storage
// to named, mmap'd shared memory, for embedders that actually run a
// cross-process coordinator rather than the in-process Loopback.
func EnableSharedMemory() {
	openStoreHook = openShm
}
