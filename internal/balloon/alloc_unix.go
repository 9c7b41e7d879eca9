//go:build unix

package balloon

import (
	"math"
	"os"

	"golang.org/x/sys/unix"
)

// pageAllocator maps anonymous private memory. An oversized request fails
// with ENOMEM from mmap instead of aborting the Go runtime.
type pageAllocator struct {
	pageSize int
}

// NewPageAllocator returns the default mmap-backed allocator.
func NewPageAllocator() Allocator {
	return &pageAllocator{pageSize: os.Getpagesize()}
}

func (a *pageAllocator) Alloc(mb int) (Block, error) {
	if mb <= 0 {
		return &mappedBlock{}, nil
	}
	if mb > math.MaxInt/bytesPerMB {
		return nil, &AllocationError{RequestedMB: mb, Cause: unix.ENOMEM}
	}

	data, err := unix.Mmap(-1, 0, mb*bytesPerMB, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, &AllocationError{RequestedMB: mb, Cause: err}
	}

	// Touch every page so the kernel backs the mapping with real memory.
	for i := 0; i < len(data); i += a.pageSize {
		data[i] = 1
	}
	return &mappedBlock{data: data}, nil
}

type mappedBlock struct {
	data []byte
}

func (b *mappedBlock) Size() int { return len(b.data) }

func (b *mappedBlock) Release() error {
	if b.data == nil {
		return nil
	}
	data := b.data
	b.data = nil
	return unix.Munmap(data)
}
