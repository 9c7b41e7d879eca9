//go:build !unix

package balloon

import (
	"errors"
	"fmt"
	"math"
	"os"
)

type heapAllocator struct {
	pageSize int
}

// NewPageAllocator returns a heap-backed allocator on platforms without mmap.
func NewPageAllocator() Allocator {
	return &heapAllocator{pageSize: os.Getpagesize()}
}

func (a *heapAllocator) Alloc(mb int) (blk Block, err error) {
	if mb <= 0 {
		return &heapBlock{}, nil
	}
	if mb > math.MaxInt/bytesPerMB {
		return nil, &AllocationError{RequestedMB: mb, Cause: errors.New("size overflows address space")}
	}

	defer func() {
		if r := recover(); r != nil {
			blk = nil
			err = &AllocationError{RequestedMB: mb, Cause: fmt.Errorf("%v", r)}
		}
	}()

	data := make([]byte, mb*bytesPerMB)
	for i := 0; i < len(data); i += a.pageSize {
		data[i] = 1
	}
	return &heapBlock{data: data}, nil
}

type heapBlock struct {
	data []byte
}

func (b *heapBlock) Size() int { return len(b.data) }

func (b *heapBlock) Release() error {
	b.data = nil
	return nil
}
