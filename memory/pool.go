/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package memory

import (
	"math/bits"
	"sync"
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"
)

const (
	minPoolSize = 4 << 10 // 4KB, the smallest size class
	maxPoolSize = 1 << 30 // 1GB, larger requests bypass the pools

	// footer is a [8]byte at the end of every pooled buffer, two parts:
	// magic (58 bits) and pool index (6 bits). A footer instead of a header
	// keeps Free safe regardless of the input provided.
	footerLen = 8

	footerMagicMask = uint64(0xFFFFFFFFFFFFFFC0)
	footerIndexMask = uint64(0x000000000000003F)
	footerMagic     = uint64(0xCAFEF00DCAFEF0C0) // low 6 bits zero, reserved for the index
)

type sizePool struct {
	sync.Pool

	size int
}

// PoolAllocator recycles buffers through per-size-class sync.Pools. The cap
// of every pooled buffer equals its class size, and the footer ties the
// buffer back to its pool, so Free on a foreign buffer is a safe no-op.
//
// Buffers must not be resized with append: the footer lives in the last 8
// bytes of the buffer's capacity.
type PoolAllocator struct {
	pools    []*sizePool
	bits2idx [64]int // maps bits.Len(size) to a pools index
}

func NewPoolAllocator() *PoolAllocator {
	a := &PoolAllocator{}
	i := 0
	for sz := minPoolSize; sz <= maxPoolSize; sz <<= 1 {
		p := &sizePool{size: sz}
		p.New = func() interface{} {
			b := dirtmake.Bytes(p.size, p.size)
			return &b[0]
		}
		a.pools = append(a.pools, p)
		a.bits2idx[bits.Len(uint(sz))] = i
		i++
	}
	return a
}

// poolIndex returns the index of the pool that fits size.
// Sizes below minPoolSize map to pools[0].
func (a *PoolAllocator) poolIndex(size int) int {
	if size <= minPoolSize {
		return 0
	}
	i := a.bits2idx[bits.Len(uint(size))]
	if uint(size)&(uint(size)-1) == 0 {
		// exact power of two fits its own class
		return i
	}
	return i + 1
}

type sliceHeader struct {
	Data unsafe.Pointer
	Len  int
	Cap  int
}

// Allocate returns a buffer of length size with cap equal to its class
// size. Contents may not be zeroed. Requests above the largest class are
// served from the heap and simply ignored by Free.
func (a *PoolAllocator) Allocate(size int) ([]byte, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	c := size + footerLen // reserve for footer
	if c > maxPoolSize {
		return dirtmake.Bytes(size, size), nil
	}
	i := a.poolIndex(c)
	pool := a.pools[i]
	p := pool.Get().(*byte)

	ret := []byte{}
	h := (*sliceHeader)(unsafe.Pointer(&ret))
	h.Data = unsafe.Pointer(p)
	h.Len = size
	h.Cap = pool.size

	// checked again when the buffer comes back through Free
	*(*uint64)(unsafe.Add(h.Data, h.Cap-footerLen)) = footerMagic | uint64(i)
	return ret, nil
}

// Free returns buf to its pool. Buffers that were not produced by this
// allocator (wrong cap, missing footer) are ignored.
func (a *PoolAllocator) Free(buf []byte) error {
	c := cap(buf)
	if c < minPoolSize {
		return nil
	}
	if uint(c)&uint(c-1) != 0 {
		return nil
	}
	if c-len(buf) < footerLen {
		return nil
	}
	footer := getFooter(buf)
	if footer&footerMagicMask != footerMagic {
		return nil
	}
	i := int(footer & footerIndexMask)
	if i < len(a.pools) {
		if p := a.pools[i]; p.size == c {
			p.Put(&buf[0])
		}
	}
	return nil
}

func getFooter(buf []byte) uint64 {
	h := (*sliceHeader)(unsafe.Pointer(&buf))
	return *(*uint64)(unsafe.Add(h.Data, h.Cap-footerLen))
}
