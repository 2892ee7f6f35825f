package control

import (
	"errors"
	"sync"
)

const DefaultReadChunkSize = 10 * 1024 // 10 KiB per read, one counter update each

var (
	ErrDuplicateCall = errors.New("multiple calls to the same chunk handler are not allowed")
)

var BlackHole = sync.Pool{
	New: func() any {
		b := make([]byte, DefaultReadChunkSize)
		return &b
	},
}
