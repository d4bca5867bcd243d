package engine

import (
	"sync/atomic"
	"time"
)

// atomicDuration is a time.Duration that can be loaded and stored
// concurrently without a mutex.
type atomicDuration struct {
	v atomic.Int64
}

func (a *atomicDuration) Load() time.Duration     { return time.Duration(a.v.Load()) }
func (a *atomicDuration) Store(d time.Duration)   { a.v.Store(int64(d)) }
