// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stepper

import (
	"sync"

	"periph.io/x/conn/v3/gpio"
)

// pinCache remembers the last level successfully written to each channel so
// that a write of the same level can be skipped.
type pinCache struct {
	mu    sync.Mutex
	known map[int]gpio.Level
}

func newPinCache() *pinCache {
	return &pinCache{known: map[int]gpio.Level{}}
}

func (c *pinCache) has(channel int, l gpio.Level) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.known[channel]
	return ok && v == l
}

func (c *pinCache) store(channel int, l gpio.Level) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.known[channel] = l
}

// forget drops a channel whose state is unknown after a failed write.
func (c *pinCache) forget(channel int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.known, channel)
}

func (c *pinCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.known)
}
