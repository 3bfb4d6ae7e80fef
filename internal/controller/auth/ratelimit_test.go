// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 10,
		BurstSize:         20,
	})

	for i := 0; i < 20; i++ {
		assert.True(t, rl.Allow("user1"), "request %d should be allowed", i)
	}
	assert.False(t, rl.Allow("user1"))
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 10,
		BurstSize:         10,
	})

	for i := 0; i < 10; i++ {
		rl.Allow("user1")
	}
	assert.False(t, rl.Allow("user1"))

	// 100ms refills one token at 10/sec.
	time.Sleep(150 * time.Millisecond)
	assert.True(t, rl.Allow("user1"))
}

func TestRateLimiter_PerUser(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 5,
		BurstSize:         5,
	})

	for i := 0; i < 5; i++ {
		rl.Allow("user1")
	}

	assert.False(t, rl.Allow("user1"))
	assert.True(t, rl.Allow("user2"))
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: false})

	for i := 0; i < 1000; i++ {
		assert.True(t, rl.Allow("user1"))
	}
	assert.Zero(t, rl.Len())
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 10,
		BurstSize:         10,
	})

	rl.Allow("user1")
	rl.Allow("user2")
	rl.Allow("user3")
	assert.Equal(t, 3, rl.Len())

	rl.Cleanup(time.Hour)
	assert.Equal(t, 3, rl.Len(), "recent buckets survive")

	time.Sleep(5 * time.Millisecond)
	rl.Cleanup(time.Millisecond)
	assert.Zero(t, rl.Len())
}
