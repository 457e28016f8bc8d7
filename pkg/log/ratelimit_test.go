// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
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

package log

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	goxrate "golang.org/x/time/rate"
)

func TestRateLimitWindow(t *testing.T) {
	rl := RateLimit(Default(), Rate{Window: 1, Limit: Every(time.Second)}).(*ratelimited)
	require.Equal(t, MinimumWindow, len(rl.window))

	kinds := map[string]*kind{}
	format := func(i int) string { return fmt.Sprintf("message kind #%d: %%d", i) }
	for i := 0; i < MinimumWindow; i++ {
		kinds[format(i)] = rl.kindOf(format(i))
	}
	for f, k := range kinds {
		require.True(t, rl.kindOf(f) == k, "kind %q recreated", f)
	}

	// one more kind evicts the oldest one only
	rl.kindOf(format(MinimumWindow))
	require.False(t, rl.kindOf(format(0)) == kinds[format(0)])
	for i := 2; i < MinimumWindow; i++ {
		require.True(t, rl.kindOf(format(i)) == kinds[format(i)], "kind %d evicted", i)
	}
}

func TestRateLimitSuppression(t *testing.T) {
	tl := setupTestBackend(t)
	SetLevel(LevelInfo)
	defer SetLevel(DefaultLevel)

	rl := RateLimit(NewLogger("ratelimit-test"), Rate{Limit: Every(time.Hour), Burst: 1})
	for i := 0; i < 5; i++ {
		rl.Warn("digest mismatch on page %#x", 0x1000*i)
		rl.Error("page count would go negative")
	}
	require.Equal(t, []string{
		"W [ratelimit-test] digest mismatch on page 0x0",
		"E [ratelimit-test] page count would go negative",
	}, tl.messages())

	// let the next message through, noting the suppressed ones
	r := rl.(*ratelimited)
	r.kinds["digest mismatch on page %#x"].lim = goxrate.NewLimiter(goxrate.Inf, 1)
	tl.recorded = nil
	rl.Warn("digest mismatch on page %#x", 0x9000)
	require.Equal(t, []string{
		"W [ratelimit-test] digest mismatch on page 0x9000 (4 similar messages suppressed)",
	}, tl.messages())
}
