// Copyright 2020 Intel Corporation. All Rights Reserved.
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

package testutils

import (
	"math/rand"
)

// PatternPage returns a page of the given size filled with a pattern derived from seed.
func PatternPage(size int, seed int64) []byte {
	page := make([]byte, size)
	rand.New(rand.NewSource(seed)).Read(page)
	return page
}

// FilledPage returns a page of the given size with every byte set to b.
func FilledPage(size int, b byte) []byte {
	page := make([]byte, size)
	for i := range page {
		page[i] = b
	}
	return page
}
