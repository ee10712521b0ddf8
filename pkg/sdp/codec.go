// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sdp

import "sort"

// NormalizeCodecs sorts codecs by payload id and drops later duplicates:
// buggy engines report non-unique payload ids that must never reach the
// wire.
func NormalizeCodecs(codecs []Codec) []Codec {
	sorted := make([]Codec, len(codecs))
	copy(sorted, codecs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PayloadID < sorted[j].PayloadID
	})

	out := make([]Codec, 0, len(sorted))
	seen := make(map[int]bool, len(sorted))
	for _, c := range sorted {
		if seen[c.PayloadID] {
			continue
		}
		seen[c.PayloadID] = true
		out = append(out, c)
	}
	return out
}
