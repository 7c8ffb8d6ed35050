// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

// fibonacciPoints is the fixed set of legal story point estimates.
var fibonacciPoints = []int{1, 2, 3, 5, 8, 13, 21, 34}

// isFibonacciPoints reports whether points is a member of the legal set.
func isFibonacciPoints(points int) bool {
	for _, n := range fibonacciPoints {
		if n == points {
			return true
		}
	}
	return false
}
