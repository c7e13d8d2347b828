// Copyright 2020 The gVisor Authors.
// Copyright 2026 The Mars Authors.
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

package cleanup

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// record returns a cleanup that appends name to order.
func record(order *[]string, name string) func() {
	return func() { *order = append(*order, name) }
}

func TestClean(t *testing.T) {
	var order []string
	func() {
		cu := Make(record(&order, "memory"))
		cu.Add(record(&order, "kernel"))
		cu.Add(record(&order, "metrics"))
		defer cu.Clean()
	}()
	if diff := cmp.Diff([]string{"metrics", "kernel", "memory"}, order); diff != "" {
		t.Errorf("cleanup order mismatch (-want +got):\n%s", diff)
	}
}

func TestCleanTwice(t *testing.T) {
	var order []string
	cu := Make(record(&order, "memory"))
	cu.Clean()
	cu.Clean()
	if len(order) != 1 {
		t.Errorf("cleanups ran %d times, want 1", len(order))
	}
}

func TestRelease(t *testing.T) {
	var order []string
	var released func()
	func() {
		cu := Make(record(&order, "memory"))
		cu.Add(record(&order, "kernel"))
		defer cu.Clean()
		released = cu.Release()
	}()
	if len(order) != 0 {
		t.Fatalf("released cleanups ran: %v", order)
	}

	released()
	if diff := cmp.Diff([]string{"kernel", "memory"}, order); diff != "" {
		t.Errorf("released cleanup order mismatch (-want +got):\n%s", diff)
	}
}
