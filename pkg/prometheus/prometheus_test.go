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

package prometheus

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var (
	freePages = &Metric{Name: "pages_free", Type: TypeGauge, Help: "Pages on the free list."}
	tables    = &Metric{Name: "tables", Type: TypeGauge, Help: "Translation tables in use."}
	allocs    = &Metric{Name: "allocations_total", Type: TypeCounter}
)

func init() {
	timeNow = func() time.Time { return time.Unix(1700000000, 0) }
}

func TestWriteAndParse(t *testing.T) {
	s := NewSnapshot().Add(
		NewData(freePages, 1234),
		LabeledData(tables, map[string]string{"stage": "early"}, 7),
		LabeledData(tables, map[string]string{"stage": "kernel"}, 12),
		NewData(allocs, 12),
	)
	var buf bytes.Buffer
	n, err := Write(&buf, ExportOptions{
		CommentHeader:  "bring-up\nof a test board",
		ExporterPrefix: "mars_",
		ExtraLabels:    map[string]string{"board": "virt"},
	}, s)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != buf.Len() {
		t.Errorf("Write returned %d, wrote %d bytes", n, buf.Len())
	}
	if !strings.HasPrefix(buf.String(), "# bring-up\n# of a test board\n") {
		t.Errorf("missing comment header:\n%s", buf.String())
	}

	families, err := Parse(&buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := make(map[string]float64)
	for name, mf := range families {
		for _, m := range mf.GetMetric() {
			key := name
			for _, l := range m.GetLabel() {
				key += "," + l.GetName() + "=" + l.GetValue()
			}
			got[key] = m.GetGauge().GetValue() + m.GetCounter().GetValue()
			if m.GetTimestampMs() != 1700000000000 {
				t.Errorf("%s: timestamp %d", key, m.GetTimestampMs())
			}
		}
	}
	want := map[string]float64{
		"mars_pages_free,board=virt":          1234,
		"mars_tables,board=virt,stage=early":  7,
		"mars_tables,board=virt,stage=kernel": 12,
		"mars_allocations_total,board=virt":   12,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parsed metrics mismatch (-want +got):\n%s", diff)
	}
}

func TestConflictingLabels(t *testing.T) {
	s := NewSnapshot().Add(LabeledData(tables, map[string]string{"board": "a"}, 1))
	if _, err := Write(&bytes.Buffer{}, ExportOptions{ExtraLabels: map[string]string{"board": "b"}}, s); err == nil {
		t.Errorf("Write with a label set twice succeeded")
	}
}

func TestConflictingTypes(t *testing.T) {
	s := NewSnapshot().Add(
		NewData(&Metric{Name: "x", Type: TypeGauge}, 1),
		NewData(&Metric{Name: "x", Type: TypeCounter}, 1),
	)
	if _, err := Write(&bytes.Buffer{}, ExportOptions{}, s); err == nil {
		t.Errorf("Write with conflicting types succeeded")
	}
}
