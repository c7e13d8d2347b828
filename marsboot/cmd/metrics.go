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

package cmd

import (
	"mars.dev/mars/pkg/earlyinit"
	"mars.dev/mars/pkg/prometheus"
)

var (
	pagesMetric = &prometheus.Metric{
		Name: "pages",
		Type: prometheus.TypeGauge,
		Help: "Pages managed by the page allocator, by state.",
	}
	chunksMetric = &prometheus.Metric{
		Name: "chunks",
		Type: prometheus.TypeGauge,
		Help: "Chunks registered with the page allocator.",
	}
	tablesMetric = &prometheus.Metric{
		Name: "translation_tables",
		Type: prometheus.TypeGauge,
		Help: "Translation tables allocated, by stage.",
	}
	regionsMetric = &prometheus.Metric{
		Name: "usable_regions",
		Type: prometheus.TypeGauge,
		Help: "Usable memory regions donated to the page allocator.",
	}
	usableBytesMetric = &prometheus.Metric{
		Name: "usable_bytes",
		Type: prometheus.TypeGauge,
		Help: "Bytes of usable memory donated to the page allocator.",
	}
)

// snapshot captures the state of as.
func snapshot(as *earlyinit.AddressSpace) *prometheus.Snapshot {
	var usable uint64
	for _, r := range as.Regions {
		usable += r.Size
	}
	return prometheus.NewSnapshot().Add(
		prometheus.LabeledData(pagesMetric, map[string]string{"state": "free"}, float64(as.Pages.FreePages())),
		prometheus.LabeledData(pagesMetric, map[string]string{"state": "allocated"}, float64(as.Pages.AllocatedPages())),
		prometheus.LabeledData(pagesMetric, map[string]string{"state": "total"}, float64(as.Pages.TotalPages())),
		prometheus.NewData(chunksMetric, float64(len(as.Pages.Chunks()))),
		prometheus.LabeledData(tablesMetric, map[string]string{"stage": "early"}, float64(as.Early.Tables())),
		prometheus.LabeledData(tablesMetric, map[string]string{"stage": "kernel"}, float64(as.Kernel.Tables())),
		prometheus.NewData(regionsMetric, float64(len(as.Regions))),
		prometheus.NewData(usableBytesMetric, float64(usable)),
	)
}
