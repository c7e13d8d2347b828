// Copyright 2022 The gVisor Authors.
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

// Package prometheus exports counters in the Prometheus text exposition
// format, documented at:
// https://prometheus.io/docs/instrumenting/exposition_formats/
package prometheus

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// timeNow is the time.Now() function. Can be mocked in tests.
var timeNow = time.Now

// Type is a Prometheus metric type.
type Type int

// List of supported Prometheus metric types.
const (
	TypeUntyped = Type(iota)
	TypeGauge
	TypeCounter
)

func (t Type) dto() dto.MetricType {
	switch t {
	case TypeGauge:
		return dto.MetricType_GAUGE
	case TypeCounter:
		return dto.MetricType_COUNTER
	default:
		return dto.MetricType_UNTYPED
	}
}

// Metric is a Prometheus metric metadata.
type Metric struct {
	// Name is the Prometheus metric name.
	Name string `json:"name"`

	// Type is the type of the metric.
	Type Type `json:"type"`

	// Help is an optional helpful string explaining what the metric is about.
	Help string `json:"help"`
}

// Data is an observation of the value of a single metric at a certain
// point in time.
type Data struct {
	// Metric is the metric for which the value is being reported.
	Metric *Metric

	// Labels is a key-value pair representing the labels set on this metric.
	Labels map[string]string

	// Value is the value of the metric.
	Value float64
}

// NewData returns a new Data for metric with value val.
func NewData(metric *Metric, val float64) *Data {
	return &Data{Metric: metric, Value: val}
}

// LabeledData returns a new Data for metric with the given labels.
func LabeledData(metric *Metric, labels map[string]string, val float64) *Data {
	return &Data{Metric: metric, Labels: labels, Value: val}
}

// Snapshot is a set of metric data taken at the same time.
type Snapshot struct {
	// When is the timestamp at which the snapshot was taken.
	When time.Time

	// Data is the list of data points in the snapshot.
	Data []*Data
}

// NewSnapshot returns a new Snapshot at the current time.
func NewSnapshot() *Snapshot {
	return &Snapshot{When: timeNow()}
}

// Add data point(s) to the snapshot.
// Returns itself for chainability.
func (s *Snapshot) Add(data ...*Data) *Snapshot {
	s.Data = append(s.Data, data...)
	return s
}

// ExportOptions contains options that control how metric data is exported.
type ExportOptions struct {
	// CommentHeader is prepended as a comment before any metric data is
	// exported.
	CommentHeader string

	// ExporterPrefix is prepended to all metric names.
	ExporterPrefix string

	// ExtraLabels are added as labels to all metric data.
	ExtraLabels map[string]string
}

// OrderedLabels returns the union of the label names of the given maps,
// sorted. It fails if the maps set the same label.
func OrderedLabels(labels ...map[string]string) ([]string, error) {
	var names []string
	seen := make(map[string]bool)
	for _, m := range labels {
		for name := range m {
			if seen[name] {
				return nil, fmt.Errorf("label %q is set more than once", name)
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// families groups the data of s into metric families keyed by prefixed
// name.
func (s *Snapshot) families(options ExportOptions) (map[string]*dto.MetricFamily, error) {
	families := make(map[string]*dto.MetricFamily)
	when := s.When.UnixMilli()
	for _, d := range s.Data {
		name := options.ExporterPrefix + d.Metric.Name
		mf, ok := families[name]
		if !ok {
			mf = &dto.MetricFamily{
				Name: proto.String(name),
				Type: d.Metric.Type.dto().Enum(),
			}
			if d.Metric.Help != "" {
				mf.Help = proto.String(d.Metric.Help)
			}
			families[name] = mf
		} else if mf.GetType() != d.Metric.Type.dto() {
			return nil, fmt.Errorf("metric %q reported with conflicting types", name)
		}

		names, err := OrderedLabels(d.Labels, options.ExtraLabels)
		if err != nil {
			return nil, fmt.Errorf("metric %q: %w", name, err)
		}
		m := &dto.Metric{TimestampMs: proto.Int64(when)}
		for _, label := range names {
			value, ok := d.Labels[label]
			if !ok {
				value = options.ExtraLabels[label]
			}
			m.Label = append(m.Label, &dto.LabelPair{
				Name:  proto.String(label),
				Value: proto.String(value),
			})
		}
		switch d.Metric.Type {
		case TypeGauge:
			m.Gauge = &dto.Gauge{Value: proto.Float64(d.Value)}
		case TypeCounter:
			m.Counter = &dto.Counter{Value: proto.Float64(d.Value)}
		default:
			m.Untyped = &dto.Untyped{Value: proto.Float64(d.Value)}
		}
		mf.Metric = append(mf.Metric, m)
	}
	return families, nil
}

// countingWriter implements io.Writer, and counts the number of bytes
// written to it.
type countingWriter struct {
	w       *bufio.Writer
	written int
}

// Write implements io.Writer.Write.
func (w *countingWriter) Write(b []byte) (int, error) {
	written, err := w.w.Write(b)
	w.written += written
	return written, err
}

// Written returns the number of bytes written to the underlying writer.
func (w *countingWriter) Written() int {
	return w.written
}

// Write writes the snapshot to the writer, one family per metric name in
// name order, and returns the number of bytes written.
func Write(w io.Writer, options ExportOptions, snapshot *Snapshot) (int, error) {
	families, err := snapshot.families(options)
	if err != nil {
		return 0, err
	}
	cw := &countingWriter{w: bufio.NewWriter(w)}
	if options.CommentHeader != "" {
		for _, commentLine := range strings.Split(options.CommentHeader, "\n") {
			if _, err := fmt.Fprintf(cw, "# %s\n", commentLine); err != nil {
				return cw.Written(), err
			}
		}
	}
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := expfmt.MetricFamilyToText(cw, families[name]); err != nil {
			return cw.Written(), err
		}
	}
	if err := cw.w.Flush(); err != nil {
		return cw.Written(), err
	}
	return cw.Written(), nil
}

// Parse reads metric families in the text format.
func Parse(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	return parser.TextToMetricFamilies(r)
}
