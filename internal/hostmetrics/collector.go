// Copyright (c) 2026 The umbrad developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package hostmetrics exports the cardinalities of a peer address ledger as
// Prometheus metrics.
package hostmetrics

import "github.com/prometheus/client_golang/prometheus"

// Source provides the cardinalities reported by a Collector.  It is
// satisfied by *hosts.Hosts.
type Source interface {
	// Len returns the number of stored addresses.
	Len() int

	// QuarantineLen returns the number of quarantined addresses.
	QuarantineLen() int

	// RejectedLen returns the number of rejected hostnames.
	RejectedLen() int
}

const namespace = "umbrad"

var (
	storedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "hosts", "stored"),
		"Number of peer addresses available for outbound connections.",
		nil, nil)

	quarantinedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "hosts", "quarantined"),
		"Number of peer addresses quarantined after failed connections.",
		nil, nil)

	rejectedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "hosts", "rejected"),
		"Number of hostnames peers are refused from.",
		nil, nil)
)

// Collector implements prometheus.Collector by reading the cardinalities of
// its source on every scrape.
type Collector struct {
	src Source
}

// Ensure Collector implements the prometheus.Collector interface.
var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector reporting the cardinalities of src.
func NewCollector(src Source) *Collector {
	return &Collector{src: src}
}

// Describe sends the descriptors of the reported metrics to ch.
//
// This is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- storedDesc
	ch <- quarantinedDesc
	ch <- rejectedDesc
}

// Collect sends the current cardinalities of the source to ch.
//
// This is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(storedDesc, prometheus.GaugeValue,
		float64(c.src.Len()))
	ch <- prometheus.MustNewConstMetric(quarantinedDesc,
		prometheus.GaugeValue, float64(c.src.QuarantineLen()))
	ch <- prometheus.MustNewConstMetric(rejectedDesc, prometheus.GaugeValue,
		float64(c.src.RejectedLen()))
}
