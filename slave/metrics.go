// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package slave

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nvitya/udo"
)

// Slave-side instrumentation (§4.8, §11/§12 of SPEC_FULL.md), grounded on
// marmos91-dittofs's use of prometheus/client_golang for service-level
// counters.
var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "udo_slave_requests_total",
		Help: "UDO requests handled by a slave dispatcher, by result.",
	}, []string{"result"})

	dedupHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "udo_slave_dedup_hits_total",
		Help: "UDO-IP requests answered from the replay cache instead of re-executing the application callback.",
	})

	cacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "udo_slave_cache_evictions_total",
		Help: "UDO-IP answer-cache LRU slot evictions.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, dedupHitsTotal, cacheEvictionsTotal)
}

func observeResult(resp *udo.Response) {
	if resp.IsError() {
		requestsTotal.WithLabelValues("error").Inc()
	} else {
		requestsTotal.WithLabelValues("ok").Inc()
	}
}
