// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package udo

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Master-side instrumentation, grounded on marmos91-dittofs's use of
// prometheus/client_golang for service-level counters (§11, §12 of
// SPEC_FULL.md). Metrics are registered against the default registry on
// package init, the same way most client_golang consumers in the retrieval
// pack wire up their collectors.
var (
	masterRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "udo_master_retries_total",
		Help: "UDO-IP master request retransmissions (timeout, short datagram or header mismatch).",
	})
	masterErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "udo_master_errors_total",
		Help: "UDO master requests that ultimately failed, by error code.",
	}, []string{"code"})
)

func init() {
	prometheus.MustRegister(masterRetriesTotal, masterErrorsTotal)
}

func observeMasterError(err error) {
	if err == nil {
		return
	}
	code := "unknown"
	if e, ok := err.(*Error); ok {
		code = strconv.Itoa(int(e.Code))
	}
	masterErrorsTotal.WithLabelValues(code).Inc()
}
