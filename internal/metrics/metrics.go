// Copyright 2025 The SEYOAWE Authors
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

// Package metrics exposes the engine's prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StepsTotal counts completed steps by terminal status.
	StepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sawe",
		Subsystem: "engine",
		Name:      "steps_total",
		Help:      "Completed workflow steps by result status.",
	}, []string{"status"})

	// RetriesTotal counts retry attempts beyond the first invocation.
	RetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sawe",
		Subsystem: "engine",
		Name:      "retries_total",
		Help:      "Step retry attempts beyond the first invocation.",
	})

	// WorkflowsTotal counts finished workflow runs by outcome.
	WorkflowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sawe",
		Subsystem: "engine",
		Name:      "workflows_total",
		Help:      "Finished workflow runs by outcome.",
	}, []string{"status"})

	// WorkflowDuration observes wall-clock run durations in seconds.
	WorkflowDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sawe",
		Subsystem: "engine",
		Name:      "workflow_duration_seconds",
		Help:      "Wall-clock workflow run duration.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
	})

	// ApprovalsTotal counts resolved approval tickets by outcome.
	ApprovalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sawe",
		Subsystem: "approval",
		Name:      "tickets_total",
		Help:      "Resolved approval tickets by outcome.",
	}, []string{"state"})
)
