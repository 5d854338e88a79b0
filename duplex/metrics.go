// Copyright 2025 The rsocketd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package duplex

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rsocketd/rsocketd/common"
)

var (
	framesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "frames_received_total",
			Help:      "Frames received total",
		},
		[]string{"type"},
	)

	framesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "frames_sent_total",
			Help:      "Frames sent total",
		},
		[]string{"type"},
	)

	activeConns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "active_connections",
			Help:      "Active duplex connections",
		},
	)

	protocolViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "protocol_violations_total",
			Help:      "Protocol violations total",
		},
	)

	keepaliveTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "keepalive_timeouts_total",
			Help:      "KeepAlive timeouts total",
		},
	)

	handlerPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "handler_panics_total",
			Help:      "Handler panics recovered total",
		},
	)
)
