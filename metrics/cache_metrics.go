/***************************************************************
 *
 * Copyright (C) 2026, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache engine metrics: hit classification, byte provenance, and fetch
// lifecycle outcomes.

var (
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcache_cache_hits_total",
		Help: "Total number of cache probes by outcome",
	}, []string{"kind"}) // kind: full/partial/miss

	BytesFromCacheTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamcache_bytes_from_cache_total",
		Help: "Total bytes served from the local cache",
	})

	BytesFromOriginTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamcache_bytes_from_origin_total",
		Help: "Total bytes downloaded from origin servers",
	})

	CheckpointFlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamcache_checkpoint_flushes_total",
		Help: "Total number of incremental persistence checkpoints",
	})

	FetchFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcache_fetch_failures_total",
		Help: "Total number of failed fetch requests by failure kind",
	}, []string{"kind"}) // kind: network/range_mismatch/storage/cancelled/other

	ActiveFetches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamcache_active_fetches",
		Help: "Number of in-flight fetch requests",
	})
)
