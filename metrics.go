package lmcache

import "github.com/pascaldekloe/metrics"

var (
	metricConnections           = metrics.MustInteger("lmcache_connections", "Number of client connections being served")
	metricHits                  = metrics.MustCounter("lmcache_cache_hits_total", "Number of stored responses confirmed by the origin")
	metricMisses                = metrics.MustCounter("lmcache_cache_misses_total", "Number of requests without a fresh stored response")
	metricRevalidationsModified = metrics.MustCounter("lmcache_revalidations_modified_total", "Number of revalidations answered with new content")
	metricRevalidationErrors    = metrics.MustCounter("lmcache_revalidation_errors_total", "Number of failed revalidations served from the cache")
	metricOriginErrors          = metrics.MustCounter("lmcache_origin_errors_total", "Number of failed or empty origin fetches")
	metricStores                = metrics.MustCounter("lmcache_cache_stores_total", "Number of responses written to the cache")
	metricErrors                = metrics.MustCounter("lmcache_internal_errors_total", "Number of requests answered with 500")
)
