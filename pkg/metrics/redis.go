package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// redis 连接池水位，由 main 里的采样协程定期刷新
var (
	RedisPoolOpen         = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_open"})
	RedisPoolIdle         = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_idle"})
	RedisPoolStale        = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_stale"})
	RedisPoolWaitCount    = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_wait_count"})
	RedisPoolWaitDuration = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_wait_seconds"})
)
