// Package api 只读 HTTP 查询接口：本地账本的成交/待定成交，以及链上挂单透传。
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gopherdex.com/pkg/middleware"
	"gopherdex.com/pkg/ratelimit"
)

func NewRouter(addr string, h *Handler) *http.Server {
	// 限流，清理协程跟服务同生命周期
	store := ratelimit.NewStore(100, 200, 10*time.Minute)
	store.StartJanitor(context.Background(), time.Minute)
	// 监控
	r := gin.New()
	p := ginprom.NewPrometheus("gopherdex")
	p.Use(r)
	r.Use(
		otelgin.Middleware("tradesd"),
		middleware.ReqId(),
		cors.Default(),
		middleware.Recover(),
		middleware.RateLimit(store),
	)

	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/trades", h.Trades)
		v1.GET("/trades/pending", h.PendingTrades)
		v1.GET("/orders", h.Orders)
	}

	return &http.Server{
		Addr:           addr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}
