package bridge

import (
	"net/http"
	"time"

	"github.com/danmuck/wsbridge/internal/protocol/schema"
	"github.com/danmuck/wsbridge/internal/protocol/serializer"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "0.1.0"

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": s.cfg.Name,
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":       true,
			"uptime":      time.Since(s.appeared).String(),
			"service":     s.cfg.Name,
			"connections": len(s.ConnectionIDs()),
		})
	})

	s.router.GET("/protocol", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"encodings":  serializer.Names(),
			"default":    s.cfg.Encoding,
			"vocabulary": schema.Vocabulary(),
			"operations": operationsView(),
		})
	})

	s.router.GET("/topics", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.broker.Snapshot())
	})

	s.router.GET("/ws", func(c *gin.Context) {
		s.handleWebsocket(c, s.cfg.Encoding)
	})

	s.router.GET("/ws/:encoding", func(c *gin.Context) {
		s.handleWebsocket(c, c.Param("encoding"))
	})
}

type fieldView struct {
	Key  string `json:"key"`
	Kind string `json:"kind"`
}

type operationView struct {
	Op       string      `json:"op"`
	Method   string      `json:"method"`
	Required []fieldView `json:"required"`
	Optional []fieldView `json:"optional"`
}

func operationsView() []operationView {
	ops := schema.Operations()
	out := make([]operationView, 0, len(ops))
	for _, op := range ops {
		out = append(out, operationView{
			Op:       op.Op.String(),
			Method:   op.Method,
			Required: fieldsView(op.Required),
			Optional: fieldsView(op.Optional),
		})
	}
	return out
}

func fieldsView(reqs []schema.Requirement) []fieldView {
	out := make([]fieldView, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, fieldView{Key: r.Key, Kind: r.Kind.String()})
	}
	return out
}
