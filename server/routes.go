// Package server exposes flow and motion estimation over HTTP.
package server

import (
	"bytes"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/flowvision/flowmotion/api"
	"github.com/flowvision/flowmotion/envconfig"
	"github.com/flowvision/flowmotion/imageproc"
	"github.com/flowvision/flowmotion/ml"
	"github.com/flowvision/flowmotion/model/models/flowmotion"
	"github.com/flowvision/flowmotion/version"
)

type Server struct {
	ctx   ml.Context
	model *flowmotion.Model

	// One forward pass at a time keeps peak memory bounded.
	mu sync.Mutex
}

func New(ctx ml.Context, m *flowmotion.Model) *Server {
	return &Server{ctx: ctx, model: m}
}

func (s *Server) EstimateHandler(c *gin.Context) {
	var req api.EstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	if len(req.First) == 0 || len(req.Second) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Error: "two images are required"})
		return
	}

	first, err := imageproc.Decode(bytes.NewReader(req.First))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	second, err := imageproc.Decode(bytes.NewReader(req.Second))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}

	levels := req.Levels
	if levels <= 0 {
		levels = 1
	}
	if levels > len(s.model.Decoders) {
		levels = len(s.model.Decoders)
	}

	cfg := s.model.Config
	pair := imageproc.Pair(first, second, cfg.Height, cfg.Width)

	s.mu.Lock()
	out := s.model.Forward(s.ctx, s.ctx.FromFloats(pair, 1, 6, cfg.Height, cfg.Width))
	s.mu.Unlock()

	var resp api.EstimateResponse
	for k := 0; k < levels; k++ {
		resp.Flows = append(resp.Flows, flowPayload(k+1, out.Flows[k]))
	}
	for k, motion := range out.Motions {
		resp.Motions = append(resp.Motions, motionPayload(k+1, motion))
	}

	c.JSON(http.StatusOK, resp)
}

func flowPayload(level int, t ml.Tensor) api.Flow {
	h, w := t.Dim(2), t.Dim(3)
	v := t.Floats()
	return api.Flow{Level: level, Height: h, Width: w, DX: v[:h*w], DY: v[h*w : 2*h*w]}
}

func motionPayload(level int, t ml.Tensor) api.Motion {
	v := t.Floats()
	m := api.Motion{Level: level}
	copy(m.Rotation[:], v[:3])
	copy(m.Translation[:], v[3:6])
	return m
}

func (s *Server) GenerateRoutes() http.Handler {
	if !envconfig.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "FlowMotion is running") })
	r.HEAD("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })
	r.POST("/api/estimate", s.EstimateHandler)

	return r
}

func Serve(ln net.Listener, ctx ml.Context, m *flowmotion.Model) error {
	s := New(ctx, m)
	slog.Info("server listening", "addr", ln.Addr())

	srv := &http.Server{Handler: s.GenerateRoutes()}
	return srv.Serve(ln)
}
