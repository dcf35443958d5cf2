package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"

	"camgrab/internal/camera"
	"camgrab/internal/config"
	"camgrab/internal/log"
)

// Grabber はHTTPから操作するキャプチャ制御の境界
type Grabber interface {
	Name() string
	StartCapturing(ctx context.Context) error
	StopCapturing() error
	Stats() camera.Stats
	Close() error
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config   *config.Config
	driver   camera.Driver
	grabber  Grabber
	snapshot *camera.SnapshotHandler
	logger   *slog.Logger
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, driver camera.Driver, grabber Grabber, snapshot *camera.SnapshotHandler) *Server {
	return &Server{
		config:   cfg,
		driver:   driver,
		grabber:  grabber,
		snapshot: snapshot,
		logger:   log.With("tag", "server"),
	}
}

// Build は設定からドライバーとDeviceGrabberを組み立ててServerを作成する
func Build(cfg *config.Config) (*Server, error) {
	factory := camera.NewDriverFactory()
	driver, err := factory.CreateDriver(camera.DriverType(cfg.Camera.Driver), cfg.DriverConfig())
	if err != nil {
		return nil, fmt.Errorf("ドライバーの作成に失敗: %w", err)
	}

	snapshot := camera.NewSnapshotHandler(nil)
	grabber := camera.NewDeviceGrabber(cfg.Camera.Device, driver, snapshot, cfg.GrabberOptions())

	return New(cfg, driver, grabber, snapshot), nil
}

// Handler はルート設定済みのginエンジンを返す
func (s *Server) Handler() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	s.setupRoutes(router)
	return router
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes(router gin.IRouter) {
	router.Use(requestLogger(s.logger), CrossOrigin())

	// ヘルスチェックエンドポイント
	router.GET("/health", s.HealthCheck)

	cam := router.Group("/v0/cam")
	cam.POST("/start", s.StartCapturing)
	cam.POST("/stop", s.StopCapturing)
	cam.GET("/test", s.TestDevice)
	cam.GET("/status", s.GetStatus)
	cam.GET("/snapshot", s.GetSnapshot)
}

// Start はサーバーを起動し、ctx がキャンセルされるまでブロックする
// 戻る前にキャプチャを停止してデバイスを解放する
func (s *Server) Start(ctx context.Context) error {
	defer s.Close()

	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = io.Discard

	engine := s.Handler()
	router, err := graceful.New(engine, graceful.WithServer(s.httpServer(engine)))
	if err != nil {
		return fmt.Errorf("サーバーの作成に失敗: %w", err)
	}

	if s.config.Camera.Autostart {
		if err := s.grabber.StartCapturing(ctx); err != nil {
			// デバイスが後から接続されることもあるので起動は続ける
			s.logger.Error("自動キャプチャ開始に失敗しました", "error", err)
		}
	}

	s.logger.Info("HTTPサーバーを起動しています", "addr", s.config.ServerAddress())
	if err := router.RunWithContext(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}

	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}

// httpServer は設定のアドレスとタイムアウトを持つ http.Server を作成する
func (s *Server) httpServer(handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         s.config.ServerAddress(),
		Handler:      handler,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}
}

// Close はキャプチャを停止してデバイスを解放する
func (s *Server) Close() error {
	return s.grabber.Close()
}

// requestLogger はリクエストをデバッグログに出力するミドルウェア
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("リクエスト",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

// CrossOrigin はすべてのオリジンからのアクセスを許可する
func CrossOrigin() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
