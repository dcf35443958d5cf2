package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"camgrab/internal/camera"
)

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// CaptureResponse は開始・停止のレスポンス
type CaptureResponse struct {
	Device  string        `json:"device"`
	Status  camera.Status `json:"status"`
	Session string        `json:"session,omitempty"`
}

// TestResponse はデバイステストのレスポンス
type TestResponse struct {
	Device    string `json:"device"`
	Available bool   `json:"available"`
}

// ErrorResponse はエラーレスポンス
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (s *Server) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// StartCapturing はキャプチャ開始エンドポイントの実装
func (s *Server) StartCapturing(c *gin.Context) {
	if err := s.grabber.StartCapturing(c.Request.Context()); err != nil {
		s.logger.Error("キャプチャを開始できません", "error", err)
		c.JSON(errorStatus(err), ErrorResponse{Error: err.Error()})
		return
	}

	stats := s.grabber.Stats()
	c.JSON(http.StatusOK, CaptureResponse{
		Device:  stats.Device,
		Status:  stats.Status,
		Session: stats.Session,
	})
}

// StopCapturing はキャプチャ停止エンドポイントの実装
func (s *Server) StopCapturing(c *gin.Context) {
	if err := s.grabber.StopCapturing(); err != nil {
		s.logger.Error("キャプチャを停止できません", "error", err)
		c.JSON(errorStatus(err), ErrorResponse{Error: err.Error()})
		return
	}

	stats := s.grabber.Stats()
	c.JSON(http.StatusOK, CaptureResponse{
		Device: stats.Device,
		Status: stats.Status,
	})
}

// TestDevice はデバイス確認エンドポイントの実装
func (s *Server) TestDevice(c *gin.Context) {
	name := s.grabber.Name()
	if err := camera.TestDevice(c.Request.Context(), s.driver, name); err != nil {
		c.JSON(errorStatus(err), ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, TestResponse{Device: name, Available: true})
}

// GetStatus は稼働状態取得エンドポイントの実装
func (s *Server) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.grabber.Stats())
}

// GetSnapshot は最新フレーム取得エンドポイントの実装
func (s *Server) GetSnapshot(c *gin.Context) {
	if s.snapshot == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "スナップショットは無効です"})
		return
	}

	frame, at, ok := s.snapshot.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "まだフレームがありません"})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Last-Modified", at.UTC().Format(http.TimeFormat))
	c.Data(http.StatusOK, http.DetectContentType(frame), frame)
}

// errorStatus はエラーの種類からHTTPステータスを決める
func errorStatus(err error) int {
	switch {
	case errors.Is(err, camera.ErrNoDevice):
		return http.StatusNotFound
	case errors.Is(err, camera.ErrOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
