package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"camgrab/internal/camera"
	"camgrab/internal/config"
)

// newTestServer はモックドライバーを使うServerを作成する
func newTestServer(t *testing.T, mockCfg camera.MockConfig) (*Server, *camera.MockDriver, http.Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Camera.Driver = string(camera.DriverMock)

	driver := camera.NewMockDriver(mockCfg)
	snapshot := camera.NewSnapshotHandler(nil)
	grabber := camera.NewDeviceGrabber(cfg.Camera.Device, driver, snapshot, cfg.GrabberOptions())
	srv := New(cfg, driver, grabber, snapshot)
	t.Cleanup(func() { _ = srv.Close() })

	return srv, driver, srv.Handler()
}

func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// TestHealthCheck はヘルスチェックをテストする
func TestHealthCheck(t *testing.T) {
	_, _, h := newTestServer(t, camera.MockConfig{})

	w := doRequest(t, h, http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Expected healthy, got %s", resp.Status)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header")
	}
}

// TestCaptureLifecycle はHTTP経由での開始・停止をテストする
func TestCaptureLifecycle(t *testing.T) {
	_, driver, h := newTestServer(t, camera.MockConfig{
		Devices:       []string{"/dev/video0"},
		Format:        camera.FormatMJPEG,
		FrameInterval: time.Millisecond,
	})

	w := doRequest(t, h, http.MethodPost, "/v0/cam/start")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var started CaptureResponse
	if err := json.Unmarshal(w.Body.Bytes(), &started); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if started.Status != camera.StatusActive || started.Session == "" {
		t.Errorf("Unexpected start response: %+v", started)
	}

	// フレームが届くまで待つ
	deadline := time.Now().Add(time.Second)
	for {
		w = doRequest(t, h, http.MethodGet, "/v0/cam/snapshot")
		if w.Code == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("No snapshot within deadline, last status %d", w.Code)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %s", ct)
	}

	w = doRequest(t, h, http.MethodGet, "/v0/cam/status")
	var stats camera.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if stats.Status != camera.StatusActive || stats.FramesDelivered == 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	w = doRequest(t, h, http.MethodPost, "/v0/cam/stop")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var stopped CaptureResponse
	if err := json.Unmarshal(w.Body.Bytes(), &stopped); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if stopped.Status != camera.StatusInactive {
		t.Errorf("Expected inactive after stop, got %s", stopped.Status)
	}

	opens, closes, _ := driver.Counts()
	if opens != 1 || closes != 1 {
		t.Errorf("Expected opens=1 closes=1, got %d %d", opens, closes)
	}
}

// TestNoDevice はデバイスが無い場合のステータスコードをテストする
func TestNoDevice(t *testing.T) {
	_, _, h := newTestServer(t, camera.MockConfig{})

	if w := doRequest(t, h, http.MethodGet, "/v0/cam/test"); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 from test, got %d", w.Code)
	}
	if w := doRequest(t, h, http.MethodPost, "/v0/cam/start"); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 from start, got %d", w.Code)
	}
	if w := doRequest(t, h, http.MethodGet, "/v0/cam/snapshot"); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 from snapshot, got %d", w.Code)
	}
	// 停止はキャプチャしていなくても成功する
	if w := doRequest(t, h, http.MethodPost, "/v0/cam/stop"); w.Code != http.StatusOK {
		t.Errorf("Expected 200 from stop, got %d", w.Code)
	}
}

// TestOpenFailure はオープン失敗のステータスコードをテストする
func TestOpenFailure(t *testing.T) {
	_, _, h := newTestServer(t, camera.MockConfig{Devices: []string{"/dev/video0"}, NotReady: true})

	if w := doRequest(t, h, http.MethodGet, "/v0/cam/test"); w.Code != http.StatusOK {
		t.Errorf("Expected 200 from test, got %d", w.Code)
	}
	if w := doRequest(t, h, http.MethodPost, "/v0/cam/start"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 from start, got %d", w.Code)
	}
}

// TestCrossOriginPreflight はプリフライトリクエストをテストする
func TestCrossOriginPreflight(t *testing.T) {
	_, _, h := newTestServer(t, camera.MockConfig{})

	w := doRequest(t, h, http.MethodOptions, "/v0/cam/start")
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", w.Code)
	}
}

// TestHTTPServerTimeouts は設定のタイムアウトが http.Server に渡ることをテストする
func TestHTTPServerTimeouts(t *testing.T) {
	srv, _, h := newTestServer(t, camera.MockConfig{})
	srv.config.Server.Host = "127.0.0.1"
	srv.config.Server.Port = 9191
	srv.config.Server.ReadTimeout = 3 * time.Second
	srv.config.Server.WriteTimeout = 7 * time.Second

	hs := srv.httpServer(h)
	if hs.Addr != "127.0.0.1:9191" {
		t.Errorf("Expected addr 127.0.0.1:9191, got %s", hs.Addr)
	}
	if hs.ReadTimeout != 3*time.Second {
		t.Errorf("Expected read timeout 3s, got %v", hs.ReadTimeout)
	}
	if hs.WriteTimeout != 7*time.Second {
		t.Errorf("Expected write timeout 7s, got %v", hs.WriteTimeout)
	}
	if hs.Handler == nil {
		t.Error("Expected handler to be set")
	}
}

// TestServerStartAndShutdown はサーバーの起動とシャットダウンをテストする
func TestServerStartAndShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0 // ランダムポートを使用
	cfg.Camera.Driver = string(camera.DriverMock)
	cfg.Camera.Autostart = true

	srv, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// サーバーが起動するまで少し待つ
	time.Sleep(100 * time.Millisecond)
	if stats := srv.grabber.Stats(); stats.Status != camera.StatusActive {
		t.Errorf("Expected autostart to begin capturing, got %s", stats.Status)
	}

	// コンテキストをキャンセルしてサーバーを停止
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Server returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not shut down in time")
	}

	// 終了時にデバイスは解放される
	if stats := srv.grabber.Stats(); stats.Status != camera.StatusInactive {
		t.Errorf("Expected device released after shutdown, got %s", stats.Status)
	}
}
