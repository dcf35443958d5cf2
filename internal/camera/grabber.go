package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"camgrab/internal/log"
)

// GrabberOptions はDeviceGrabberの動作設定
type GrabberOptions struct {
	Exposure ExposureParams // 自動露出パラメータ
	Gain     int            // キャプチャ開始時に設定するゲイン
}

// DefaultGrabberOptions はデフォルトの設定を返す
func DefaultGrabberOptions() GrabberOptions {
	return GrabberOptions{
		Exposure: DefaultExposureParams(),
		Gain:     20,
	}
}

// DeviceGrabber は1台のカメラデバイスのオープンからキャプチャループまでを管理する
//
// StartCapturing / StopCapturing / Close は任意のゴルーチンから呼べる。
// 状態遷移は mu で直列化され、ワーカーは mu を取らず capturing だけを参照する。
type DeviceGrabber struct {
	name    string
	driver  Driver
	handler FrameHandler
	opts    GrabberOptions
	logger  *slog.Logger

	mu     sync.Mutex
	camera Camera
	wg     sync.WaitGroup

	// mu の下で書き換え、読み取りはロック無しで行う
	initialized atomic.Bool
	capturing   atomic.Bool
	exposure  atomic.Int64 // ワーカーが更新する露光時間の推定値

	statsMu     sync.Mutex
	session     string
	frames      uint64
	lastFrameAt time.Time
	lastErr     error
}

// NewDeviceGrabber は新しいDeviceGrabberを作成する
func NewDeviceGrabber(name string, driver Driver, handler FrameHandler, opts GrabberOptions) *DeviceGrabber {
	if handler == nil {
		handler = FrameHandlerFunc(func([]byte) {})
	}
	g := &DeviceGrabber{
		name:    name,
		driver:  driver,
		handler: handler,
		opts:    opts,
		logger:  log.With("tag", "device-grabber", "device", name),
	}
	g.exposure.Store(int64(opts.Exposure.Initial))
	return g
}

// Name はデバイス名を返す
func (g *DeviceGrabber) Name() string {
	return g.name
}

// Capturing はキャプチャ中かを返す
func (g *DeviceGrabber) Capturing() bool {
	return g.capturing.Load()
}

// Initialized はデバイスがオープン済みかを返す
func (g *DeviceGrabber) Initialized() bool {
	return g.initialized.Load()
}

// StartCapturing はデバイスをオープンしてキャプチャループを開始する
// 既にキャプチャ中の場合は何もせず nil を返す
func (g *DeviceGrabber) StartCapturing(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.capturing.Load() {
		g.logger.Debug("既にキャプチャ中です")
		return nil
	}

	g.logger.Debug("キャプチャを開始します")

	if !g.initialized.Load() {
		if err := g.openDevice(ctx); err != nil {
			g.setLastError(err)
			return err
		}
	}

	// エラーで自発的に終了したワーカーが残っていれば回収する
	g.wg.Wait()

	session := uuid.NewString()
	g.statsMu.Lock()
	g.session = session
	g.lastErr = nil
	g.statsMu.Unlock()

	g.exposure.Store(int64(g.opts.Exposure.Initial))
	g.capturing.Store(true)

	g.wg.Add(1)
	go g.mainloop(context.WithoutCancel(ctx), g.camera, g.logger.With("session", session))

	g.logger.Info("キャプチャを開始しました", "session", session)
	return nil
}

// StopCapturing はキャプチャループを停止し、ワーカーの終了を待ってからデバイスをクローズする
// キャプチャしていない場合はデバイスに触れずに nil を返す
func (g *DeviceGrabber) StopCapturing() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stopLocked()
	return nil
}

// Close はキャプチャを停止し、開いたままのデバイスがあれば解放する
// 何度呼んでもよく、常に nil を返す
func (g *DeviceGrabber) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stopLocked()

	// ワーカーがエラーで終了した後はデバイスが開いたまま残っている
	g.wg.Wait()
	g.closeDevice()
	return nil
}

// stopLocked は停止処理の本体（ロック済み前提）
func (g *DeviceGrabber) stopLocked() {
	if !g.capturing.Load() {
		g.logger.Debug("キャプチャしていません")
		return
	}

	g.logger.Debug("キャプチャを停止します")

	g.capturing.Store(false)
	g.wg.Wait()

	g.closeDevice()

	g.logger.Info("キャプチャを停止しました")
}

// Status は現在の状態を返す
func (g *DeviceGrabber) Status() Status {
	if g.capturing.Load() {
		return StatusActive
	}
	if g.Initialized() {
		return StatusIdle
	}
	return StatusInactive
}

// Stats は稼働統計を返す
func (g *DeviceGrabber) Stats() Stats {
	status := g.Status()

	g.statsMu.Lock()
	defer g.statsMu.Unlock()

	s := Stats{
		Device:          g.name,
		Status:          status,
		Session:         g.session,
		FramesDelivered: g.frames,
		LastFrameAt:     g.lastFrameAt,
		Exposure:        time.Duration(g.exposure.Load()),
	}
	if g.lastErr != nil {
		s.LastError = g.lastErr.Error()
	}
	return s
}

// LastErr は直近のキャプチャ開始またはループで発生したエラーを返す
func (g *DeviceGrabber) LastErr() error {
	g.statsMu.Lock()
	defer g.statsMu.Unlock()
	return g.lastErr
}

// TestDevice はセッションを開かずにデバイスが列挙されるかを確認する
func TestDevice(ctx context.Context, driver Driver, name string) error {
	logger := log.With("tag", "device-grabber", "device", name)
	logger.Debug("デバイスをテストします")

	infos, err := driver.ListCameras(ctx)
	if err != nil {
		return fmt.Errorf("%w: デバイスの列挙に失敗: %w", ErrNoDevice, err)
	}
	if len(infos) == 0 {
		logger.Error("デバイスがありません")
		return fmt.Errorf("%w: %s", ErrNoDevice, name)
	}

	logger.Debug("デバイスのテストに成功しました", "count", len(infos))
	return nil
}

// openDevice はデバイスを列挙してセッションを開く（ロック済み前提）
func (g *DeviceGrabber) openDevice(ctx context.Context) error {
	if g.initialized.Load() {
		return nil
	}

	infos, err := g.driver.ListCameras(ctx)
	if err != nil {
		g.logger.Error("デバイスの列挙に失敗しました", "error", err)
		return fmt.Errorf("%w: デバイスの列挙に失敗: %w", ErrNoDevice, err)
	}
	if len(infos) == 0 {
		g.logger.Error("カメラが見つかりません")
		return fmt.Errorf("%w: %s", ErrNoDevice, g.name)
	}

	info := selectDevice(infos, g.name)

	cam, err := openCamera(ctx, g.driver, info)
	if err != nil {
		g.logger.Error("カメラのオープンに失敗しました", "target", info.Device, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrOpen, info.Device, err)
	}
	if !cam.IsReady() {
		g.logger.Error("カメラが準備完了になりません", "target", info.Device)
		if err := cam.Close(); err != nil {
			g.logger.Warn("準備できなかったカメラのクローズに失敗しました", "error", err)
		}
		return fmt.Errorf("%w: %s: 準備完了になりません", ErrOpen, info.Device)
	}

	g.camera = cam
	g.initialized.Store(true)

	g.logger.Debug("デバイスを初期化しました", "target", info.Device, "name", info.Name)
	return nil
}

// closeDevice は実行中のキャプチャを中断してセッションを閉じる（ロック済み・ワーカー回収済み前提）
func (g *DeviceGrabber) closeDevice() {
	if !g.initialized.Load() || g.camera == nil {
		return
	}

	g.logger.Debug("デバイスをクローズします")

	if err := g.camera.CancelCapture(); err != nil {
		g.logger.Warn("キャプチャの中断に失敗しました", "error", err)
	}
	if err := g.camera.Close(); err != nil {
		g.logger.Warn("デバイスのクローズに失敗しました", "error", err)
	}

	g.camera = nil
	g.initialized.Store(false)
}

// mainloop はキャプチャ・露出調整・配信を繰り返すワーカー
func (g *DeviceGrabber) mainloop(ctx context.Context, cam Camera, logger *slog.Logger) {
	defer g.wg.Done()
	defer g.capturing.Store(false)

	logger.Debug("メインループを開始しました")

	if err := cam.SetGain(g.opts.Gain); err != nil {
		logger.Warn("ゲインの設定に失敗しました", "gain", g.opts.Gain, "error", err)
	}

	exposure := time.Duration(g.exposure.Load())
	if err := cam.SetExposure(exposure); err != nil {
		logger.Warn("露光時間の設定に失敗しました", "exposure", exposure, "error", err)
	}

	for g.capturing.Load() {
		frame, err := cam.CaptureImage(ctx)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrCapture, err)
			logger.Error("フレームを取得できませんでした", "error", err)
			g.setLastError(err)
			break
		}

		next, err := frame.ComputeOptimalExposure(exposure, g.opts.Exposure)
		if err != nil {
			logger.Warn("自動露出の計算に失敗しました", "error", err)
			next = exposure
		}
		if err := cam.SetExposure(next); err != nil {
			logger.Warn("露光時間の設定に失敗しました", "exposure", next, "error", err)
		}
		exposure = next
		g.exposure.Store(int64(exposure))

		logger.Debug("新しいフレーム", "exposure", exposure)

		if err := g.readFrame(ctx, frame, logger); err != nil {
			err = fmt.Errorf("%w: %w", ErrCapture, err)
			logger.Error("フレームを配信できませんでした", "error", err)
			g.setLastError(err)
			break
		}
	}

	logger.Debug("メインループを停止しました")
}

// readFrame はフレームのペイロードを取り出してハンドラへ渡す
func (g *DeviceGrabber) readFrame(ctx context.Context, frame *Frame, logger *slog.Logger) error {
	payload, err := frame.EncodedPayload()
	if err != nil {
		return err
	}

	if logger.Enabled(ctx, slog.LevelDebug) {
		logger.Debug("フレームを配信します", "size", len(payload), "head", fmt.Sprintf("% x", payload[:min(10, len(payload))]))
	}

	g.handler.Deliver(payload)

	g.statsMu.Lock()
	g.frames++
	g.lastFrameAt = frame.Timestamp
	g.statsMu.Unlock()

	return nil
}

func (g *DeviceGrabber) setLastError(err error) {
	g.statsMu.Lock()
	defer g.statsMu.Unlock()
	g.lastErr = err
}

// selectDevice はデバイス名に一致するデバイスを選び、無ければ先頭を返す
func selectDevice(infos []DeviceInfo, name string) DeviceInfo {
	for _, info := range infos {
		if name != "" && (info.Device == name || info.Name == name) {
			return info
		}
	}
	return infos[0]
}

// openCamera はドライバーの Open を呼び、panic をエラーに変換する
func openCamera(ctx context.Context, driver Driver, info DeviceInfo) (cam Camera, err error) {
	defer func() {
		if r := recover(); r != nil {
			cam = nil
			err = fmt.Errorf("オープン中にpanicが発生: %v", r)
		}
	}()

	cam, err = driver.Open(ctx, info)
	if err != nil {
		// 途中まで作られたハンドルは解放する
		if cam != nil {
			_ = cam.Close()
		}
		return nil, err
	}
	if cam == nil {
		return nil, errors.New("ドライバーがカメラを返しませんでした")
	}
	return cam, nil
}
