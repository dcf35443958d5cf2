package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"
)

// MockConfig はモックドライバーの動作設定
type MockConfig struct {
	Devices       []string      // 列挙されるデバイスパス
	Width         int           // フレーム幅
	Height        int           // フレーム高さ
	Format        PixelFormat   // FormatGrey または FormatMJPEG
	SceneLux      float64       // 露光1秒あたりの輝度（画素値）
	FrameInterval time.Duration // 1フレームのキャプチャに掛かる時間
	FailAfter     int           // この枚数をキャプチャした後に失敗する（0以下は無制限）
	EmptyAfter    int           // この枚数の後はデータが空のフレームを返す（0以下は無効）
	OpenErr       error         // Open が返すエラー
	PanicOnOpen   bool          // Open でpanicする
	NotReady      bool          // オープン後 IsReady が false を返す
}

// mockHistoryLimit は記録するフレームと露光値の上限
const mockHistoryLimit = 1024

// MockDriver はテストとハードウェア無し環境向けの Driver 実装
type MockDriver struct {
	mu  sync.Mutex
	cfg MockConfig

	listCalls int
	opens     int
	closes    int
	cancels   int
	openNow   int
	maxOpen   int

	inCapture     int
	maxInCapture  int
	totalCaptures int
	exposures     []time.Duration
	gains         []int
	captured      []*Frame
}

// NewMockDriver は新しいMockDriverを作成する
func NewMockDriver(cfg MockConfig) *MockDriver {
	if cfg.Width <= 0 {
		cfg.Width = 64
	}
	if cfg.Height <= 0 {
		cfg.Height = 48
	}
	if cfg.Format == "" {
		cfg.Format = FormatGrey
	}
	if cfg.SceneLux == 0 {
		cfg.SceneLux = 1000
	}
	return &MockDriver{cfg: cfg}
}

// ListCameras はモックデバイス一覧を返す
func (d *MockDriver) ListCameras(_ context.Context) ([]DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.listCalls++
	infos := make([]DeviceInfo, 0, len(d.cfg.Devices))
	for i, dev := range d.cfg.Devices {
		infos = append(infos, DeviceInfo{
			ID:     i,
			Name:   fmt.Sprintf("テストカメラ %d", i+1),
			Device: dev,
			Driver: "mock",
		})
	}
	return infos, nil
}

// Open はモックカメラを開く
func (d *MockDriver) Open(_ context.Context, info DeviceInfo) (Camera, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cfg.PanicOnOpen {
		panic("モック: オープン中にpanic")
	}
	if d.cfg.OpenErr != nil {
		return nil, d.cfg.OpenErr
	}

	d.opens++
	d.openNow++
	if d.openNow > d.maxOpen {
		d.maxOpen = d.openNow
	}

	return &MockCamera{
		driver:   d,
		info:     info,
		ready:    !d.cfg.NotReady,
		exposure: 100 * time.Millisecond,
	}, nil
}

// SetDevices はテスト用に列挙されるデバイスを差し替える
func (d *MockDriver) SetDevices(devices []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.Devices = devices
}

// SetFailAfter はテスト用に失敗までのフレーム数を設定する
func (d *MockDriver) SetFailAfter(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.FailAfter = n
	d.totalCaptures = 0
}

// SetOpenErr はテスト用にOpenのエラーを設定する
func (d *MockDriver) SetOpenErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.OpenErr = err
}

// Counts はオープン・クローズ・キャンセルの回数を返す
func (d *MockDriver) Counts() (opens, closes, cancels int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens, d.closes, d.cancels
}

// ListCalls は ListCameras の呼び出し回数を返す
func (d *MockDriver) ListCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listCalls
}

// OpenHandles は現在開いているハンドル数を返す
func (d *MockDriver) OpenHandles() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openNow
}

// MaxOpenHandles は同時に開かれたハンドル数の最大値を返す
func (d *MockDriver) MaxOpenHandles() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxOpen
}

// MaxConcurrentCaptures は同時に実行されたキャプチャ数の最大値を返す
func (d *MockDriver) MaxConcurrentCaptures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxInCapture
}

// Exposures は SetExposure に渡された値を順に返す
func (d *MockDriver) Exposures() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]time.Duration, len(d.exposures))
	copy(out, d.exposures)
	return out
}

// Gains は SetGain に渡された値を順に返す
func (d *MockDriver) Gains() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, len(d.gains))
	copy(out, d.gains)
	return out
}

// CapturedFrames はキャプチャされたフレームを順に返す
func (d *MockDriver) CapturedFrames() []*Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Frame, len(d.captured))
	copy(out, d.captured)
	return out
}

// MockCamera は MockDriver が返す Camera 実装
type MockCamera struct {
	driver *MockDriver
	info   DeviceInfo

	mu       sync.Mutex
	ready    bool
	closed   bool
	exposure time.Duration
	gain     int
}

// IsReady は準備完了かを返す
func (c *MockCamera) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready && !c.closed
}

// SetGain はゲインを記録する
func (c *MockCamera) SetGain(gain int) error {
	c.mu.Lock()
	c.gain = gain
	c.mu.Unlock()

	c.driver.mu.Lock()
	c.driver.gains = append(c.driver.gains, gain)
	c.driver.mu.Unlock()
	return nil
}

// SetExposure は露光時間を記録する
func (c *MockCamera) SetExposure(exposure time.Duration) error {
	c.mu.Lock()
	c.exposure = exposure
	c.mu.Unlock()

	c.driver.mu.Lock()
	c.driver.exposures = appendLimited(c.driver.exposures, exposure)
	c.driver.mu.Unlock()
	return nil
}

// CaptureImage は露光時間に比例した明るさの一様フレームを生成する
func (c *MockCamera) CaptureImage(ctx context.Context) (*Frame, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("モック: カメラはクローズ済みです")
	}
	exposure := c.exposure
	c.mu.Unlock()

	d := c.driver
	d.mu.Lock()
	d.inCapture++
	if d.inCapture > d.maxInCapture {
		d.maxInCapture = d.inCapture
	}
	d.totalCaptures++
	n := d.totalCaptures
	cfg := d.cfg
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.inCapture--
		d.mu.Unlock()
	}()

	if cfg.FrameInterval > 0 {
		select {
		case <-time.After(cfg.FrameInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if cfg.FailAfter > 0 && n > cfg.FailAfter {
		return nil, fmt.Errorf("モック: %d 枚目のキャプチャに失敗", n)
	}

	level := cfg.SceneLux * exposure.Seconds()
	if level > 255 {
		level = 255
	}
	if level < 0 {
		level = 0
	}

	frame := &Frame{
		Format:    cfg.Format,
		Width:     cfg.Width,
		Height:    cfg.Height,
		Exposure:  exposure,
		Timestamp: time.Now(),
	}

	gray := image.NewGray(image.Rect(0, 0, cfg.Width, cfg.Height))
	for i := range gray.Pix {
		gray.Pix[i] = uint8(level)
	}

	switch cfg.Format {
	case FormatMJPEG:
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, gray, nil); err != nil {
			return nil, fmt.Errorf("モック: JPEGエンコードに失敗: %w", err)
		}
		frame.Data = buf.Bytes()
	default:
		frame.Format = FormatGrey
		frame.Data = gray.Pix
	}

	if cfg.EmptyAfter > 0 && n > cfg.EmptyAfter {
		frame.Data = nil
	}

	d.mu.Lock()
	d.captured = appendLimited(d.captured, frame)
	d.mu.Unlock()

	return frame, nil
}

// CancelCapture はキャンセル回数を記録する
func (c *MockCamera) CancelCapture() error {
	c.driver.mu.Lock()
	c.driver.cancels++
	c.driver.mu.Unlock()
	return nil
}

// Close はカメラをクローズする
func (c *MockCamera) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("モック: 二重クローズ")
	}
	c.closed = true
	c.mu.Unlock()

	c.driver.mu.Lock()
	c.driver.closes++
	c.driver.openNow--
	c.driver.mu.Unlock()
	return nil
}

// appendLimited は mockHistoryLimit を超えた古い要素を捨てて追加する
func appendLimited[T any](s []T, v T) []T {
	s = append(s, v)
	if len(s) > mockHistoryLimit {
		s = s[len(s)-mockHistoryLimit:]
	}
	return s
}
