//go:build linux

package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blackjack/webcam"
)

// V4L2のピクセルフォーマット (fourcc)
const (
	v4l2PixFmtMJPEG webcam.PixelFormat = 0x47504A4D
	v4l2PixFmtYUYV  webcam.PixelFormat = 0x56595559
	v4l2PixFmtGrey  webcam.PixelFormat = 0x59455247
)

// V4L2のコントロールID
const (
	v4l2CIDGain             webcam.ControlID = 0x00980913
	v4l2CIDExposureAuto     webcam.ControlID = 0x009a0901
	v4l2CIDExposureAbsolute webcam.ControlID = 0x009a0902

	v4l2ExposureManual = 1
	// V4L2_CID_EXPOSURE_ABSOLUTE の単位は100µs
	v4l2ExposureUnit = 100 * time.Microsecond
)

// 優先順に並べた対応フォーマット
var v4l2Formats = []struct {
	code   webcam.PixelFormat
	format PixelFormat
}{
	{v4l2PixFmtMJPEG, FormatMJPEG},
	{v4l2PixFmtYUYV, FormatYUYV},
	{v4l2PixFmtGrey, FormatGrey},
}

// V4L2Driver はblackjack/webcamを使ってV4L2デバイスを扱う Driver 実装
type V4L2Driver struct {
	cfg DriverConfig
}

// newV4L2Driver は新しいV4L2Driverを作成する
func newV4L2Driver(cfg DriverConfig) (Driver, error) {
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = 5 * time.Second
	}
	return &V4L2Driver{cfg: cfg}, nil
}

// ListCameras はキャプチャ可能なV4L2デバイスを列挙する
func (d *V4L2Driver) ListCameras(ctx context.Context) ([]DeviceInfo, error) {
	paths, err := scanVideoDevices(ctx, d.cfg.Pattern)
	if err != nil {
		return nil, err
	}

	infos := make([]DeviceInfo, 0, len(paths))
	for _, path := range paths {
		// メタデータ用ノードなどキャプチャできないデバイスは除外
		if !probeDevice(path) {
			continue
		}
		infos = append(infos, DeviceInfo{
			ID:     extractDeviceNumber(path),
			Name:   deviceName(path),
			Device: path,
			Driver: "v4l2",
		})
	}

	return infos, nil
}

// probeDevice はデバイスを開いて対応フォーマットがあるかを確認する
func probeDevice(path string) bool {
	cam, err := webcam.Open(path)
	if err != nil {
		return false
	}
	defer func() {
		_ = cam.Close()
	}()

	formats := cam.GetSupportedFormats()
	for _, f := range v4l2Formats {
		if _, ok := formats[f.code]; ok {
			return true
		}
	}
	return false
}

// Open はデバイスを開いてストリーミングを開始する
func (d *V4L2Driver) Open(_ context.Context, info DeviceInfo) (Camera, error) {
	cam, err := webcam.Open(info.Device)
	if err != nil {
		return nil, fmt.Errorf("デバイス %s を開けません: %w", info.Device, err)
	}

	c := &V4L2Camera{
		cam:     cam,
		device:  info.Device,
		timeout: d.cfg.CaptureTimeout,
	}
	if err := c.configure(d.cfg.Width, d.cfg.Height); err != nil {
		_ = cam.Close()
		return nil, err
	}

	if err := cam.StartStreaming(); err != nil {
		_ = cam.Close()
		return nil, fmt.Errorf("ストリーミングの開始に失敗: %w", err)
	}
	c.streaming = true

	return c, nil
}

// V4L2Camera はオープン済みのV4L2デバイス
type V4L2Camera struct {
	cam     *webcam.Webcam
	device  string
	timeout time.Duration

	format   PixelFormat
	width    int
	height   int
	controls map[webcam.ControlID]webcam.Control

	mu        sync.Mutex
	streaming bool
	cancelled bool
	closed    bool
	exposure  time.Duration
}

// configure はフォーマットと解像度を選択する
func (c *V4L2Camera) configure(width, height int) error {
	supported := c.cam.GetSupportedFormats()

	var code webcam.PixelFormat
	for _, f := range v4l2Formats {
		if _, ok := supported[f.code]; ok {
			code = f.code
			c.format = f.format
			break
		}
	}
	if code == 0 {
		return fmt.Errorf("デバイス %s は対応フォーマットをサポートしていません", c.device)
	}

	size, ok := chooseFrameSize(c.cam.GetSupportedFrameSizes(code), width, height)
	if !ok {
		return fmt.Errorf("デバイス %s のフレームサイズを取得できません", c.device)
	}

	f, w, h, err := c.cam.SetImageFormat(code, size.width, size.height)
	if err != nil {
		return fmt.Errorf("画像フォーマットの設定に失敗: %w", err)
	}
	if f != code {
		return fmt.Errorf("デバイスが要求と異なるフォーマットを選択しました: %#x", uint32(f))
	}
	c.width = int(w)
	c.height = int(h)

	if err := c.cam.SetBufferCount(4); err != nil {
		return fmt.Errorf("バッファ数の設定に失敗: %w", err)
	}

	c.controls = c.cam.GetControls()
	if _, ok := c.controls[v4l2CIDExposureAuto]; ok {
		// 露光は自前で制御するため手動モードにする
		if err := c.cam.SetControl(v4l2CIDExposureAuto, v4l2ExposureManual); err != nil {
			return fmt.Errorf("手動露出モードへの切り替えに失敗: %w", err)
		}
	}

	return nil
}

type frameSize struct {
	width  uint32
	height uint32
}

// chooseFrameSize は要求に最も近いサイズを選ぶ
// 要求が0なら最大サイズを選ぶ
func chooseFrameSize(sizes []webcam.FrameSize, width, height int) (frameSize, bool) {
	if len(sizes) == 0 {
		return frameSize{}, false
	}

	var best frameSize
	var bestScore int64
	found := false
	for _, s := range sizes {
		w, h := s.MaxWidth, s.MaxHeight
		if width > 0 && height > 0 && s.StepWidth > 0 && s.StepHeight > 0 {
			// 連続・段階指定のサイズは範囲内に丸める
			w = clampUint32(uint32(width), s.MinWidth, s.MaxWidth)
			h = clampUint32(uint32(height), s.MinHeight, s.MaxHeight)
		}

		var score int64
		if width > 0 && height > 0 {
			dw := int64(w) - int64(width)
			dh := int64(h) - int64(height)
			score = -(dw*dw + dh*dh)
		} else {
			score = int64(w) * int64(h)
		}

		if !found || score > bestScore {
			best = frameSize{width: w, height: h}
			bestScore = score
			found = true
		}
	}
	return best, true
}

func clampUint32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// IsReady はストリーミング中かを返す
func (c *V4L2Camera) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming && !c.closed
}

// SetGain はV4L2_CID_GAINを設定する
// デバイスがゲインを持たない場合は何もしない
func (c *V4L2Camera) SetGain(gain int) error {
	ctrl, ok := c.controls[v4l2CIDGain]
	if !ok {
		return nil
	}
	value := clampInt32(int32(gain), ctrl.Min, ctrl.Max)
	if err := c.cam.SetControl(v4l2CIDGain, value); err != nil {
		return fmt.Errorf("ゲインの設定に失敗: %w", err)
	}
	return nil
}

// SetExposure はV4L2_CID_EXPOSURE_ABSOLUTEを設定する
// デバイスが露光時間の制御を持たない場合は値だけ記録する
func (c *V4L2Camera) SetExposure(exposure time.Duration) error {
	c.mu.Lock()
	c.exposure = exposure
	c.mu.Unlock()

	ctrl, ok := c.controls[v4l2CIDExposureAbsolute]
	if !ok {
		return nil
	}
	value := clampInt32(int32(exposure/v4l2ExposureUnit), ctrl.Min, ctrl.Max)
	if err := c.cam.SetControl(v4l2CIDExposureAbsolute, value); err != nil {
		return fmt.Errorf("露光時間の設定に失敗: %w", err)
	}
	return nil
}

func clampInt32(v, lo, hi int32) int32 {
	if lo < hi {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
	}
	return v
}

// CaptureImage は次のフレームを待って読み取る
func (c *V4L2Camera) CaptureImage(ctx context.Context) (*Frame, error) {
	deadline := time.Now().Add(c.timeout)

	for {
		c.mu.Lock()
		cancelled := c.cancelled || c.closed
		exposure := c.exposure
		c.mu.Unlock()
		if cancelled {
			return nil, errors.New("キャプチャは中断されました")
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%v 以内にフレームを取得できませんでした", c.timeout)
		}

		// キャンセルを確認できるよう1秒ずつ待つ
		err := c.cam.WaitForFrame(1)
		var timeout *webcam.Timeout
		switch {
		case err == nil:
		case errors.As(err, &timeout):
			continue
		default:
			return nil, fmt.Errorf("フレーム待ちに失敗: %w", err)
		}

		data, err := c.cam.ReadFrame()
		if err != nil {
			return nil, fmt.Errorf("フレームの読み取りに失敗: %w", err)
		}
		if len(data) == 0 {
			continue
		}

		// ドライバーのバッファは再利用されるためコピーする
		buf := make([]byte, len(data))
		copy(buf, data)

		return &Frame{
			Data:      buf,
			Format:    c.format,
			Width:     c.width,
			Height:    c.height,
			Exposure:  exposure,
			Timestamp: time.Now(),
		}, nil
	}
}

// CancelCapture はストリーミングを停止し、以降のキャプチャを中断させる
func (c *V4L2Camera) CancelCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelled = true
	if !c.streaming || c.closed {
		return nil
	}
	c.streaming = false
	if err := c.cam.StopStreaming(); err != nil {
		return fmt.Errorf("ストリーミングの停止に失敗: %w", err)
	}
	return nil
}

// Close はデバイスを閉じる
func (c *V4L2Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	if c.streaming {
		_ = c.cam.StopStreaming()
		c.streaming = false
	}
	c.closed = true
	if err := c.cam.Close(); err != nil {
		return fmt.Errorf("デバイス %s のクローズに失敗: %w", c.device, err)
	}
	return nil
}
