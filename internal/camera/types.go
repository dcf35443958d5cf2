package camera

import (
	"context"
	"errors"
	"time"
)

// Status はグラバーの動作状態を表す
type Status string

const (
	StatusInactive Status = "inactive" // 停止中（デバイス未オープン）
	StatusIdle     Status = "idle"     // デバイスはオープン済みだがキャプチャしていない
	StatusActive   Status = "active"   // キャプチャ中
)

// エラー分類
var (
	// ErrNoDevice は列挙結果にデバイスが1台も無いことを表す
	ErrNoDevice = errors.New("カメラデバイスが見つかりません")
	// ErrOpen はデバイスは列挙されたがオープンできなかった、または準備完了にならなかったことを表す
	ErrOpen = errors.New("カメラデバイスのオープンに失敗しました")
	// ErrCapture はキャプチャループでフレームの取得または配信ができなかったことを表す
	ErrCapture = errors.New("フレームのキャプチャに失敗しました")
)

// DeviceInfo は列挙されたカメラデバイスの情報を表す
type DeviceInfo struct {
	ID     int    // ドライバー内での識別番号
	Name   string // デバイス名
	Device string // デバイスパス（例: /dev/video0）
	Driver string // ドライバー名
}

// Driver はカメラの列挙とオープンを担うインターフェース
type Driver interface {
	// ListCameras は利用可能なカメラを列挙する
	ListCameras(ctx context.Context) ([]DeviceInfo, error)

	// Open は指定されたカメラのセッションを開く
	Open(ctx context.Context, info DeviceInfo) (Camera, error)
}

// Camera はオープン済みのカメラセッションを表す
type Camera interface {
	// IsReady はキャプチャ可能な状態かを返す
	IsReady() bool

	// SetGain はゲインを設定する
	SetGain(gain int) error

	// SetExposure は露光時間を設定する
	SetExposure(exposure time.Duration) error

	// CaptureImage は1フレームを同期的にキャプチャする
	CaptureImage(ctx context.Context) (*Frame, error)

	// CancelCapture は実行中のキャプチャを中断する
	CancelCapture() error

	// Close はセッションを閉じる
	Close() error
}

// FrameHandler はキャプチャされたフレームの受け取り手
//
// Deliver はワーカーゴルーチン上で同期的に呼ばれる。payload は呼び出しの間だけ有効で、
// 保持したい場合はコピーしなければならない。
type FrameHandler interface {
	Deliver(payload []byte)
}

// FrameHandlerFunc は関数を FrameHandler として扱うためのアダプタ
type FrameHandlerFunc func(payload []byte)

// Deliver は f(payload) を呼ぶ
func (f FrameHandlerFunc) Deliver(payload []byte) {
	f(payload)
}

// ExposureParams は自動露出の目標と制約
type ExposureParams struct {
	Initial          time.Duration // キャプチャ開始時の露光時間
	Min              time.Duration // 露光時間の下限
	Max              time.Duration // 露光時間の上限
	TargetPercentile float64       // 目標とする輝度パーセンタイル (0-100)
	TargetValue      float64       // パーセンタイル値の目標 (16bitスケール)
	Tolerance        float64       // 目標値からこの範囲内なら露光を変更しない
	MaxStepRatio     float64       // 1回の調整で許容する倍率の上限
	ExcludePixels    int           // ホットピクセルとして無視する最明画素数
}

// DefaultExposureParams はデフォルトの自動露出パラメータを返す
func DefaultExposureParams() ExposureParams {
	return ExposureParams{
		Initial:          100 * time.Millisecond,
		Min:              100 * time.Microsecond,
		Max:              1 * time.Second,
		TargetPercentile: 99.99,
		TargetValue:      40000,
		Tolerance:        5000,
		MaxStepRatio:     4,
		ExcludePixels:    100,
	}
}

// Stats はグラバーの稼働統計
type Stats struct {
	Device          string        `json:"device"`
	Status          Status        `json:"status"`
	Session         string        `json:"session,omitempty"`
	FramesDelivered uint64        `json:"frames_delivered"`
	LastFrameAt     time.Time     `json:"last_frame_at,omitempty"`
	Exposure        time.Duration `json:"exposure"`
	LastError       string        `json:"last_error,omitempty"`
}
