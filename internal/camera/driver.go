package camera

import (
	"fmt"
	"sort"
	"time"
)

// DriverType はドライバーの種類を定義
type DriverType string

const (
	// DriverV4L2 はV4L2デバイスを扱うドライバー
	DriverV4L2 DriverType = "v4l2"
	// DriverMock はハードウェア無しで動く疑似ドライバー
	DriverMock DriverType = "mock"
)

// DriverConfig はドライバー作成設定
type DriverConfig struct {
	Device         string        // 対象デバイス（モックでは列挙されるデバイス名）
	Pattern        string        // V4L2デバイスの検索パターン
	Width          int           // 要求する画像幅
	Height         int           // 要求する画像高さ
	FPS            int           // モックのフレームレート
	CaptureTimeout time.Duration // 1フレームを待つ最大時間
}

// DriverCreator はドライバー作成関数の型
type DriverCreator func(cfg DriverConfig) (Driver, error)

// DriverFactory はドライバー作成ファクトリー
type DriverFactory interface {
	CreateDriver(driverType DriverType, cfg DriverConfig) (Driver, error)
	GetSupportedTypes() []DriverType
}

// DefaultDriverFactory は標準実装
type DefaultDriverFactory struct {
	creators map[DriverType]DriverCreator
}

// NewDriverFactory は新しいファクトリーを作成する
func NewDriverFactory() *DefaultDriverFactory {
	factory := &DefaultDriverFactory{
		creators: make(map[DriverType]DriverCreator),
	}

	factory.Register(DriverV4L2, newV4L2Driver)
	factory.Register(DriverMock, newMockDriverFromConfig)

	return factory
}

// Register はドライバー作成関数を登録する
func (f *DefaultDriverFactory) Register(driverType DriverType, creator DriverCreator) {
	f.creators[driverType] = creator
}

// CreateDriver はドライバーを作成する
func (f *DefaultDriverFactory) CreateDriver(driverType DriverType, cfg DriverConfig) (Driver, error) {
	creator, exists := f.creators[driverType]
	if !exists {
		return nil, fmt.Errorf("サポートされていないドライバー: %s", driverType)
	}

	return creator(cfg)
}

// GetSupportedTypes はサポートされているドライバーを名前順に返す
func (f *DefaultDriverFactory) GetSupportedTypes() []DriverType {
	types := make([]DriverType, 0, len(f.creators))
	for driverType := range f.creators {
		types = append(types, driverType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// newMockDriverFromConfig は設定からMockDriverを作成する
func newMockDriverFromConfig(cfg DriverConfig) (Driver, error) {
	device := cfg.Device
	if device == "" {
		device = "/dev/video0"
	}

	var interval time.Duration
	if cfg.FPS > 0 {
		interval = time.Second / time.Duration(cfg.FPS)
	}

	return NewMockDriver(MockConfig{
		Devices:       []string{device},
		Width:         cfg.Width,
		Height:        cfg.Height,
		Format:        FormatMJPEG,
		FrameInterval: interval,
	}), nil
}
