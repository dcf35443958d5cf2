package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"camgrab/internal/camera"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server ServerConfig `yaml:"server"`
	Camera CameraConfig `yaml:"camera"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Device  string `yaml:"device"`  // デバイスパスまたはカメラ名 (例: /dev/video0)
	Driver  string `yaml:"driver"`  // v4l2 または mock
	Pattern string `yaml:"pattern"` // V4L2デバイスの検索パターン

	Width  int `yaml:"width"`  // 画像幅（0ならデバイスの最大）
	Height int `yaml:"height"` // 画像高さ
	FPS    int `yaml:"fps"`    // モックのフレームレート

	Gain           int            `yaml:"gain"`            // キャプチャ開始時のゲイン
	CaptureTimeout time.Duration  `yaml:"capture_timeout"` // 1フレームを待つ最大時間
	Exposure       ExposureConfig `yaml:"exposure"`
	Autostart      bool           `yaml:"autostart"` // 起動時にキャプチャを開始する
}

// ExposureConfig は自動露出の設定
type ExposureConfig struct {
	Initial          time.Duration `yaml:"initial"`           // 開始時の露光時間
	Min              time.Duration `yaml:"min"`               // 最短露光時間
	Max              time.Duration `yaml:"max"`               // 最長露光時間
	TargetPercentile float64       `yaml:"target_percentile"` // 評価するパーセンタイル
	TargetValue      float64       `yaml:"target_value"`      // 目標輝度（16bitスケール）
	Tolerance        float64       `yaml:"tolerance"`         // 補正しない許容幅
	MaxStepRatio     float64       `yaml:"max_step_ratio"`    // 1フレームあたりの最大補正倍率
	ExcludePixels    int           `yaml:"exclude_pixels"`    // 除外する最も明るい画素数
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Load は設定を読み込む
// CAMGRAB_CONFIG が設定されていればYAMLファイルを読み、環境変数で上書きする
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CAMGRAB_CONFIG"))
}

// LoadFile は指定したYAMLファイルから設定を読み込む
// path が空ならデフォルト値と環境変数だけを使う
func LoadFile(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// Read はデフォルト値・YAMLファイル・環境変数を順に重ねた設定を返す
// 検証は行わないので、呼び出し側で上書きした後に Validate を呼ぶ
func Read(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// Default はデフォルト設定を返す
func Default() *Config {
	exposure := camera.DefaultExposureParams()
	grabber := camera.DefaultGrabberOptions()

	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Camera: CameraConfig{
			Device:         "/dev/video0",
			Driver:         string(camera.DriverV4L2),
			Pattern:        camera.DefaultDevicePattern,
			FPS:            15,
			Gain:           grabber.Gain,
			CaptureTimeout: 5 * time.Second,
			Exposure: ExposureConfig{
				Initial:          exposure.Initial,
				Min:              exposure.Min,
				Max:              exposure.Max,
				TargetPercentile: exposure.TargetPercentile,
				TargetValue:      exposure.TargetValue,
				Tolerance:        exposure.Tolerance,
				MaxStepRatio:     exposure.MaxStepRatio,
				ExcludePixels:    exposure.ExcludePixels,
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// decodeFile はYAMLファイルの内容を cfg に上書きする
func (c *Config) decodeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("設定ファイル %s を開けません: %w", path, err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(c); err != nil {
		return fmt.Errorf("設定ファイル %s の解析に失敗: %w", path, err)
	}
	return nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Camera.Device = getEnvOrDefault("CAMERA_DEVICE", c.Camera.Device)
	c.Camera.Driver = getEnvOrDefault("CAMERA_DRIVER", c.Camera.Driver)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	// カメラ設定の検証
	if c.Camera.Device == "" {
		return errors.New("カメラデバイスが設定されていません")
	}
	switch camera.DriverType(c.Camera.Driver) {
	case camera.DriverV4L2, camera.DriverMock:
	default:
		return fmt.Errorf("不明なドライバー: %q", c.Camera.Driver)
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		return fmt.Errorf("無効な解像度: %dx%d", c.Camera.Width, c.Camera.Height)
	}

	return c.Camera.Exposure.validate()
}

func (e ExposureConfig) validate() error {
	if e.Min <= 0 {
		return fmt.Errorf("最短露光時間は正の値が必要です: %v", e.Min)
	}
	if e.Max < e.Min {
		return fmt.Errorf("最長露光時間 %v が最短露光時間 %v より短いです", e.Max, e.Min)
	}
	if e.Initial < e.Min || e.Initial > e.Max {
		return fmt.Errorf("初期露光時間 %v が範囲 [%v, %v] の外です", e.Initial, e.Min, e.Max)
	}
	if e.TargetPercentile <= 0 || e.TargetPercentile > 100 {
		return fmt.Errorf("無効なパーセンタイル: %v", e.TargetPercentile)
	}
	if e.TargetValue <= 0 || e.TargetValue > 65535 {
		return fmt.Errorf("無効な目標輝度: %v", e.TargetValue)
	}
	if e.Tolerance < 0 {
		return fmt.Errorf("無効な許容幅: %v", e.Tolerance)
	}
	if e.MaxStepRatio < 1 {
		return fmt.Errorf("最大補正倍率は1以上が必要です: %v", e.MaxStepRatio)
	}
	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GrabberOptions はDeviceGrabber用の設定に変換する
func (c *Config) GrabberOptions() camera.GrabberOptions {
	e := c.Camera.Exposure
	return camera.GrabberOptions{
		Gain: c.Camera.Gain,
		Exposure: camera.ExposureParams{
			Initial:          e.Initial,
			Min:              e.Min,
			Max:              e.Max,
			TargetPercentile: e.TargetPercentile,
			TargetValue:      e.TargetValue,
			Tolerance:        e.Tolerance,
			MaxStepRatio:     e.MaxStepRatio,
			ExcludePixels:    e.ExcludePixels,
		},
	}
}

// DriverConfig はドライバー作成用の設定に変換する
func (c *Config) DriverConfig() camera.DriverConfig {
	return camera.DriverConfig{
		Device:         c.Camera.Device,
		Pattern:        c.Camera.Pattern,
		Width:          c.Camera.Width,
		Height:         c.Camera.Height,
		FPS:            c.Camera.FPS,
		CaptureTimeout: c.Camera.CaptureTimeout,
	}
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
