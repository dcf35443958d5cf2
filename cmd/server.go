// Package main はcamgrabサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"camgrab/internal/camera"
	"camgrab/internal/config"
	"camgrab/internal/log"
	"camgrab/internal/server"
)

func main() {
	// コマンドラインオプション
	var (
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		device     = flag.String("device", "", "カメラデバイス (デフォルト: /dev/video0)")
		driver     = flag.String("driver", "", "ドライバー: v4l2, mock (デフォルト: v4l2)")
		configPath = flag.String("config", "", "YAML設定ファイル (デフォルト: $CAMGRAB_CONFIG)")
		autostart  = flag.Bool("autostart", false, "起動時にキャプチャを開始する")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("camgrab")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("ドライバー:", camera.NewDriverFactory().GetSupportedTypes())
		os.Exit(0)
	}

	// 設定を読み込む
	path := *configPath
	if path == "" {
		path = os.Getenv("CAMGRAB_CONFIG")
	}
	// 検証はコマンドラインオプションを反映した後に一度だけ行う
	cfg, err := config.Read(path)
	if err != nil {
		log.Error("設定の読み込みに失敗しました", "error", err)
		os.Exit(1)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *device != "" {
		cfg.Camera.Device = *device
	}
	if *driver != "" {
		cfg.Camera.Driver = *driver
	}
	if *autostart {
		cfg.Camera.Autostart = true
	}
	if err := cfg.Validate(); err != nil {
		log.Error("設定が不正です", "error", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level)

	srv, err := server.Build(cfg)
	if err != nil {
		log.Error("サーバーの作成に失敗しました", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// サーバーを起動
	log.Info("camgrab サーバーを起動します", "addr", cfg.ServerAddress(), "device", cfg.Camera.Device, "driver", cfg.Camera.Driver)
	if err := srv.Start(ctx); err != nil {
		log.Error("サーバーの起動に失敗しました", "error", err)
		os.Exit(1)
	}
}
