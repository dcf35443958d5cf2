package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"camgrab/internal/config"
	"camgrab/internal/log"
	"camgrab/internal/server"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Error("設定の読み込みに失敗しました", "error", err)
		os.Exit(1)
	}
	log.Init(cfg.Log.Level)

	// サーバーを作成
	srv, err := server.Build(cfg)
	if err != nil {
		log.Error("サーバーの作成に失敗しました", "error", err)
		os.Exit(1)
	}

	// シグナルでキャンセルされるコンテキスト
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// サーバーを起動
	if err := srv.Start(ctx); err != nil {
		log.Error("サーバーの起動に失敗しました", "error", err)
		os.Exit(1)
	}
}
