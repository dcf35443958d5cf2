// Package server は、カメラ制御用のHTTPサーバーを管理します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// DeviceGrabber の開始・停止と状態の公開を担当します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - キャプチャの開始・停止・デバイス確認のリクエスト処理
//   - 稼働統計と最新フレームの配信
//
// 仕様:
//   - ginとgin-contrib/gracefulを使用
//   - エンドポイントは /v0/cam 以下にまとめる
//   - ErrNoDevice は404、ErrOpen は503に対応付ける
//   - 終了時には必ずデバイスを解放する
package server
