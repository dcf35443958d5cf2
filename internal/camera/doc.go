// Package camera 1台のカメラデバイスからのフレーム取得を担う
//
// # 責務
// - デバイスの列挙とセッションのオープン・クローズ
// - バックグラウンドのキャプチャループと自動露出
// - 取得したフレームの FrameHandler への同期配信
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - カメラからフレームを連続で受け取りたい
// - キャプチャの開始・停止を任意のゴルーチンから行いたい
// - ハードウェア無しで同じ動作を試したい（MockDriver）
//
// # 仕様
// - DeviceGrabber: 開始・停止をミューテックスで直列化し、ワーカーは atomic なフラグだけを見る
// - 同時に動くワーカーは常に1つまで。停止はワーカーの終了を待ってからデバイスを閉じる
// - 露光時間はフレームの輝度分布から毎フレーム再計算し、開始ごとに初期値へ戻す
// - キャプチャに失敗するとループは自発的に終了する。デバイスは Close まで開いたまま残り、再開始ではそのまま使われる
// - Driver: V4L2（blackjack/webcam）とモックを DriverFactory で切り替える
//
// # 前提要件
//   - Linux の V4L2 デバイス（V4L2ドライバーを使う場合）
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
