// Package notification は居住者ポータルの通知サービスを提供する。
//
// 通知の永続化（Store）、ライブ接続の管理（Registry）、接続への配信（Dispatcher）、
// 接続直後の未読バックログ送信、既読処理を担う。配信は接続中のクライアントへの
// ベストエフォートで、オフラインだったクライアントは次回接続時のバックログか
// REST APIの一覧取得で追いつく。
package notification
