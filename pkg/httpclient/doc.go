// Package httpclient はポータルAPIを呼び出すためのJSON HTTPクライアントを提供する。
//
// 管理CLI（notifyctl）やイベント発行元のサービスから通知サービスを
// 呼び出す際に使用する。Bearerトークンの付与とエラーレスポンスの変換を行う。
package httpclient
