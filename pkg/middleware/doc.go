// Package middleware はポータルのGinベースHTTP APIで使用する共通ミドルウェアを提供する。
//
// 居住者アカウントのJWT検証、パニックリカバリ、
// マーケティングサイトからのCORS許可を含む。
package middleware
