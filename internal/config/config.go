// Package config は環境変数からポータルサーバーの設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はサーバー全体の設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// DatabasePath はSQLiteファイルのパス。空の場合はインメモリストアを使う。
	DatabasePath string
	// JWTSecret はJWT署名用の秘密鍵。
	JWTSecret string
	// AllowedOrigins はCORSとWebSocketで許可するオリジン。
	AllowedOrigins []string
	// DevTokens は開発用トークン発行エンドポイントを有効にするかどうか。
	DevTokens bool
	// WebSocket はライブ接続の設定。
	WebSocket WebSocketConfig
	// ShutdownTimeout はグレースフルシャットダウンの待ち時間。
	ShutdownTimeout time.Duration
}

// WebSocketConfig はライブ接続ごとの送受信設定。
type WebSocketConfig struct {
	// SendBuffer は接続ごとの送信キューの長さ。
	SendBuffer int
	// WriteTimeout はフレーム1件あたりの送信タイムアウト。
	WriteTimeout time.Duration
	// PingInterval はPingの送信間隔。
	PingInterval time.Duration
	// PongWait はPongを待つ時間。PingIntervalより長くする。
	PongWait time.Duration
	// ReadLimit は受信フレームの最大バイト数。
	ReadLimit int64
	// FrameRate はクライアントから受け付ける毎秒のフレーム数。
	FrameRate float64
	// FrameBurst は受信フレームのバースト許容数。
	FrameBurst int
}

// DefaultWebSocket はWebSocket設定の既定値を返す。
func DefaultWebSocket() WebSocketConfig {
	return WebSocketConfig{
		SendBuffer:   32,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
		ReadLimit:    4096,
		FrameRate:    5,
		FrameBurst:   20,
	}
}

// Load は .env ファイル（存在すれば）と環境変数から設定を読み込む。
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[Config] .envの読み込みに失敗: %v", err)
	}

	def := DefaultWebSocket()
	var errs []error

	ws := WebSocketConfig{
		SendBuffer:   getEnvInt("WS_SEND_BUFFER", def.SendBuffer, &errs),
		WriteTimeout: getEnvDuration("WS_WRITE_TIMEOUT", def.WriteTimeout, &errs),
		PingInterval: getEnvDuration("WS_PING_INTERVAL", def.PingInterval, &errs),
		PongWait:     getEnvDuration("WS_PONG_WAIT", def.PongWait, &errs),
		ReadLimit:    int64(getEnvInt("WS_READ_LIMIT", int(def.ReadLimit), &errs)),
		FrameRate:    getEnvFloat("WS_FRAME_RATE", def.FrameRate, &errs),
		FrameBurst:   getEnvInt("WS_FRAME_BURST", def.FrameBurst, &errs),
	}

	cfg := Config{
		Port:            getEnvOr("PORT", "8080"),
		DatabasePath:    os.Getenv("DATABASE_PATH"),
		JWTSecret:       getEnvOr("JWT_SECRET", "dev-secret-key"),
		AllowedOrigins:  splitList(getEnvOr("FRONTEND_URL", "http://localhost:3000")),
		DevTokens:       getEnvOr("DEV_TOKENS", "false") == "true",
		WebSocket:       ws,
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second, &errs),
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate は設定値の整合性を検証する。
func (c Config) Validate() error {
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER は1以上である必要があります: %d", c.WebSocket.SendBuffer)
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WS_WRITE_TIMEOUT は正の値である必要があります: %s", c.WebSocket.WriteTimeout)
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WS_PING_INTERVAL は正の値である必要があります: %s", c.WebSocket.PingInterval)
	}
	if c.WebSocket.ReadLimit <= 0 {
		return fmt.Errorf("WS_READ_LIMIT は1以上である必要があります: %d", c.WebSocket.ReadLimit)
	}
	if c.WebSocket.FrameRate <= 0 {
		return fmt.Errorf("WS_FRAME_RATE は正の値である必要があります: %g", c.WebSocket.FrameRate)
	}
	if c.WebSocket.FrameBurst <= 0 {
		return fmt.Errorf("WS_FRAME_BURST は1以上である必要があります: %d", c.WebSocket.FrameBurst)
	}
	if c.WebSocket.PongWait <= c.WebSocket.PingInterval {
		return fmt.Errorf("WS_PONG_WAIT (%s) は WS_PING_INTERVAL (%s) より長くする必要があります",
			c.WebSocket.PongWait, c.WebSocket.PingInterval)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET が空です")
	}
	return nil
}

// getEnvOr は環境変数の値を返す。未設定の場合はfallbackを返す。
func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s の解析に失敗: %w", key, err))
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s の解析に失敗: %w", key, err))
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s の解析に失敗: %w", key, err))
		return fallback
	}
	return d
}

// splitList はカンマ区切りの文字列を空要素を除いて分割する。
func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
