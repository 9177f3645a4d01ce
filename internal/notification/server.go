package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nao1215/portal/internal/config"
	"github.com/nao1215/portal/pkg/event"
	"github.com/nao1215/portal/pkg/middleware"
)

// Server は通知サービスのHTTPサーバー。REST APIとWebSocketの両方を提供する。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサーバー設定。
	cfg config.Config
	// store は通知の永続化先。
	store Store
	// service は通知の発行と既読処理を担う。
	service *Service
	// upgrader はHTTP接続をWebSocketにアップグレードする。
	upgrader websocket.Upgrader
	// metrics は/metricsで公開するPrometheusレジストリ。
	metrics *prometheus.Registry
}

// NewServer は新しい通知サーバーを生成する。
// DatabasePathが設定されていればSQLite、そうでなければインメモリのストアを使う。
func NewServer(ctx context.Context, cfg config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定が不正です: %w", err)
	}

	store, err := OpenStore(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	s := newServer(cfg, store)
	s.router.Use(middleware.Recovery())
	s.router.Use(gin.Logger())
	s.router.Use(middleware.CORS(cfg.AllowedOrigins))
	s.setupRoutes(middleware.JWTAuth(cfg.JWTSecret))

	return s, nil
}

// OpenStore はパスに応じたStoreを開く。空ならインメモリ。
func OpenStore(ctx context.Context, path string) (Store, error) {
	if path == "" {
		log.Printf("[Notification] インメモリストアを使用します")
		return NewMemoryStore(), nil
	}
	store, err := OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	log.Printf("[Notification] SQLiteストアを使用します: %s", path)
	return store, nil
}

// newServer はルーティング設定前のServerを組み立てる。
func newServer(cfg config.Config, store Store) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		router:  gin.New(),
		cfg:     cfg,
		store:   store,
		service: NewService(store, NewRegistry(), NewMetrics(reg)),
		metrics: reg,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.AllowsOrigin(cfg.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Service は通知サービスを返す。
func (s *Server) Service() *Service {
	return s.service
}

// Close はすべてのライブ接続を閉じてストアを解放する。
func (s *Server) Close() error {
	s.service.Shutdown()
	return s.store.Close()
}

// setupRoutes はAPIルーティングを設定する。authは/api/v1配下の認証ミドルウェア。
func (s *Server) setupRoutes(auth gin.HandlerFunc) {
	api := s.router.Group("/api/v1")
	api.Use(auth)
	{
		notifications := api.Group("/notifications")
		{
			// 通知一覧取得
			notifications.GET("", s.handleList())
			// 未読通知一覧取得
			notifications.GET("/unread", s.handleListUnread())
			// 通知を既読にする
			notifications.PUT("/:id/read", s.handleMarkAsRead())
			// 全通知を既読にする
			notifications.PUT("/read-all", s.handleMarkAllAsRead())
			// 通知を削除する
			notifications.DELETE("/:id", s.handleDelete())
			// 通知を発行する（管理者のみ）
			notifications.POST("", requireAdmin(), s.handleCreate())
		}

		// ポータルの各機能からのドメインイベント受信（管理者トークンのみ）
		internal := api.Group("/internal")
		internal.Use(requireAdmin())
		{
			internal.POST("/events", s.handleEvent())
		}

		// ライブ接続
		api.GET("/ws", s.handleWebSocket())
	}

	if s.cfg.DevTokens {
		s.router.POST("/auth/dev-token", s.handleDevToken())
	}

	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{})))

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"service":     "notification",
			"connections": s.service.Registry().Len(),
		})
	})
}

// requireAdmin は管理者以外のリクエストを403で拒否するミドルウェア。
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !middleware.IsAdmin(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "管理者権限が必要です"})
			return
		}
		c.Next()
	}
}

// accountID は認証済みアカウントIDを取り出す。取得できない場合は401を返してfalseを返す。
func accountID(c *gin.Context) (int64, bool) {
	id, ok := middleware.GetAccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "アカウントIDが取得できません"})
		return 0, false
	}
	return id, true
}

// notificationID はパスパラメータの通知IDを解析する。不正な場合は400を返してfalseを返す。
func notificationID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "通知IDが不正です"})
		return 0, false
	}
	return id, true
}

// respondError はサービスのエラーをHTTPステータスに変換して返す。
func respondError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": ErrNotFound.Error()})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": ErrForbidden.Error()})
	case errors.Is(err, ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
		log.Printf("[Notification] %s: %v", msg, err)
	}
}

// handleList は認証済みアカウントの通知一覧を返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := accountID(c)
		if !ok {
			return
		}

		notifications, err := s.service.List(c.Request.Context(), id)
		if err != nil {
			respondError(c, err, "通知一覧の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, notifications)
	}
}

// handleListUnread は認証済みアカウントの未読通知一覧を返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := accountID(c)
		if !ok {
			return
		}

		notifications, err := s.service.ListUnread(c.Request.Context(), id)
		if err != nil {
			respondError(c, err, "未読通知一覧の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, notifications)
	}
}

// handleMarkAsRead は指定された通知を既読にし、更新後の通知を返すハンドラ。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, ok := accountID(c)
		if !ok {
			return
		}
		id, ok := notificationID(c)
		if !ok {
			return
		}

		n, err := s.service.Acknowledge(c.Request.Context(), account, id)
		if err != nil {
			respondError(c, err, "通知の既読処理に失敗しました")
			return
		}
		c.JSON(http.StatusOK, n)
	}
}

// handleMarkAllAsRead は認証済みアカウントの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, ok := accountID(c)
		if !ok {
			return
		}

		count, err := s.service.MarkAllRead(c.Request.Context(), account)
		if err != nil {
			respondError(c, err, "全通知の既読処理に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"count":   count,
			"message": fmt.Sprintf("%d件の通知を既読にしました", count),
		})
	}
}

// handleDelete は通知を削除するハンドラ。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, ok := accountID(c)
		if !ok {
			return
		}
		id, ok := notificationID(c)
		if !ok {
			return
		}

		deleted, err := s.service.Delete(c.Request.Context(), account, middleware.IsAdmin(c), id)
		if err != nil {
			respondError(c, err, "通知の削除に失敗しました")
			return
		}
		if !deleted {
			c.JSON(http.StatusNotFound, gin.H{"error": ErrNotFound.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "通知を削除しました"})
	}
}

// createRequest は通知発行リクエストのJSON構造。
type createRequest struct {
	// Title は通知のタイトル。
	Title string `json:"title" binding:"required"`
	// Message は通知メッセージ。
	Message string `json:"message" binding:"required"`
	// Type は通知の種類。
	Type string `json:"type" binding:"required"`
	// TargetAccount は宛先アカウント。省略するとブロードキャスト。
	TargetAccount *int64 `json:"target_account"`
	// RelatedID は発生元エンティティのID。
	RelatedID *int64 `json:"related_id"`
}

// handleCreate は通知を永続化してライブ接続へ配信するハンドラ。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		n, err := s.service.Publish(c.Request.Context(), NewNotification{
			Title:         req.Title,
			Message:       req.Message,
			Type:          req.Type,
			TargetAccount: req.TargetAccount,
			RelatedID:     req.RelatedID,
		})
		if err != nil {
			respondError(c, err, "通知の作成に失敗しました")
			return
		}
		c.JSON(http.StatusCreated, n)
	}
}

// handleEvent はポータルのドメインイベントを受け取り、通知に変換して発行するハンドラ。
func (s *Server) handleEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		var e event.Event
		if err := c.ShouldBindJSON(&e); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		n, err := s.service.PublishEvent(c.Request.Context(), &e)
		if err != nil {
			respondError(c, err, "イベントからの通知作成に失敗しました")
			return
		}
		c.JSON(http.StatusCreated, n)
	}
}

// handleWebSocket はライブ接続を受け付けるハンドラ。
// 接続が切れるまでブロックし、切断後に登録を解除する。
func (s *Server) handleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, ok := accountID(c)
		if !ok {
			return
		}

		ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgraderがエラーレスポンスを書き込み済み
			log.Printf("[WS] アップグレードに失敗しました: account=%d: %v", account, err)
			return
		}

		client := NewClient(ws, account, s.cfg.WebSocket)
		ctx := c.Request.Context()
		if err := s.service.Attach(ctx, client); err != nil {
			log.Printf("[WS] 接続の初期化に失敗しました: conn=%s account=%d: %v", client.ID(), account, err)
			s.service.Detach(client)
			return
		}
		log.Printf("[WS] 接続しました: conn=%s account=%d", client.ID(), account)

		client.Run(ctx, s.service)
		s.service.Detach(client)
		log.Printf("[WS] 切断しました: conn=%s account=%d", client.ID(), account)
	}
}

// devTokenRequest は開発用トークン発行リクエストのJSON構造。
type devTokenRequest struct {
	// AccountID はトークンに含めるアカウントID。
	AccountID int64 `json:"account_id" binding:"required,gt=0"`
	// Admin は管理者トークンにするかどうか。
	Admin bool `json:"admin"`
}

// handleDevToken は開発用のJWTを発行するハンドラ。DEV_TOKENS=trueの場合のみ登録される。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req devTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		token, err := middleware.GenerateJWT(s.cfg.JWTSecret, req.AccountID, req.Admin)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの生成に失敗しました"})
			log.Printf("[Auth] トークン生成エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}
