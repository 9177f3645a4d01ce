// 居住者ポータルの通知サービスのエントリポイント。
// REST APIで通知の一覧と既読処理を提供し、WebSocketで新着通知をライブ配信する。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/portal/internal/config"
	"github.com/nao1215/portal/internal/notification"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("通知サービスの起動に失敗: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := notification.NewServer(ctx, cfg)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("通知サービスを起動します: :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("通知サービスを停止します")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// ハイジャック済みのWebSocket接続はShutdownの対象外のためServer.Closeで閉じる
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		return errors.Join(shutdownErr, server.Close())
	})

	return g.Wait()
}
