package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nao1215/portal/pkg/httpclient"
)

// options はすべてのサブコマンドで共有するフラグ。
type options struct {
	server string
	token  string
}

func (o *options) client() *httpclient.Client {
	return httpclient.New(o.server, o.token)
}

// newRootCmd はnotifyctlのルートコマンドを生成する。
func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "notifyctl",
		Short:         "居住者ポータルの通知サービスを操作する",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("PORTAL_SERVER", "http://localhost:8080"), "通知サービスのURL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("PORTAL_TOKEN"), "Bearerトークン（環境変数 PORTAL_TOKEN）")

	root.AddCommand(
		newPublishCmd(opts),
		newListCmd(opts),
		newUnreadCmd(opts),
		newReadCmd(opts),
		newReadAllCmd(opts),
		newDeleteCmd(opts),
	)
	return root
}

func newPublishCmd(opts *options) *cobra.Command {
	var (
		title   string
		message string
		kind    string
		account int64
		related int64
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "通知を発行する（管理者トークンが必要）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body := map[string]any{
				"title":   title,
				"message": message,
				"type":    kind,
			}
			if account > 0 {
				body["target_account"] = account
			}
			if related > 0 {
				body["related_id"] = related
			}

			var created json.RawMessage
			if err := opts.client().PostJSON(cmd.Context(), "/api/v1/notifications", body, &created); err != nil {
				return fmt.Errorf("通知の発行に失敗: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), created)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "タイトル")
	cmd.Flags().StringVar(&message, "message", "", "本文")
	cmd.Flags().StringVar(&kind, "type", "news", "種類（document, event, maintenance, news）")
	cmd.Flags().Int64Var(&account, "account", 0, "宛先アカウントID（省略するとブロードキャスト）")
	cmd.Flags().Int64Var(&related, "related", 0, "発生元エンティティのID")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "通知一覧を表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getAndPrint(cmd, opts, "/api/v1/notifications")
		},
	}
}

func newUnreadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "未読通知一覧を表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getAndPrint(cmd, opts, "/api/v1/notifications/unread")
		},
	}
}

func newReadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "read <id>",
		Short: "通知を既読にする",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var updated json.RawMessage
			if err := opts.client().PutJSON(cmd.Context(), fmt.Sprintf("/api/v1/notifications/%d/read", id), nil, &updated); err != nil {
				return fmt.Errorf("既読処理に失敗: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), updated)
		},
	}
}

func newReadAllCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "read-all",
		Short: "すべての通知を既読にする",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Count int `json:"count"`
			}
			if err := opts.client().PutJSON(cmd.Context(), "/api/v1/notifications/read-all", nil, &resp); err != nil {
				return fmt.Errorf("全既読処理に失敗: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d件の通知を既読にしました\n", resp.Count)
			return nil
		},
	}
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "通知を削除する",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := opts.client().Delete(cmd.Context(), fmt.Sprintf("/api/v1/notifications/%d", id), nil); err != nil {
				return fmt.Errorf("削除に失敗: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "通知 %d を削除しました\n", id)
			return nil
		},
	}
}

func getAndPrint(cmd *cobra.Command, opts *options, path string) error {
	var list json.RawMessage
	if err := opts.client().GetJSON(cmd.Context(), path, &list); err != nil {
		return fmt.Errorf("取得に失敗: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), list)
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("レスポンスの解析に失敗: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("通知IDが不正です: %q", s)
	}
	return id, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
