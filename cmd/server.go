package cmd

import (
	"context"

	"PhuzzyAudio/core/auth"
	"PhuzzyAudio/logger"
	"PhuzzyAudio/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动音频控制服务",
	Long:  `启动音频引擎和 HTTP/WebSocket 控制服务。页面第一次交互通过 /api/interaction 或 WebSocket 送达后才会出声。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, appOptions{
		backend:   backendFlag,
		scenarios: true,
		watch:     true,
		history:   true,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	var signer *auth.Signer
	if cfg.JWTSecret != "" {
		signer = auth.NewSigner(cfg.JWTSecret, cfg.JWTExpiry)
	} else {
		logger.Warn("未配置 JWT_SECRET，控制接口不做鉴权")
	}

	return server.Start(cfg, server.Deps{
		Engine:      a.engine,
		Integration: a.integration,
		Bus:         a.bus,
		Signer:      signer,
		History:     a.history,
	})
}
