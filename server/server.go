package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PhuzzyAudio/config"
	"PhuzzyAudio/core/audio"
	"PhuzzyAudio/core/auth"
	"PhuzzyAudio/core/scenario"
	"PhuzzyAudio/logger"
	"PhuzzyAudio/repository"

	"github.com/gorilla/mux"
)

// Deps 控制服务依赖的组件。Integration、Signer、History 可以为 nil。
type Deps struct {
	Engine      *audio.Engine
	Integration *scenario.Integration
	Bus         *audio.InteractionBus
	Signer      *auth.Signer
	History     repository.PlaybackRepository
}

// corsMiddleware 处理跨域请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter 注册所有路由。返回的 Hub 需要调用方 Run 并订阅引擎事件。
func NewRouter(cfg *config.Config, deps Deps) (*mux.Router, *Hub) {
	hub := NewHub(deps.Engine, deps.Bus)
	h := NewAPIHandler(deps, hub, cfg)

	router := mux.NewRouter()
	router.Use(corsMiddleware)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": deps.Engine.BackendName()})
	}).Methods(http.MethodGet)

	// 登录不需要令牌
	router.HandleFunc("/api/auth/login", h.LoginHandler).Methods(http.MethodPost, http.MethodOptions)

	// 交互事件不需要令牌，页面第一次点击就要送达
	router.HandleFunc("/api/interaction", h.InteractionHandler).Methods(http.MethodPost, http.MethodOptions)

	api := router.PathPrefix("/api").Subrouter()
	protected := func(path string, fn http.HandlerFunc, methods ...string) {
		api.HandleFunc(path, h.AuthMiddleware(fn)).Methods(append(methods, http.MethodOptions)...)
	}

	protected("/play", h.PlayHandler, http.MethodPost)
	protected("/sequence", h.SequenceHandler, http.MethodPost)
	protected("/stop", h.StopHandler, http.MethodPost)
	protected("/volume", h.VolumeHandler, http.MethodPost)
	protected("/mute", h.MuteHandler, http.MethodPost)
	protected("/duck", h.DuckHandler, http.MethodPost)
	protected("/unduck", h.UnduckHandler, http.MethodPost)
	protected("/preload", h.PreloadHandler, http.MethodPost)
	protected("/preload/status", h.PreloadStatusHandler, http.MethodGet)
	protected("/ui/{name}", h.UISoundHandler, http.MethodPost)
	protected("/scenario/play", h.ScenarioPlayHandler, http.MethodPost)
	protected("/ambient", h.AmbientHandler, http.MethodPost)
	protected("/state", h.StateHandler, http.MethodGet)
	protected("/debug", h.DebugHandler, http.MethodGet)
	protected("/history", h.HistoryHandler, http.MethodGet)
	protected("/history/stats", h.HistoryStatsHandler, http.MethodGet)

	router.HandleFunc("/ws", h.AuthMiddleware(hub.ServeWS))

	return router, hub
}

// Start 启动控制服务，收到 SIGINT/SIGTERM 后优雅关闭
func Start(cfg *config.Config, deps Deps) error {
	router, hub := NewRouter(cfg, deps)
	go hub.Run()
	unsubscribe := deps.Engine.Subscribe(hub.HandleEvent)
	defer func() {
		unsubscribe()
		hub.Stop()
	}()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("控制服务启动", logger.String("addr", server.Addr), logger.Bool("auth", deps.Signer != nil))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-stop:
	}
	logger.Info("正在关闭控制服务")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return err
	}
	logger.Info("控制服务已停止")
	return nil
}
