// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/namra862/tomback/internal/auth"
	"github.com/namra862/tomback/internal/config"
	"github.com/namra862/tomback/internal/pdf"
	"github.com/namra862/tomback/internal/render"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// セッションストアの設定（クッキー署名鍵は必須）
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowOrigins = origins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token", "X-Job-Id"}
	router.Use(cors.New(corsConfig))

	// URLレンダラーの起動（Chromeが無い環境ではレンダリング操作だけ無効化）
	var renderer pdf.Renderer
	chromeRenderer, err := render.NewChromeRenderer(cfg.ChromePath)
	if err != nil {
		log.Printf("renderer disabled: %v", err)
	} else {
		renderer = chromeRenderer
		defer chromeRenderer.Close()
	}

	pdfService := pdf.NewService(cfg, renderer)

	// 非同期ジョブ基盤の起動（Redisが無い環境では同期処理のみで継続）
	var handlerOpts pdf.HandlerOptions
	manager, err := setupJobs(cfg, pdfService)
	if err != nil {
		log.Printf("async jobs disabled: %v", err)
	} else {
		manager.StartWorkers()
		handlerOpts = pdf.HandlerOptions{
			Scheduler:           &pdfJobScheduler{manager: manager},
			AsyncThresholdBytes: cfg.AsyncThresholdBytes,
			AsyncThresholdPages: cfg.AsyncThresholdPages,
		}
	}

	// ルーティングの設定
	setupRoutes(router, cfg, pdfService, manager, handlerOpts)

	// サーバーの起動
	addr := ":" + cfg.Port
	log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "tomback-api",
		"version": "0.1.0",
	})
}
