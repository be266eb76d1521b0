package main

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/namra862/tomback/internal/auth"
	"github.com/namra862/tomback/internal/config"
	"github.com/namra862/tomback/internal/jobs"
	"github.com/namra862/tomback/internal/pdf"
)

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, pdfService *pdf.Service, manager *jobs.Manager, opts pdf.HandlerOptions) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	authManager := auth.NewManager(cfg)

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			// ログイン時はセッション未生成なので CSRF 検証は不要
			authRoutes.POST("/login", authManager.Login)
			authRoutes.POST("/logout",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.Logout,
			)
		}

		protected := api.Group("")
		protected.Use(authManager.RequireLogin(), authManager.VerifyCSRF())
		{
			pdfRoutes := protected.Group("/pdf")
			{
				pdfRoutes.POST("/merge", pdf.MergeHandler(pdfService, opts))
				pdfRoutes.POST("/images", pdf.ImagesHandler(pdfService, opts))
				pdfRoutes.POST("/extract", pdf.ExtractHandler(pdfService, opts))
				pdfRoutes.POST("/organize", pdf.OrganizeHandler(pdfService, opts))
				pdfRoutes.POST("/split", pdf.SplitHandler(pdfService, opts))
				pdfRoutes.POST("/rasterize", pdf.RasterizeHandler(pdfService, opts))
				pdfRoutes.POST("/render", pdf.RenderHandler(pdfService))
				pdfRoutes.POST("/inspect", inspectHandler(pdfService))

				// 提供範囲外の操作は明示的に断る
				pdfRoutes.POST("/office", pdf.UnsupportedHandler("office"))
				pdfRoutes.POST("/pdfa", pdf.UnsupportedHandler("pdfa"))
				pdfRoutes.POST("/scan", pdf.UnsupportedHandler("scan"))
			}

			if manager != nil {
				jobRoutes := protected.Group("/jobs")
				{
					jobRoutes.GET("/:id", jobStatusHandler(manager))
					jobRoutes.GET("/:id/download", jobDownloadHandler(pdfService))
				}
			}
		}
	}
}

// inspectHandler は POST /api/pdf/inspect のハンドラーを返します。
func inspectHandler(pdfService *pdf.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "multipart/form-data でPDFファイルを送信してください。",
			})
			return
		}
		defer form.RemoveAll()

		var file *multipart.FileHeader
		if files := form.File["file"]; len(files) > 0 {
			file = files[0]
		}

		result, err := pdfService.InspectMultipart(c.Request.Context(), file)
		if err != nil {
			var apiErr *pdf.Error
			if errors.As(err, &apiErr) {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    apiErr.Code,
					"message": apiErr.Message,
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "PDFの解析に失敗しました。",
			})
			return
		}

		c.JSON(http.StatusOK, result)
	}
}
