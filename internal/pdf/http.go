package pdf

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// JobRunner はジョブを実行できるサービスが実装します。
type JobRunner interface {
	RunJob(ctx context.Context, jobID string, reporter ProgressReporter) (*Result, error)
	DiscardJob(jobID string) error
}

// MergeService は結合ジョブの準備と実行を提供します。
type MergeService interface {
	JobRunner
	PrepareMergeJob(ctx context.Context, files []*multipart.FileHeader) (*JobManifest, error)
}

// ImagesService は画像PDF化ジョブの準備と実行を提供します。
type ImagesService interface {
	JobRunner
	PrepareImagesJob(ctx context.Context, files []*multipart.FileHeader) (*JobManifest, error)
}

// ExtractService はページ抽出ジョブの準備と実行を提供します。
type ExtractService interface {
	JobRunner
	PrepareExtractJob(ctx context.Context, file *multipart.FileHeader, rangeExpr string) (*JobManifest, error)
}

// OrganizeService はページ並替ジョブの準備と実行を提供します。
type OrganizeService interface {
	JobRunner
	PrepareOrganizeJob(ctx context.Context, file *multipart.FileHeader, orderExpr string) (*JobManifest, error)
}

// SplitService は分割ジョブの準備と実行を提供します。
type SplitService interface {
	JobRunner
	PrepareSplitJob(ctx context.Context, file *multipart.FileHeader) (*JobManifest, error)
}

// RasterizeService はラスタライズジョブの準備と実行を提供します。
type RasterizeService interface {
	JobRunner
	PrepareRasterizeJob(ctx context.Context, file *multipart.FileHeader) (*JobManifest, error)
}

// RenderService はURLレンダリングを提供します（同期専用）。
type RenderService interface {
	RenderURL(ctx context.Context, rawURL string) (*Result, error)
}

// JobScheduler はジョブを非同期キューに投入するためのインターフェースです。
type JobScheduler interface {
	Schedule(ctx context.Context, op OperationType, jobID string) error
}

// HandlerOptions は同期/非同期切り替えのための設定です。
type HandlerOptions struct {
	Scheduler           JobScheduler
	AsyncThresholdBytes int64
	AsyncThresholdPages int
}

// MergeHandler は POST /api/pdf/merge のハンドラーを返します。
func MergeHandler(svc MergeService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, files, ok := extractFiles(c)
		if !ok {
			return
		}
		defer form.RemoveAll()

		manifest, err := svc.PrepareMergeJob(c.Request.Context(), files)
		if err != nil {
			respondWithError(c, err)
			return
		}

		dispatchJob(c, svc, manifest, opts, "結合結果の読み込みに失敗しました")
	}
}

// ImagesHandler は POST /api/pdf/images のハンドラーを返します。
func ImagesHandler(svc ImagesService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, files, ok := extractFiles(c)
		if !ok {
			return
		}
		defer form.RemoveAll()

		manifest, err := svc.PrepareImagesJob(c.Request.Context(), files)
		if err != nil {
			respondWithError(c, err)
			return
		}

		dispatchJob(c, svc, manifest, opts, "変換結果の読み込みに失敗しました")
	}
}

// ExtractHandler は POST /api/pdf/extract のハンドラーを返します。
func ExtractHandler(svc ExtractService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, file, ok := extractOneFile(c)
		if !ok {
			return
		}
		defer form.RemoveAll()

		rangeExpr := strings.TrimSpace(c.PostForm("range"))
		if rangeExpr == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "抽出するページ範囲を指定してください。",
			})
			return
		}

		manifest, err := svc.PrepareExtractJob(c.Request.Context(), file, rangeExpr)
		if err != nil {
			respondWithError(c, err)
			return
		}

		dispatchJob(c, svc, manifest, opts, "抽出結果の読み込みに失敗しました")
	}
}

// OrganizeHandler は POST /api/pdf/organize のハンドラーを返します。
func OrganizeHandler(svc OrganizeService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, file, ok := extractOneFile(c)
		if !ok {
			return
		}
		defer form.RemoveAll()

		orderExpr := strings.TrimSpace(c.PostForm("order"))
		if orderExpr == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "ページの並び順を指定してください。",
			})
			return
		}

		manifest, err := svc.PrepareOrganizeJob(c.Request.Context(), file, orderExpr)
		if err != nil {
			respondWithError(c, err)
			return
		}

		dispatchJob(c, svc, manifest, opts, "並替結果の読み込みに失敗しました")
	}
}

// SplitHandler は POST /api/pdf/split のハンドラーを返します。
func SplitHandler(svc SplitService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, file, ok := extractOneFile(c)
		if !ok {
			return
		}
		defer form.RemoveAll()

		manifest, err := svc.PrepareSplitJob(c.Request.Context(), file)
		if err != nil {
			respondWithError(c, err)
			return
		}

		dispatchJob(c, svc, manifest, opts, "分割結果の読み込みに失敗しました")
	}
}

// RasterizeHandler は POST /api/pdf/rasterize のハンドラーを返します。
func RasterizeHandler(svc RasterizeService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, file, ok := extractOneFile(c)
		if !ok {
			return
		}
		defer form.RemoveAll()

		manifest, err := svc.PrepareRasterizeJob(c.Request.Context(), file)
		if err != nil {
			respondWithError(c, err)
			return
		}

		dispatchJob(c, svc, manifest, opts, "画像化結果の読み込みに失敗しました")
	}
}

// RenderHandler は POST /api/pdf/render のハンドラーを返します。
// アップロードを伴わないため常に同期で処理します。
func RenderHandler(svc RenderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawURL := strings.TrimSpace(c.PostForm("url"))
		if rawURL == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "レンダリングするURLを指定してください。",
			})
			return
		}

		result, err := svc.RenderURL(c.Request.Context(), rawURL)
		if err != nil {
			respondWithError(c, err)
			return
		}
		defer result.Cleanup()

		if err := streamResult(c, result, "レンダリング結果の読み込みに失敗しました"); err != nil {
			respondWithError(c, err)
		}
	}
}

// dispatchJob は準備済みジョブを閾値に応じて同期実行または非同期投入します。
// 同期実行の場合、成果物はレスポンス送信後に必ず削除されます。
func dispatchJob(c *gin.Context, svc JobRunner, manifest *JobManifest, opts HandlerOptions, readErrMsg string) {
	if shouldProcessAsync(manifest, opts) {
		if err := opts.Scheduler.Schedule(c.Request.Context(), manifest.Operation, manifest.JobID); err != nil {
			if cleanupErr := svc.DiscardJob(manifest.JobID); cleanupErr != nil {
				err = fmt.Errorf("%w (cleanup failed: %v)", err, cleanupErr)
			}
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"jobId": manifest.JobID})
		return
	}

	result, err := svc.RunJob(c.Request.Context(), manifest.JobID, nil)
	if err != nil {
		respondWithError(c, err)
		return
	}
	defer result.Cleanup()

	if err := streamResult(c, result, readErrMsg); err != nil {
		respondWithError(c, err)
	}
}

func shouldProcessAsync(manifest *JobManifest, opts HandlerOptions) bool {
	if manifest == nil || opts.Scheduler == nil {
		return false
	}

	if opts.AsyncThresholdBytes > 0 {
		var total int64
		for _, f := range manifest.Files {
			total += f.Size
		}
		if total > opts.AsyncThresholdBytes {
			return true
		}
	}

	if opts.AsyncThresholdPages > 0 {
		var total int
		for _, f := range manifest.Files {
			total += f.Pages
		}
		if total > opts.AsyncThresholdPages {
			return true
		}
	}

	return false
}

// extractFiles は複数ファイル入力のフォームをパースします。
// 失敗した場合はレスポンス済みとして ok=false を返します。
func extractFiles(c *gin.Context) (*multipart.Form, []*multipart.FileHeader, bool) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "multipart/form-data でファイルを送信してください。",
		})
		return nil, nil, false
	}

	files := form.File["files[]"]
	if len(files) == 0 {
		files = form.File["files"]
	}
	if len(files) == 0 {
		form.RemoveAll()
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "アップロードされたファイルが見つかりません。",
		})
		return nil, nil, false
	}

	return form, files, true
}

func extractOneFile(c *gin.Context) (*multipart.Form, *multipart.FileHeader, bool) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "multipart/form-data でPDFファイルを送信してください。",
		})
		return nil, nil, false
	}

	file, err := extractSingleFile(form)
	if err != nil {
		form.RemoveAll()
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": err.Error(),
		})
		return nil, nil, false
	}

	return form, file, true
}

func extractSingleFile(form *multipart.Form) (*multipart.FileHeader, error) {
	if form == nil {
		return nil, errors.New("PDFファイルを選択してください。")
	}
	if file := form.File["file"]; len(file) > 0 {
		return file[0], nil
	}
	if file := form.File["file[]"]; len(file) > 0 {
		return file[0], nil
	}
	files := form.File["files"]
	if len(files) > 0 {
		return files[0], nil
	}
	if alt := form.File["files[]"]; len(alt) > 0 {
		return alt[0], nil
	}
	return nil, errors.New("PDFファイルを選択してください。")
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusBadRequest
		switch apiErr.Code {
		case "LIMIT_EXCEEDED":
			status = http.StatusRequestEntityTooLarge
		case "UNSUPPORTED_MEDIA_TYPE":
			status = http.StatusUnsupportedMediaType
		case "NOT_SUPPORTED":
			status = http.StatusNotImplemented
		case "RENDER_FAILED", "RASTER_FAILED", "ARCHIVE_WRITE_FAILED":
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

func streamResult(c *gin.Context, result *Result, readErrMsg string) error {
	file, err := os.Open(result.OutputPath)
	if err != nil {
		return fmt.Errorf("%s: %w", readErrMsg, err)
	}
	defer file.Close()

	contentType := "application/octet-stream"
	switch result.ResultKind {
	case ResultKindPDF:
		contentType = "application/pdf"
	case ResultKindZIP:
		contentType = "application/zip"
	}

	encodedName := url.PathEscape(result.OutputFilename)
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", result.OutputFilename, encodedName))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Job-Id", result.JobID)
	c.DataFromReader(http.StatusOK, result.OutputSize, contentType, file, nil)
	return nil
}
