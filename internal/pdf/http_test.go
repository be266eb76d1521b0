package pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var errQueueDown = errors.New("queue unavailable")

// stubPDFService は各ハンドラーのサービスインターフェースをまとめて満たすスタブです。
type stubPDFService struct {
	manifest   *JobManifest
	prepareErr error
	result     *Result
	runErr     error

	ranJobID  string
	discarded []string
}

func (s *stubPDFService) RunJob(_ context.Context, jobID string, _ ProgressReporter) (*Result, error) {
	s.ranJobID = jobID
	if s.runErr != nil {
		return nil, s.runErr
	}
	return s.result, nil
}

func (s *stubPDFService) DiscardJob(jobID string) error {
	s.discarded = append(s.discarded, jobID)
	return nil
}

func (s *stubPDFService) prepare() (*JobManifest, error) {
	if s.prepareErr != nil {
		return nil, s.prepareErr
	}
	return s.manifest, nil
}

func (s *stubPDFService) PrepareMergeJob(context.Context, []*multipart.FileHeader) (*JobManifest, error) {
	return s.prepare()
}

func (s *stubPDFService) PrepareImagesJob(context.Context, []*multipart.FileHeader) (*JobManifest, error) {
	return s.prepare()
}

func (s *stubPDFService) PrepareExtractJob(context.Context, *multipart.FileHeader, string) (*JobManifest, error) {
	return s.prepare()
}

func (s *stubPDFService) PrepareOrganizeJob(context.Context, *multipart.FileHeader, string) (*JobManifest, error) {
	return s.prepare()
}

func (s *stubPDFService) PrepareSplitJob(context.Context, *multipart.FileHeader) (*JobManifest, error) {
	return s.prepare()
}

func (s *stubPDFService) PrepareRasterizeJob(context.Context, *multipart.FileHeader) (*JobManifest, error) {
	return s.prepare()
}

// stubScheduler はキュー投入の成否だけを制御します。
type stubScheduler struct {
	err       error
	scheduled []string
}

func (s *stubScheduler) Schedule(_ context.Context, _ OperationType, jobID string) error {
	if s.err != nil {
		return s.err
	}
	s.scheduled = append(s.scheduled, jobID)
	return nil
}

// stubResult はストリーミング可能な成果物を実ファイル付きで用意します。
func stubResult(t *testing.T, kind ResultKind, content string) *Result {
	t.Helper()
	path := filepath.Join(t.TempDir(), "output")
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatalf("failed to write stub output: %v", err)
	}
	return &Result{
		JobID:          "job-123",
		OutputPath:     path,
		OutputFilename: "merged.pdf",
		OutputSize:     int64(len(content)),
		ResultKind:     kind,
	}
}

func newUploadRequest(t *testing.T, target string, fields map[string]string, fileField string, fileNames ...string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	for _, name := range fileNames {
		part, err := writer.CreateFormFile(fileField, name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := part.Write([]byte("dummy")); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) (code, message string) {
	t.Helper()
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body.Code, body.Message
}

func TestMergeHandlerSync(t *testing.T) {
	svc := &stubPDFService{
		manifest: &JobManifest{JobID: "job-123", Operation: OperationMerge},
		result:   stubResult(t, ResultKindPDF, "%PDF-stub"),
	}
	router := gin.New()
	router.POST("/api/pdf/merge", MergeHandler(svc, HandlerOptions{}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newUploadRequest(t, "/api/pdf/merge", nil, "files", "a.pdf", "b.pdf"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.ranJobID != "job-123" {
		t.Errorf("expected job-123 to run, got %q", svc.ranJobID)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/pdf" {
		t.Errorf("expected application/pdf, got %s", got)
	}
	if got := rec.Header().Get("X-Job-Id"); got != "job-123" {
		t.Errorf("expected X-Job-Id job-123, got %s", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("expected Cache-Control no-store, got %s", got)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), `filename="merged.pdf"`) {
		t.Errorf("unexpected Content-Disposition: %s", rec.Header().Get("Content-Disposition"))
	}
	if rec.Body.String() != "%PDF-stub" {
		t.Errorf("unexpected body: %q", rec.Body.String())
	}
}

func TestMergeHandlerAsync(t *testing.T) {
	svc := &stubPDFService{
		manifest: &JobManifest{
			JobID:     "job-async",
			Operation: OperationMerge,
			Files:     []JobFile{{Size: 200, Pages: 10}},
		},
	}
	scheduler := &stubScheduler{}
	opts := HandlerOptions{Scheduler: scheduler, AsyncThresholdBytes: 100}

	router := gin.New()
	router.POST("/api/pdf/merge", MergeHandler(svc, opts))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newUploadRequest(t, "/api/pdf/merge", nil, "files", "a.pdf", "b.pdf"))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.JobID != "job-async" {
		t.Errorf("expected jobId job-async, got %s", body.JobID)
	}
	if len(scheduler.scheduled) != 1 || scheduler.scheduled[0] != "job-async" {
		t.Errorf("expected job-async scheduled, got %v", scheduler.scheduled)
	}
	if svc.ranJobID != "" {
		t.Errorf("sync execution must not happen, ran %q", svc.ranJobID)
	}
}

// キュー投入に失敗した場合は準備済みの作業領域を破棄する
func TestMergeHandlerScheduleFailureDiscards(t *testing.T) {
	svc := &stubPDFService{
		manifest: &JobManifest{
			JobID:     "job-fail",
			Operation: OperationMerge,
			Files:     []JobFile{{Size: 200}},
		},
	}
	scheduler := &stubScheduler{err: errQueueDown}
	opts := HandlerOptions{Scheduler: scheduler, AsyncThresholdBytes: 100}

	router := gin.New()
	router.POST("/api/pdf/merge", MergeHandler(svc, opts))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newUploadRequest(t, "/api/pdf/merge", nil, "files", "a.pdf", "b.pdf"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if len(svc.discarded) != 1 || svc.discarded[0] != "job-fail" {
		t.Errorf("expected job-fail discarded, got %v", svc.discarded)
	}
}

func TestMergeHandlerNoFiles(t *testing.T) {
	svc := &stubPDFService{}
	router := gin.New()
	router.POST("/api/pdf/merge", MergeHandler(svc, HandlerOptions{}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newUploadRequest(t, "/api/pdf/merge", map[string]string{"dummy": "1"}, "files"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	code, _ := decodeErrorBody(t, rec)
	if code != "INVALID_INPUT" {
		t.Errorf("expected INVALID_INPUT, got %s", code)
	}
}

func TestExtractHandlerRequiresRange(t *testing.T) {
	svc := &stubPDFService{}
	router := gin.New()
	router.POST("/api/pdf/extract", ExtractHandler(svc, HandlerOptions{}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newUploadRequest(t, "/api/pdf/extract", nil, "file", "a.pdf"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	code, _ := decodeErrorBody(t, rec)
	if code != "INVALID_INPUT" {
		t.Errorf("expected INVALID_INPUT, got %s", code)
	}
}

func TestOrganizeHandlerRequiresOrder(t *testing.T) {
	svc := &stubPDFService{}
	router := gin.New()
	router.POST("/api/pdf/organize", OrganizeHandler(svc, HandlerOptions{}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newUploadRequest(t, "/api/pdf/organize", nil, "file", "a.pdf"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRenderHandlerRequiresURL(t *testing.T) {
	router := gin.New()
	router.POST("/api/pdf/render", RenderHandler(&stubRenderService{}))

	form := url.Values{}
	req := httptest.NewRequest(http.MethodPost, "/api/pdf/render", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

type stubRenderService struct {
	result *Result
	err    error
}

func (s *stubRenderService) RenderURL(context.Context, string) (*Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func TestRenderHandlerSync(t *testing.T) {
	svc := &stubRenderService{result: stubResult(t, ResultKindPDF, "%PDF-render")}
	router := gin.New()
	router.POST("/api/pdf/render", RenderHandler(svc))

	form := url.Values{"url": {"https://example.com"}}
	req := httptest.NewRequest(http.MethodPost, "/api/pdf/render", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "%PDF-render" {
		t.Errorf("unexpected body: %q", rec.Body.String())
	}
}

func TestRespondWithErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"入力エラー", newError("INVALID_INPUT", "bad", nil), http.StatusBadRequest, "INVALID_INPUT"},
		{"サイズ超過", newError("LIMIT_EXCEEDED", "big", nil), http.StatusRequestEntityTooLarge, "LIMIT_EXCEEDED"},
		{"未対応メディア", newError("UNSUPPORTED_MEDIA_TYPE", "kind", nil), http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE"},
		{"対象外操作", newError("NOT_SUPPORTED", "nope", nil), http.StatusNotImplemented, "NOT_SUPPORTED"},
		{"壊れたPDF", newError("UNSUPPORTED_PDF", "broken", nil), http.StatusBadRequest, "UNSUPPORTED_PDF"},
		{"書庫書込失敗", newError("ARCHIVE_WRITE_FAILED", "disk", nil), http.StatusInternalServerError, "ARCHIVE_WRITE_FAILED"},
		{"キャンセル", context.Canceled, http.StatusRequestTimeout, "REQUEST_CANCELED"},
		{"タイムアウト", context.DeadlineExceeded, http.StatusRequestTimeout, "REQUEST_CANCELED"},
		{"その他", errQueueDown, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/err", func(c *gin.Context) {
				respondWithError(c, tt.err)
			})
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/err", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			code, _ := decodeErrorBody(t, rec)
			if code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, code)
			}
		})
	}
}

func TestUnsupportedHandler(t *testing.T) {
	router := gin.New()
	router.POST("/api/pdf/office", UnsupportedHandler("office"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/pdf/office", nil))

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rec.Code)
	}
	code, _ := decodeErrorBody(t, rec)
	if code != "NOT_SUPPORTED" {
		t.Errorf("expected NOT_SUPPORTED, got %s", code)
	}
}
