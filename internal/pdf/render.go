package pdf

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

const renderFilename = "rendered.pdf"

// Renderer はURLを固定レイアウトの文書（PDFバイト列）として描画する
// 外部コラボレーターです。実装は internal/render にあります。
type Renderer interface {
	Render(ctx context.Context, url string) ([]byte, error)
}

// RenderURL は指定URLをヘッドレスブラウザでPDF化します。
// レンダラー自体の失敗は RENDER_FAILED として報告し、リトライはしません。
func (s *Service) RenderURL(ctx context.Context, rawURL string) (_ *Result, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parsed, parseErr := url.Parse(rawURL)
	if parseErr != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, newError("INVALID_INPUT", "http または https のURLを指定してください。", nil)
	}
	if s.renderer == nil {
		return nil, newError("RENDER_FAILED", "レンダラーが設定されていません。", nil)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ws, err := s.createWorkspace()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = removeDir(ws.dir)
		}
	}()

	renderCtx := ctx
	if s.cfg.RenderTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.RenderTimeoutSeconds)*time.Second)
		defer cancel()
	}

	data, renderErr := s.renderer.Render(renderCtx, rawURL)
	if renderErr != nil {
		return nil, newError("RENDER_FAILED", "URLのレンダリングに失敗しました。", renderErr)
	}

	outputPath := filepath.Join(ws.outDir, renderFilename)
	if err := os.WriteFile(outputPath, data, 0o640); err != nil {
		return nil, fmt.Errorf("レンダリング結果の保存に失敗しました: %w", err)
	}

	pages, err := pdfapi.PageCountFile(outputPath)
	if err != nil {
		return nil, newError("UNSUPPORTED_PDF", "レンダリング結果の読み込みに失敗しました。", err)
	}

	manifest := &JobManifest{
		JobID:     ws.jobID,
		Operation: OperationRender,
		URL:       rawURL,
		CreatedAt: s.now().UTC(),
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		return nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}

	outInfo, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("出力ファイルの確認に失敗しました: %w", err)
	}

	s.scheduleExpiry(ws.dir)

	return &Result{
		JobID:          ws.jobID,
		Operation:      OperationRender,
		OutputPath:     outputPath,
		OutputFilename: renderFilename,
		OutputSize:     outInfo.Size(),
		ResultKind:     ResultKindPDF,
		Meta: &RenderMeta{
			URL:   rawURL,
			Pages: pages,
		},
		jobDir: ws.dir,
	}, nil
}
