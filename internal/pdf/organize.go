package pdf

import (
	"context"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

const organizeFilename = "organized.pdf"

// OrganizeMultipart は order 指定に従ってページを並べ替えたPDFを生成します。
// 指定された並びと重複はそのまま新しい文書のページ順になります
// （"1,1,2" なら1ページ目が2回現れる3ページの文書になります）。
func (s *Service) OrganizeMultipart(ctx context.Context, file *multipart.FileHeader, orderExpr string) (_ *Result, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if file == nil {
		return nil, newError("INVALID_INPUT", "PDFファイルを選択してください。", nil)
	}
	orderExpr = strings.TrimSpace(orderExpr)
	if orderExpr == "" {
		return nil, newError("INVALID_INPUT", "ページの並び順を指定してください。", nil)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state, _, err := s.prepareOrganize(ctx, file, orderExpr)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = removeDir(state.ws.dir)
		}
	}()

	result, execErr := s.executeOrganize(ctx, state, nil)
	if execErr != nil {
		return nil, execErr
	}
	return result, nil
}

type organizeState struct {
	ws        workspace
	file      storedFile
	orderExpr string
}

func (s *Service) prepareOrganize(ctx context.Context, file *multipart.FileHeader, orderExpr string) (*organizeState, *JobManifest, error) {
	ws, err := s.createWorkspace()
	if err != nil {
		return nil, nil, err
	}

	stored, err := s.storeMultipartFile(ctx, file, ws.inDir, 0)
	if err != nil {
		_ = removeDir(ws.dir)
		return nil, nil, err
	}

	// 全ページが範囲外の指定は空の文書になってしまうため弾く
	if _, err := parseSelection(orderExpr, stored.pages, false); err != nil {
		_ = removeDir(ws.dir)
		return nil, nil, err
	}

	manifest := &JobManifest{
		JobID:     ws.jobID,
		Operation: OperationOrganize,
		Files:     toJobFiles([]storedFile{stored}),
		Order:     orderExpr,
		CreatedAt: s.now().UTC(),
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		_ = removeDir(ws.dir)
		return nil, nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}

	s.scheduleExpiry(ws.dir)

	return &organizeState{ws: ws, file: stored, orderExpr: orderExpr}, manifest, nil
}

func (s *Service) executeOrganize(ctx context.Context, state *organizeState, progress ProgressReporter) (*Result, error) {
	ws := state.ws
	stored := state.file

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	indices, err := parseSelection(state.orderExpr, stored.pages, false)
	if err != nil {
		return nil, err
	}

	reportProgress(progress, "process", 40)
	outputPath := filepath.Join(ws.outDir, organizeFilename)
	if err := pdfapi.CollectFile(stored.path, outputPath, toPageSelection(indices), nil); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFのページ並替に失敗しました。ファイルが破損していないか確認してください。", err)
	}
	reportProgress(progress, "write", 80)

	outInfo, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("出力ファイルの確認に失敗しました: %w", err)
	}

	sourceMeta := SourceFileMeta{
		Name:  stored.originalName,
		Size:  stored.size,
		Pages: stored.pages,
	}
	pages := make([]int, len(indices))
	for i, idx := range indices {
		pages[i] = idx + 1
	}

	meta := struct {
		Type      OperationType  `json:"type"`
		CreatedAt string         `json:"createdAt"`
		Source    SourceFileMeta `json:"source"`
		Order     string         `json:"order"`
		Pages     []int          `json:"pages"`
		Output    string         `json:"output"`
	}{
		Type:      OperationOrganize,
		CreatedAt: s.now().UTC().Format(time.RFC3339),
		Source:    sourceMeta,
		Order:     state.orderExpr,
		Pages:     pages,
		Output:    organizeFilename,
	}

	metaPath := filepath.Join(ws.dir, "meta.json")
	if err := writeJSON(metaPath, meta); err != nil {
		return nil, fmt.Errorf("メタデータの保存に失敗しました: %w", err)
	}

	s.scheduleExpiry(ws.dir)
	reportProgress(progress, "completed", 100)

	return &Result{
		JobID:          ws.jobID,
		Operation:      OperationOrganize,
		OutputPath:     outputPath,
		OutputFilename: organizeFilename,
		OutputSize:     outInfo.Size(),
		ResultKind:     ResultKindPDF,
		Meta: &OrganizeMeta{
			Original: sourceMeta,
			Order:    state.orderExpr,
			Pages:    pages,
		},
		jobDir: ws.dir,
	}, nil
}

// PrepareOrganizeJob は非同期ジョブ用に入力を保存します。
func (s *Service) PrepareOrganizeJob(ctx context.Context, file *multipart.FileHeader, orderExpr string) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	_, manifest, err := s.prepareOrganize(ctx, file, orderExpr)
	if err != nil {
		return nil, err
	}
	return manifest, nil
}
