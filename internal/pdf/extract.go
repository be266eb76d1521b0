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

const extractFilename = "extracted.pdf"

// ExtractMultipart は範囲指定されたページだけを含むPDFを生成します。
// 同じページが複数回指定された場合は初出のみを残します。
func (s *Service) ExtractMultipart(ctx context.Context, file *multipart.FileHeader, rangeExpr string) (_ *Result, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if file == nil {
		return nil, newError("INVALID_INPUT", "PDFファイルを選択してください。", nil)
	}
	rangeExpr = strings.TrimSpace(rangeExpr)
	if rangeExpr == "" {
		return nil, newError("INVALID_INPUT", "抽出するページ範囲を指定してください。", nil)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state, _, err := s.prepareExtract(ctx, file, rangeExpr)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = removeDir(state.ws.dir)
		}
	}()

	result, execErr := s.executeExtract(ctx, state, nil)
	if execErr != nil {
		return nil, execErr
	}
	return result, nil
}

type extractState struct {
	ws        workspace
	file      storedFile
	rangeExpr string
}

func (s *Service) prepareExtract(ctx context.Context, file *multipart.FileHeader, rangeExpr string) (*extractState, *JobManifest, error) {
	ws, err := s.createWorkspace()
	if err != nil {
		return nil, nil, err
	}

	stored, err := s.storeMultipartFile(ctx, file, ws.inDir, 0)
	if err != nil {
		_ = removeDir(ws.dir)
		return nil, nil, err
	}

	// 範囲外ページしか含まない指定はここで弾く
	if _, err := parseSelection(rangeExpr, stored.pages, true); err != nil {
		_ = removeDir(ws.dir)
		return nil, nil, err
	}

	manifest := &JobManifest{
		JobID:     ws.jobID,
		Operation: OperationExtract,
		Files:     toJobFiles([]storedFile{stored}),
		Range:     rangeExpr,
		CreatedAt: s.now().UTC(),
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		_ = removeDir(ws.dir)
		return nil, nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}

	s.scheduleExpiry(ws.dir)

	return &extractState{ws: ws, file: stored, rangeExpr: rangeExpr}, manifest, nil
}

func (s *Service) executeExtract(ctx context.Context, state *extractState, progress ProgressReporter) (*Result, error) {
	ws := state.ws
	stored := state.file

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	indices, err := parseSelection(state.rangeExpr, stored.pages, true)
	if err != nil {
		return nil, err
	}

	reportProgress(progress, "process", 40)
	outputPath := filepath.Join(ws.outDir, extractFilename)
	if err := pdfapi.CollectFile(stored.path, outputPath, toPageSelection(indices), nil); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "ページの抽出に失敗しました。ファイルが破損していないか確認してください。", err)
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
		Range     string         `json:"range"`
		Pages     []int          `json:"pages"`
		Output    string         `json:"output"`
	}{
		Type:      OperationExtract,
		CreatedAt: s.now().UTC().Format(time.RFC3339),
		Source:    sourceMeta,
		Range:     state.rangeExpr,
		Pages:     pages,
		Output:    extractFilename,
	}

	metaPath := filepath.Join(ws.dir, "meta.json")
	if err := writeJSON(metaPath, meta); err != nil {
		return nil, fmt.Errorf("メタデータの保存に失敗しました: %w", err)
	}

	s.scheduleExpiry(ws.dir)
	reportProgress(progress, "completed", 100)

	return &Result{
		JobID:          ws.jobID,
		Operation:      OperationExtract,
		OutputPath:     outputPath,
		OutputFilename: extractFilename,
		OutputSize:     outInfo.Size(),
		ResultKind:     ResultKindPDF,
		Meta: &ExtractMeta{
			Original: sourceMeta,
			Range:    state.rangeExpr,
			Pages:    pages,
		},
		jobDir: ws.dir,
	}, nil
}

// PrepareExtractJob は非同期ジョブ用に入力を保存します。
func (s *Service) PrepareExtractJob(ctx context.Context, file *multipart.FileHeader, rangeExpr string) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	_, manifest, err := s.prepareExtract(ctx, file, rangeExpr)
	if err != nil {
		return nil, err
	}
	return manifest, nil
}
