package pdf

import (
	"context"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"time"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

const mergeFilename = "merged.pdf"

// MergeMultipart は複数PDFをアップロードされた順に1つへ結合します。
func (s *Service) MergeMultipart(ctx context.Context, files []*multipart.FileHeader) (_ *Result, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(files) < 2 {
		return nil, newError("INVALID_INPUT", "結合には2つ以上のPDFファイルを指定してください。", nil)
	}
	if s.cfg.MaxFiles > 0 && len(files) > s.cfg.MaxFiles {
		return nil, newError("LIMIT_EXCEEDED", "一度に結合できるファイル数を超えています。", nil)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state, _, err := s.prepareMerge(ctx, files)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = removeDir(state.ws.dir)
		}
	}()

	result, execErr := s.executeMerge(ctx, state, nil)
	if execErr != nil {
		return nil, execErr
	}
	return result, nil
}

type mergeState struct {
	ws          workspace
	storedFiles []storedFile
}

func (s *Service) prepareMerge(ctx context.Context, files []*multipart.FileHeader) (*mergeState, *JobManifest, error) {
	ws, err := s.createWorkspace()
	if err != nil {
		return nil, nil, err
	}

	stored := make([]storedFile, 0, len(files))
	for i, file := range files {
		sf, err := s.storeMultipartFile(ctx, file, ws.inDir, i)
		if err != nil {
			_ = removeDir(ws.dir)
			return nil, nil, err
		}
		stored = append(stored, sf)
	}

	manifest := &JobManifest{
		JobID:     ws.jobID,
		Operation: OperationMerge,
		Files:     toJobFiles(stored),
		CreatedAt: s.now().UTC(),
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		_ = removeDir(ws.dir)
		return nil, nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}

	// 投入されたままワーカーに拾われなかった場合の取り残し防止
	s.scheduleExpiry(ws.dir)

	return &mergeState{ws: ws, storedFiles: stored}, manifest, nil
}

func (s *Service) executeMerge(ctx context.Context, state *mergeState, progress ProgressReporter) (*Result, error) {
	ws := state.ws
	stored := state.storedFiles

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inPaths := make([]string, len(stored))
	sources := make([]SourceFileMeta, len(stored))
	totalPages := 0
	for i, sf := range stored {
		inPaths[i] = sf.path
		sources[i] = SourceFileMeta{Name: sf.originalName, Size: sf.size, Pages: sf.pages}
		totalPages += sf.pages
	}

	reportProgress(progress, "process", 40)
	outputPath := filepath.Join(ws.outDir, mergeFilename)
	if err := pdfapi.MergeCreateFile(inPaths, outputPath, false, nil); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFの結合に失敗しました。ファイルが破損していないか確認してください。", err)
	}
	reportProgress(progress, "write", 80)

	outInfo, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("出力ファイルの確認に失敗しました: %w", err)
	}

	meta := struct {
		Type       OperationType    `json:"type"`
		CreatedAt  string           `json:"createdAt"`
		Sources    []SourceFileMeta `json:"sources"`
		Output     string           `json:"output"`
		TotalPages int              `json:"totalPages"`
	}{
		Type:       OperationMerge,
		CreatedAt:  s.now().UTC().Format(time.RFC3339),
		Sources:    sources,
		Output:     mergeFilename,
		TotalPages: totalPages,
	}

	metaPath := filepath.Join(ws.dir, "meta.json")
	if err := writeJSON(metaPath, meta); err != nil {
		return nil, fmt.Errorf("メタデータの保存に失敗しました: %w", err)
	}

	s.scheduleExpiry(ws.dir)
	reportProgress(progress, "completed", 100)

	return &Result{
		JobID:          ws.jobID,
		Operation:      OperationMerge,
		OutputPath:     outputPath,
		OutputFilename: mergeFilename,
		OutputSize:     outInfo.Size(),
		ResultKind:     ResultKindPDF,
		Meta: &MergeMeta{
			TotalPages: totalPages,
			Sources:    sources,
		},
		jobDir: ws.dir,
	}, nil
}

// PrepareMergeJob は非同期ジョブ用に入力を保存します。
func (s *Service) PrepareMergeJob(ctx context.Context, files []*multipart.FileHeader) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(files) < 2 {
		return nil, newError("INVALID_INPUT", "結合には2つ以上のPDFファイルを指定してください。", nil)
	}
	if s.cfg.MaxFiles > 0 && len(files) > s.cfg.MaxFiles {
		return nil, newError("LIMIT_EXCEEDED", "一度に結合できるファイル数を超えています。", nil)
	}
	_, manifest, err := s.prepareMerge(ctx, files)
	if err != nil {
		return nil, err
	}
	return manifest, nil
}
