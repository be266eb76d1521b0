package pdf

import (
	"context"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"strconv"
	"time"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

const splitFilename = "split.zip"

// SplitMultipart はPDFを1ページずつの単一ページPDFに分割し、
// page_1.pdf 〜 page_n.pdf をまとめたzipを生成します。
func (s *Service) SplitMultipart(ctx context.Context, file *multipart.FileHeader) (_ *Result, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if file == nil {
		return nil, newError("INVALID_INPUT", "PDFファイルを選択してください。", nil)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state, _, err := s.prepareSplit(ctx, file)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = removeDir(state.ws.dir)
		}
	}()

	result, execErr := s.executeSplit(ctx, state, nil)
	if execErr != nil {
		return nil, execErr
	}
	return result, nil
}

type splitState struct {
	ws   workspace
	file storedFile
}

func (s *Service) prepareSplit(ctx context.Context, file *multipart.FileHeader) (*splitState, *JobManifest, error) {
	ws, err := s.createWorkspace()
	if err != nil {
		return nil, nil, err
	}
	stored, err := s.storeMultipartFile(ctx, file, ws.inDir, 0)
	if err != nil {
		_ = removeDir(ws.dir)
		return nil, nil, err
	}

	manifest := &JobManifest{
		JobID:     ws.jobID,
		Operation: OperationSplit,
		Files:     toJobFiles([]storedFile{stored}),
		CreatedAt: s.now().UTC(),
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		_ = removeDir(ws.dir)
		return nil, nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}

	s.scheduleExpiry(ws.dir)

	return &splitState{ws: ws, file: stored}, manifest, nil
}

func (s *Service) executeSplit(ctx context.Context, state *splitState, progress ProgressReporter) (*Result, error) {
	ws := state.ws
	stored := state.file

	partsMeta := make([]SplitPart, 0, stored.pages)
	entries := make([]archiveEntry, 0, stored.pages)

	for page := 1; page <= stored.pages; page++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		partName := fmt.Sprintf("page_%d.pdf", page)
		partPath := filepath.Join(ws.outDir, partName)

		reportProgress(progress, "process", 20+(60*page)/stored.pages)

		if err := pdfapi.CollectFile(stored.path, partPath, []string{strconv.Itoa(page)}, nil); err != nil {
			return nil, newError("UNSUPPORTED_PDF", fmt.Sprintf("ページ %d の切り出しに失敗しました。", page), err)
		}

		info, statErr := os.Stat(partPath)
		if statErr != nil {
			return nil, fmt.Errorf("分割ファイルの確認に失敗しました: %w", statErr)
		}

		partsMeta = append(partsMeta, SplitPart{
			Filename: partName,
			Page:     page,
			Size:     info.Size(),
		})
		entries = append(entries, archiveEntry{name: partName, path: partPath})
	}

	outputPath := filepath.Join(ws.outDir, splitFilename)
	if err := createArchive(outputPath, entries); err != nil {
		return nil, err
	}
	reportProgress(progress, "write", 90)

	outInfo, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("zipファイルの確認に失敗しました: %w", err)
	}

	sourceMeta := SourceFileMeta{
		Name:  stored.originalName,
		Size:  stored.size,
		Pages: stored.pages,
	}

	meta := struct {
		Type      OperationType  `json:"type"`
		CreatedAt string         `json:"createdAt"`
		Source    SourceFileMeta `json:"source"`
		Parts     []SplitPart    `json:"parts"`
	}{
		Type:      OperationSplit,
		CreatedAt: s.now().UTC().Format(time.RFC3339),
		Source:    sourceMeta,
		Parts:     partsMeta,
	}

	metaPath := filepath.Join(ws.dir, "meta.json")
	if err := writeJSON(metaPath, meta); err != nil {
		return nil, fmt.Errorf("メタデータの保存に失敗しました: %w", err)
	}

	s.scheduleExpiry(ws.dir)
	reportProgress(progress, "completed", 100)

	return &Result{
		JobID:          ws.jobID,
		Operation:      OperationSplit,
		OutputPath:     outputPath,
		OutputFilename: splitFilename,
		OutputSize:     outInfo.Size(),
		ResultKind:     ResultKindZIP,
		Meta: &SplitMeta{
			Original: sourceMeta,
			Parts:    partsMeta,
		},
		jobDir: ws.dir,
	}, nil
}

// PrepareSplitJob は非同期ジョブ用に入力を保存します。
func (s *Service) PrepareSplitJob(ctx context.Context, file *multipart.FileHeader) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	_, manifest, err := s.prepareSplit(ctx, file)
	if err != nil {
		return nil, err
	}
	return manifest, nil
}
