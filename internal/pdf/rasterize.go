package pdf

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

const rasterizeFilename = "pages.zip"

// RasterizeMultipart は Ghostscript を利用してPDFの各ページをPNG画像化し、
// page_1.png 〜 page_n.png をまとめたzipを生成します。
func (s *Service) RasterizeMultipart(ctx context.Context, file *multipart.FileHeader) (_ *Result, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if file == nil {
		return nil, newError("INVALID_INPUT", "PDFファイルを選択してください。", nil)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state, _, err := s.prepareRasterize(ctx, file)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = removeDir(state.ws.dir)
		}
	}()

	result, execErr := s.executeRasterize(ctx, state, nil)
	if execErr != nil {
		return nil, execErr
	}
	return result, nil
}

type rasterizeState struct {
	ws   workspace
	file storedFile
}

func (s *Service) prepareRasterize(ctx context.Context, file *multipart.FileHeader) (*rasterizeState, *JobManifest, error) {
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
		Operation: OperationRasterize,
		Files:     toJobFiles([]storedFile{stored}),
		CreatedAt: s.now().UTC(),
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		_ = removeDir(ws.dir)
		return nil, nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}

	s.scheduleExpiry(ws.dir)

	return &rasterizeState{ws: ws, file: stored}, manifest, nil
}

func (s *Service) executeRasterize(ctx context.Context, state *rasterizeState, progress ProgressReporter) (*Result, error) {
	ws := state.ws
	stored := state.file

	reportProgress(progress, "process", 30)
	if err := s.runRasterizer(ctx, stored.path, ws.outDir); err != nil {
		return nil, err
	}
	reportProgress(progress, "process", 70)

	imagesMeta := make([]RasterImage, 0, stored.pages)
	entries := make([]archiveEntry, 0, stored.pages)
	for page := 1; page <= stored.pages; page++ {
		name := fmt.Sprintf("page_%d.png", page)
		path := filepath.Join(ws.outDir, name)
		info, err := os.Stat(path)
		if err != nil {
			return nil, newError("RASTER_FAILED", fmt.Sprintf("ページ %d の画像が生成されませんでした。", page), err)
		}
		imagesMeta = append(imagesMeta, RasterImage{
			Filename: name,
			Page:     page,
			Size:     info.Size(),
		})
		entries = append(entries, archiveEntry{name: name, path: path})
	}

	outputPath := filepath.Join(ws.outDir, rasterizeFilename)
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
		DPI       int            `json:"dpi"`
		Images    []RasterImage  `json:"images"`
	}{
		Type:      OperationRasterize,
		CreatedAt: s.now().UTC().Format(time.RFC3339),
		Source:    sourceMeta,
		DPI:       s.rasterDPI(),
		Images:    imagesMeta,
	}

	metaPath := filepath.Join(ws.dir, "meta.json")
	if err := writeJSON(metaPath, meta); err != nil {
		return nil, fmt.Errorf("メタデータの保存に失敗しました: %w", err)
	}

	s.scheduleExpiry(ws.dir)
	reportProgress(progress, "completed", 100)

	return &Result{
		JobID:          ws.jobID,
		Operation:      OperationRasterize,
		OutputPath:     outputPath,
		OutputFilename: rasterizeFilename,
		OutputSize:     outInfo.Size(),
		ResultKind:     ResultKindZIP,
		Meta: &RasterizeMeta{
			Original: sourceMeta,
			DPI:      s.rasterDPI(),
			Images:   imagesMeta,
		},
		jobDir: ws.dir,
	}, nil
}

// PrepareRasterizeJob は非同期ジョブ用に入力を保存します。
func (s *Service) PrepareRasterizeJob(ctx context.Context, file *multipart.FileHeader) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	_, manifest, err := s.prepareRasterize(ctx, file)
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

func (s *Service) rasterDPI() int {
	if s.cfg.RasterDPI > 0 {
		return s.cfg.RasterDPI
	}
	return 150
}

func (s *Service) runRasterizer(ctx context.Context, inputPath, outDir string) error {
	args := []string{
		"-sDEVICE=png16m",
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		fmt.Sprintf("-r%d", s.rasterDPI()),
		fmt.Sprintf("-sOutputFile=%s", filepath.Join(outDir, "page_%d.png")),
		inputPath,
	}

	cmd := exec.CommandContext(ctx, s.cfg.GhostscriptPath, args...)
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return newError("RASTER_FAILED", fmt.Sprintf("Ghostscriptによる画像化に失敗しました: %s", stderr.String()), err)
	}
	return nil
}
