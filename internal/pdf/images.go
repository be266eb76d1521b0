package pdf

import (
	"context"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

const imagesFilename = "images.pdf"

// imageKind は画像PDF化で受け付ける入力種別の閉じた列挙です。
// ここに無い種別は UNSUPPORTED_MEDIA_TYPE として扱い、MIME文字列での
// その場判定は行いません。
type imageKind string

const (
	imageKindJPEG imageKind = "jpeg"
	imageKindPNG  imageKind = "png"
)

var imageKindExt = map[imageKind]string{
	imageKindJPEG: ".jpg",
	imageKindPNG:  ".png",
}

func detectImageKind(path string) (imageKind, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("画像種別の判定に失敗しました: %w", err)
	}
	switch {
	case mtype.Is("image/jpeg"):
		return imageKindJPEG, nil
	case mtype.Is("image/png"):
		return imageKindPNG, nil
	default:
		return "", newError("UNSUPPORTED_MEDIA_TYPE", fmt.Sprintf("対応していない画像形式です: %s（JPEGまたはPNGを指定してください）", mtype.String()), nil)
	}
}

// ImagesMultipart はJPEG/PNG画像をアップロード順に1画像=1ページのPDFへ
// 変換します。各ページのサイズは画像のピクセル寸法に合わせます。
// 1つでも対応外の画像が含まれる場合、そのファイルだけでなく操作全体を
// 失敗させます。
func (s *Service) ImagesMultipart(ctx context.Context, files []*multipart.FileHeader) (_ *Result, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(files) == 0 {
		return nil, newError("INVALID_INPUT", "画像ファイルを選択してください。", nil)
	}
	if s.cfg.MaxFiles > 0 && len(files) > s.cfg.MaxFiles {
		return nil, newError("LIMIT_EXCEEDED", "一度に変換できるファイル数を超えています。", nil)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state, _, err := s.prepareImages(ctx, files)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = removeDir(state.ws.dir)
		}
	}()

	result, execErr := s.executeImages(ctx, state, nil)
	if execErr != nil {
		return nil, execErr
	}
	return result, nil
}

type imagesState struct {
	ws          workspace
	storedFiles []storedFile
}

// storeMultipartImage は画像を検証しつつワークスペースに保存します。
// 種別判定に通らなければ呼び出し元がワークスペースごと破棄します。
func (s *Service) storeMultipartImage(ctx context.Context, file *multipart.FileHeader, destDir string, index int) (storedFile, error) {
	if err := ctx.Err(); err != nil {
		return storedFile{}, err
	}
	if file == nil {
		return storedFile{}, newError("INVALID_INPUT", "画像ファイルを選択してください。", nil)
	}
	if s.cfg.MaxFileSize > 0 && file.Size > s.cfg.MaxFileSize {
		return storedFile{}, newError("LIMIT_EXCEEDED", fmt.Sprintf("ファイル %s がサイズ上限を超えています。", file.Filename), nil)
	}

	tmpPath := filepath.Join(destDir, fmt.Sprintf("image-%03d", index))
	size, err := copyMultipartFile(file, tmpPath)
	if err != nil {
		return storedFile{}, err
	}

	kind, err := detectImageKind(tmpPath)
	if err != nil {
		return storedFile{}, err
	}

	// pdfcpuが拡張子で画像形式を判別するため、確定した種別で改名する
	path := tmpPath + imageKindExt[kind]
	if err := os.Rename(tmpPath, path); err != nil {
		return storedFile{}, fmt.Errorf("入力ファイルの保存に失敗しました: %w", err)
	}

	return storedFile{
		path:         path,
		originalName: file.Filename,
		size:         size,
		pages:        1,
	}, nil
}

func (s *Service) prepareImages(ctx context.Context, files []*multipart.FileHeader) (*imagesState, *JobManifest, error) {
	ws, err := s.createWorkspace()
	if err != nil {
		return nil, nil, err
	}

	stored := make([]storedFile, 0, len(files))
	for i, file := range files {
		sf, err := s.storeMultipartImage(ctx, file, ws.inDir, i)
		if err != nil {
			_ = removeDir(ws.dir)
			return nil, nil, err
		}
		stored = append(stored, sf)
	}

	manifest := &JobManifest{
		JobID:     ws.jobID,
		Operation: OperationImages,
		Files:     toJobFiles(stored),
		CreatedAt: s.now().UTC(),
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		_ = removeDir(ws.dir)
		return nil, nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}

	s.scheduleExpiry(ws.dir)

	return &imagesState{ws: ws, storedFiles: stored}, manifest, nil
}

func (s *Service) executeImages(ctx context.Context, state *imagesState, progress ProgressReporter) (*Result, error) {
	ws := state.ws
	stored := state.storedFiles

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	imgPaths := make([]string, len(stored))
	sources := make([]SourceFileMeta, len(stored))
	for i, sf := range stored {
		imgPaths[i] = sf.path
		sources[i] = SourceFileMeta{Name: sf.originalName, Size: sf.size, Pages: 1}
	}

	reportProgress(progress, "process", 40)
	outputPath := filepath.Join(ws.outDir, imagesFilename)
	if err := pdfapi.ImportImagesFile(imgPaths, outputPath, nil, nil); err != nil {
		return nil, newError("UNSUPPORTED_MEDIA_TYPE", "画像のPDF化に失敗しました。画像が破損していないか確認してください。", err)
	}
	reportProgress(progress, "write", 80)

	outInfo, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("出力ファイルの確認に失敗しました: %w", err)
	}

	meta := struct {
		Type      OperationType    `json:"type"`
		CreatedAt string           `json:"createdAt"`
		Sources   []SourceFileMeta `json:"sources"`
		Output    string           `json:"output"`
		Pages     int              `json:"pages"`
	}{
		Type:      OperationImages,
		CreatedAt: s.now().UTC().Format(time.RFC3339),
		Sources:   sources,
		Output:    imagesFilename,
		Pages:     len(stored),
	}

	metaPath := filepath.Join(ws.dir, "meta.json")
	if err := writeJSON(metaPath, meta); err != nil {
		return nil, fmt.Errorf("メタデータの保存に失敗しました: %w", err)
	}

	s.scheduleExpiry(ws.dir)
	reportProgress(progress, "completed", 100)

	return &Result{
		JobID:          ws.jobID,
		Operation:      OperationImages,
		OutputPath:     outputPath,
		OutputFilename: imagesFilename,
		OutputSize:     outInfo.Size(),
		ResultKind:     ResultKindPDF,
		Meta: &ImagesMeta{
			Pages:   len(stored),
			Sources: sources,
		},
		jobDir: ws.dir,
	}, nil
}

// PrepareImagesJob は非同期ジョブ用に入力を保存します。
func (s *Service) PrepareImagesJob(ctx context.Context, files []*multipart.FileHeader) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(files) == 0 {
		return nil, newError("INVALID_INPUT", "画像ファイルを選択してください。", nil)
	}
	if s.cfg.MaxFiles > 0 && len(files) > s.cfg.MaxFiles {
		return nil, newError("LIMIT_EXCEEDED", "一度に変換できるファイル数を超えています。", nil)
	}
	_, manifest, err := s.prepareImages(ctx, files)
	if err != nil {
		return nil, err
	}
	return manifest, nil
}
