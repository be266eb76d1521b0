// Package pdf はPDF変換操作（結合・抽出・並替・分割・画像化など）と
// 一時ワークスペースのライフサイクル管理を提供します。
package pdf

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/namra862/tomback/internal/config"
)

const defaultCleanupMin = 10

// Error はAPIレスポンスに対応付けられるエラーです。
type Error struct {
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返します。
func (e *Error) Unwrap() error {
	return e.cause
}

func newError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Service はPDF操作のオーケストレーターです。
// 1リクエスト=1ワークスペースの原則で一時ファイルを管理します。
type Service struct {
	cfg         *config.Config
	renderer    Renderer
	now         func() time.Time
	expireAfter time.Duration
}

// NewService は Service を作成します。renderer は nil でも動作しますが、
// その場合URLレンダリング操作は RENDER_FAILED を返します。
func NewService(cfg *config.Config, renderer Renderer) *Service {
	expireMinutes := cfg.JobExpireMinutes
	if expireMinutes <= 0 {
		expireMinutes = defaultCleanupMin
	}
	return &Service{
		cfg:         cfg,
		renderer:    renderer,
		now:         time.Now,
		expireAfter: time.Duration(expireMinutes) * time.Minute,
	}
}

// createWorkspace はジョブ用の一時ディレクトリ一式を作成します。
// ジョブIDはUUIDなので、並行リクエスト間でディレクトリが衝突することはありません。
func (s *Service) createWorkspace() (workspace, error) {
	jobID := uuid.NewString()
	ws := s.workspaceFor(jobID)

	for _, dir := range []string{ws.inDir, ws.outDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			_ = removeDir(ws.dir)
			return workspace{}, fmt.Errorf("ワークスペースの作成に失敗しました: %w", err)
		}
	}
	return ws, nil
}

func (s *Service) workspaceFor(jobID string) workspace {
	dir := filepath.Join(s.cfg.WorkDir, jobID)
	return workspace{
		jobID:  jobID,
		dir:    dir,
		inDir:  filepath.Join(dir, "in"),
		outDir: filepath.Join(dir, "out"),
	}
}

// scheduleExpiry は有効期限経過後のワークスペース削除を予約します。
// ダウンロード後の Cleanup が主経路で、こちらは取り残し防止の保険です。
// prepare の時点でも予約されるため、キューに投入されたままワーカーに
// 拾われなかったジョブのワークスペースも期限が来れば消えます。
func (s *Service) scheduleExpiry(dir string) {
	time.AfterFunc(s.expireAfter, func() {
		_ = removeDir(dir)
	})
}

type storedFile struct {
	path         string
	originalName string
	size         int64
	pages        int
}

// storeMultipartFile はアップロードされたPDFを検証しつつワークスペースに保存します。
// サイズ上限・MIME判定・ページ数取得までをここで済ませます。
func (s *Service) storeMultipartFile(ctx context.Context, file *multipart.FileHeader, destDir string, index int) (storedFile, error) {
	if err := ctx.Err(); err != nil {
		return storedFile{}, err
	}
	if file == nil {
		return storedFile{}, newError("INVALID_INPUT", "PDFファイルを選択してください。", nil)
	}
	if s.cfg.MaxFileSize > 0 && file.Size > s.cfg.MaxFileSize {
		return storedFile{}, newError("LIMIT_EXCEEDED", fmt.Sprintf("ファイル %s がサイズ上限を超えています。", file.Filename), nil)
	}

	storedName := fmt.Sprintf("input-%03d.pdf", index)
	path := filepath.Join(destDir, storedName)
	size, err := copyMultipartFile(file, path)
	if err != nil {
		return storedFile{}, err
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return storedFile{}, fmt.Errorf("ファイル種別の判定に失敗しました: %w", err)
	}
	if !mtype.Is("application/pdf") {
		return storedFile{}, newError("UNSUPPORTED_PDF", fmt.Sprintf("%s はPDFファイルではありません。", file.Filename), nil)
	}

	pages, err := pdfapi.PageCountFile(path)
	if err != nil {
		return storedFile{}, newError("UNSUPPORTED_PDF", fmt.Sprintf("%s の読み込みに失敗しました。ファイルが破損していないか確認してください。", file.Filename), err)
	}
	if s.cfg.MaxPages > 0 && pages > s.cfg.MaxPages {
		return storedFile{}, newError("LIMIT_EXCEEDED", fmt.Sprintf("ファイル %s がページ数上限を超えています。", file.Filename), nil)
	}

	return storedFile{
		path:         path,
		originalName: file.Filename,
		size:         size,
		pages:        pages,
	}, nil
}

func copyMultipartFile(file *multipart.FileHeader, destPath string) (int64, error) {
	src, err := file.Open()
	if err != nil {
		return 0, fmt.Errorf("アップロードファイルのオープンに失敗しました: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, fmt.Errorf("入力ファイルの保存に失敗しました: %w", err)
	}
	defer dst.Close()

	size, err := io.Copy(dst, src)
	if err != nil {
		return 0, fmt.Errorf("入力ファイルの書き込みに失敗しました: %w", err)
	}
	return size, nil
}

// removeDir はワークスペースを再帰的に削除します。
// 既に存在しない場合もエラーにはなりません（os.RemoveAll の仕様）。
func removeDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}

func writeJSON(path string, v any) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
