package pdf

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// validateJobID はジョブIDがUUIDであることを確認します。
// ジョブIDはファイルパスの一部になるため、UUID以外（".." など）は
// ファイルシステムに触れる前に拒否します。
func validateJobID(jobID string) error {
	if jobID == "" {
		return fmt.Errorf("jobID is required")
	}
	if _, err := uuid.Parse(jobID); err != nil {
		return fmt.Errorf("invalid jobID: %q", jobID)
	}
	return nil
}

// RunJob はジョブIDに対応するPDF処理をマニフェストから復元して実行します。
// 実行に失敗した場合もワークスペースは必ず削除されます。
func (s *Service) RunJob(ctx context.Context, jobID string, reporter ProgressReporter) (*Result, error) {
	if err := validateJobID(jobID); err != nil {
		return nil, err
	}
	ws := s.workspaceFor(jobID)
	manifest, err := loadManifest(ws.dir)
	if err != nil {
		_ = removeDir(ws.dir)
		return nil, err
	}
	if manifest.Operation == "" {
		_ = removeDir(ws.dir)
		return nil, fmt.Errorf("manifest missing operation")
	}

	stored := storedFilesFromManifest(ws.dir, manifest)
	if len(stored) == 0 {
		_ = removeDir(ws.dir)
		return nil, fmt.Errorf("manifest has no input files")
	}

	var (
		result *Result
		runErr error
	)

	switch manifest.Operation {
	case OperationMerge:
		state := &mergeState{ws: ws, storedFiles: stored}
		result, runErr = s.executeMerge(ctx, state, reporter)
	case OperationImages:
		state := &imagesState{ws: ws, storedFiles: stored}
		result, runErr = s.executeImages(ctx, state, reporter)
	case OperationExtract:
		state := &extractState{ws: ws, file: stored[0], rangeExpr: manifest.Range}
		result, runErr = s.executeExtract(ctx, state, reporter)
	case OperationOrganize:
		state := &organizeState{ws: ws, file: stored[0], orderExpr: manifest.Order}
		result, runErr = s.executeOrganize(ctx, state, reporter)
	case OperationSplit:
		state := &splitState{ws: ws, file: stored[0]}
		result, runErr = s.executeSplit(ctx, state, reporter)
	case OperationRasterize:
		state := &rasterizeState{ws: ws, file: stored[0]}
		result, runErr = s.executeRasterize(ctx, state, reporter)
	default:
		// render はアップロードを伴わない同期専用操作なのでここには来ない
		_ = removeDir(ws.dir)
		return nil, fmt.Errorf("unsupported operation: %s", manifest.Operation)
	}

	if runErr != nil {
		if cleanupErr := removeDir(ws.dir); cleanupErr != nil {
			runErr = fmt.Errorf("%w (ワークスペースの削除にも失敗しました: %v)", runErr, cleanupErr)
		}
		return nil, runErr
	}

	return result, nil
}

// DiscardJob は準備済みジョブのワークスペースを破棄します。
// キュー投入に失敗した場合などに呼ばれます。
func (s *Service) DiscardJob(jobID string) error {
	if err := validateJobID(jobID); err != nil {
		return err
	}
	return removeDir(s.workspaceFor(jobID).dir)
}
