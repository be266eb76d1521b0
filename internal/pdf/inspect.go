package pdf

import (
	"context"
	"mime/multipart"
)

// InspectResult は変換を伴わない検査の応答です。
type InspectResult struct {
	Source SourceFileMeta `json:"source"`
}

// InspectMultipart はアップロードされたPDFを検証し、ページ数・サイズなどの
// メタデータだけを返します。入力は検証のために一時保存しますが、
// 応答前にワークスペースごと破棄します。
func (s *Service) InspectMultipart(ctx context.Context, file *multipart.FileHeader) (*InspectResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if file == nil {
		return nil, newError("INVALID_INPUT", "PDFファイルを選択してください。", nil)
	}

	ws, err := s.createWorkspace()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = removeDir(ws.dir)
	}()

	sf, err := s.storeMultipartFile(ctx, file, ws.inDir, 0)
	if err != nil {
		return nil, err
	}

	return &InspectResult{
		Source: SourceFileMeta{
			Name:  sf.originalName,
			Size:  sf.size,
			Pages: sf.pages,
		},
	}, nil
}
