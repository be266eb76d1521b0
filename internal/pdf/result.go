package pdf

import (
	"sync"
)

// OperationType はPDF処理の種別を表します。
type OperationType string

const (
	OperationMerge     OperationType = "merge"
	OperationImages    OperationType = "images"
	OperationExtract   OperationType = "extract"
	OperationOrganize  OperationType = "organize"
	OperationSplit     OperationType = "split"
	OperationRender    OperationType = "render"
	OperationRasterize OperationType = "rasterize"
)

// ResultKind は生成される成果物の種別を表します。
type ResultKind string

const (
	ResultKindPDF ResultKind = "pdf"
	ResultKindZIP ResultKind = "zip"
)

// SourceFileMeta は入力ファイルのメタデータです。
type SourceFileMeta struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Pages int    `json:"pages,omitempty"`
}

// Result はPDF処理の成果を表します。
type Result struct {
	JobID          string        `json:"jobId"`
	Operation      OperationType `json:"operation"`
	OutputPath     string        `json:"outputPath"`
	OutputFilename string        `json:"outputFilename"`
	OutputSize     int64         `json:"outputSize"`
	ResultKind     ResultKind    `json:"resultKind"`
	Meta           any           `json:"meta,omitempty"`

	jobDir      string
	cleanupOnce sync.Once
	cleanupErr  error
}

// Cleanup は作業ディレクトリを削除します。複数回呼ばれても削除は一度だけです。
func (r *Result) Cleanup() error {
	if r == nil {
		return nil
	}
	r.cleanupOnce.Do(func() {
		r.cleanupErr = removeDir(r.jobDir)
	})
	return r.cleanupErr
}

// MergeMeta は結合処理のメタデータです。
type MergeMeta struct {
	TotalPages int              `json:"totalPages"`
	Sources    []SourceFileMeta `json:"sources"`
}

// ImagesMeta は画像PDF化処理のメタデータです。
type ImagesMeta struct {
	Pages   int              `json:"pages"`
	Sources []SourceFileMeta `json:"sources"`
}

// ExtractMeta はページ抽出処理のメタデータです。
type ExtractMeta struct {
	Original SourceFileMeta `json:"original"`
	Range    string         `json:"range"`
	Pages    []int          `json:"pages"` // 抽出されたページ（1始まり、重複除去済み）
}

// OrganizeMeta はページ並替処理のメタデータです。
type OrganizeMeta struct {
	Original SourceFileMeta `json:"original"`
	Order    string         `json:"order"`
	Pages    []int          `json:"pages"` // 新しいページ並び（元文書の1始まりページ番号）
}

// SplitMeta は分割処理のメタデータです。
type SplitMeta struct {
	Original SourceFileMeta `json:"original"`
	Parts    []SplitPart    `json:"parts"`
}

// SplitPart は分割で生成された各PDFの情報です。
type SplitPart struct {
	Filename string `json:"filename"`
	Page     int    `json:"page"` // 元文書での1始まりページ番号
	Size     int64  `json:"size"`
}

// RenderMeta はURLレンダリング処理のメタデータです。
type RenderMeta struct {
	URL   string `json:"url"`
	Pages int    `json:"pages"`
}

// RasterizeMeta はラスタライズ処理のメタデータです。
type RasterizeMeta struct {
	Original SourceFileMeta `json:"original"`
	DPI      int            `json:"dpi"`
	Images   []RasterImage  `json:"images"`
}

// RasterImage はラスタライズで生成された各画像の情報です。
type RasterImage struct {
	Filename string `json:"filename"`
	Page     int    `json:"page"`
	Size     int64  `json:"size"`
}
