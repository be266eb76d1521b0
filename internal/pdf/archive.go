package pdf

import (
	"archive/zip"
	"compress/flate"
	"fmt"
	"io"
	"os"
)

// archiveEntry は書庫に格納する1エントリです。name がそのままエントリ名に
// なります（ディレクトリ階層は作りません）。
type archiveEntry struct {
	name string
	path string
}

// createArchive は entries を与えられた順のまま1つのzipに書き出します。
// 各エントリは io.Copy でストリーム書き込みするため、メモリ使用量は
// 1エントリ分に収まります。圧縮は常に最高圧縮率のDeflateです。
// 書き込みに失敗した場合は ARCHIVE_WRITE_FAILED を返し、書きかけのzipは
// ワークスペースごと削除される前提です。
func createArchive(outputPath string, entries []archiveEntry) error {
	outFile, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return newError("ARCHIVE_WRITE_FAILED", "書庫ファイルの作成に失敗しました。", err)
	}
	defer outFile.Close()

	zipWriter := zip.NewWriter(outFile)
	zipWriter.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	for _, entry := range entries {
		if err := writeArchiveEntry(zipWriter, entry); err != nil {
			_ = zipWriter.Close()
			return err
		}
	}

	if err := zipWriter.Close(); err != nil {
		return newError("ARCHIVE_WRITE_FAILED", "書庫の書き込みに失敗しました。", err)
	}
	return nil
}

func writeArchiveEntry(zipWriter *zip.Writer, entry archiveEntry) error {
	file, err := os.Open(entry.path)
	if err != nil {
		return fmt.Errorf("書庫入力ファイルのオープンに失敗しました: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("書庫入力ファイルの情報取得に失敗しました: %w", err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("書庫ヘッダーの生成に失敗しました: %w", err)
	}
	header.Name = entry.name
	header.Method = zip.Deflate

	writer, err := zipWriter.CreateHeader(header)
	if err != nil {
		return newError("ARCHIVE_WRITE_FAILED", "書庫ヘッダーの書き込みに失敗しました。", err)
	}
	if _, err := io.Copy(writer, file); err != nil {
		return newError("ARCHIVE_WRITE_FAILED", "書庫への書き込みに失敗しました。", err)
	}
	return nil
}
