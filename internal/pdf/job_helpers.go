package pdf

import "path/filepath"

// toJobFiles は保存済み入力ファイルをマニフェスト形式に変換します。
func toJobFiles(stored []storedFile) []JobFile {
	files := make([]JobFile, len(stored))
	for i, sf := range stored {
		files[i] = JobFile{
			StoredName:   filepath.Base(sf.path),
			OriginalName: sf.originalName,
			Size:         sf.size,
			Pages:        sf.pages,
		}
	}
	return files
}

// storedFilesFromManifest はマニフェストからワークスペース上の入力ファイル
// 情報を復元します。パスは in ディレクトリ配下に固定です。
func storedFilesFromManifest(jobDir string, manifest *JobManifest) []storedFile {
	if manifest == nil {
		return nil
	}
	stored := make([]storedFile, len(manifest.Files))
	for i, f := range manifest.Files {
		stored[i] = storedFile{
			path:         filepath.Join(jobDir, "in", f.StoredName),
			originalName: f.OriginalName,
			size:         f.Size,
			pages:        f.Pages,
		}
	}
	return stored
}
