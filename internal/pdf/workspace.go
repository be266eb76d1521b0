package pdf

// workspace は1ジョブ分の一時領域を表します。
// dir 配下に入力（in）と成果物（out）を置き、削除は常に dir ごと行うため、
// ジョブ中に生成されたファイルはどの経路でも取り残されません。
type workspace struct {
	jobID  string
	dir    string
	inDir  string
	outDir string
}
