package pdf

// ProgressReporter は実行中のジョブが段階と進捗率を通知するための
// コールバックです。同期実行では nil を渡します。
type ProgressReporter func(stage string, percent int)

// reportProgress は進捗率を 0〜100 に収めて通知します。cb が nil なら何もしません。
func reportProgress(cb ProgressReporter, stage string, percent int) {
	if cb == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	cb(stage, percent)
}
