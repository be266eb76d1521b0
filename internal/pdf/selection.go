package pdf

import (
	"strconv"
	"strings"
)

// parseSelection は "1-3,5" 形式のページ指定をパースし、0始まりのページ
// インデックス列を返します。指定は1始まりのページ番号または "開始-終了" の
// 閉区間をカンマで並べたもので、前後の空白は無視します。
//
// 範囲外のページ番号は黙って読み飛ばしますが、結果が空になった場合は
// INVALID_INPUT として拒否します。dedupe が true のとき、同じページの
// 2回目以降の出現は初出順を保ったまま除去します（抽出用）。false のときは
// 並びと重複をそのまま保持します（並替用）。
// 1始まり→0始まりの変換はこの関数の中でのみ行います。
func parseSelection(expr string, pageCount int, dedupe bool) ([]int, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, newError("INVALID_INPUT", "ページ指定が空です。", nil)
	}

	indices := make([]int, 0, pageCount)
	seen := make(map[int]struct{})

	for _, seg := range strings.Split(expr, ",") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			return nil, newError("INVALID_INPUT", "空のページ指定が含まれています。", nil)
		}

		start, end, err := parseSegment(seg)
		if err != nil {
			return nil, err
		}

		// 範囲外は黙って読み飛ばす。巨大な範囲指定（例: 1-9000000000）で
		// 回り続けないよう、反復の前に文書のページ数へ切り詰める
		if start < 1 {
			start = 1
		}
		if end > pageCount {
			end = pageCount
		}
		for page := start; page <= end; page++ {
			idx := page - 1
			if dedupe {
				if _, ok := seen[idx]; ok {
					continue
				}
				seen[idx] = struct{}{}
			}
			indices = append(indices, idx)
		}
	}

	if len(indices) == 0 {
		return nil, newError("INVALID_INPUT", "有効なページが1つも指定されていません。", nil)
	}

	return indices, nil
}

// parseSegment は単一ページ番号または "開始-終了" の範囲を1始まりで返します。
func parseSegment(seg string) (int, int, error) {
	if strings.Contains(seg, "-") {
		parts := strings.SplitN(seg, "-", 2)
		start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return 0, 0, newError("INVALID_INPUT", "範囲開始が整数ではありません。", nil)
		}
		end, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return 0, 0, newError("INVALID_INPUT", "範囲終了が整数ではありません。", nil)
		}
		if start > end {
			return 0, 0, newError("INVALID_INPUT", "範囲開始が範囲終了より大きくなっています。", nil)
		}
		return start, end, nil
	}

	page, err := strconv.Atoi(seg)
	if err != nil {
		return 0, 0, newError("INVALID_INPUT", "ページ番号が整数ではありません。", nil)
	}
	return page, page, nil
}

// toPageSelection は0始まりのインデックス列をpdfcpuが受け取る1始まりの
// ページ番号文字列に変換します。
func toPageSelection(indices []int) []string {
	pages := make([]string, len(indices))
	for i, idx := range indices {
		pages[i] = strconv.Itoa(idx + 1)
	}
	return pages
}
