package pdf

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestParseSelection(t *testing.T) {
	tests := []struct {
		name      string
		expr      string
		pageCount int
		dedupe    bool
		want      []int
	}{
		{name: "範囲と単独ページの混在", expr: "1-3,5", pageCount: 6, dedupe: true, want: []int{0, 1, 2, 4}},
		{name: "範囲外ページは読み飛ばす", expr: "1,9", pageCount: 3, dedupe: true, want: []int{0}},
		{name: "範囲の一部が範囲外", expr: "2-9", pageCount: 3, dedupe: true, want: []int{1, 2}},
		{name: "重複は初出順で除去", expr: "2,1,2,1-2", pageCount: 3, dedupe: true, want: []int{1, 0}},
		{name: "並替は重複を保持", expr: "1,1,2", pageCount: 3, dedupe: false, want: []int{0, 0, 1}},
		{name: "並替は指定順を保持", expr: "3,1,2", pageCount: 3, dedupe: false, want: []int{2, 0, 1}},
		{name: "空白は無視", expr: " 1 - 2 , 3 ", pageCount: 3, dedupe: true, want: []int{0, 1, 2}},
		{name: "0ページ目は存在しないので読み飛ばす", expr: "0,1", pageCount: 3, dedupe: true, want: []int{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSelection(tt.expr, tt.pageCount, tt.dedupe)
			if err != nil {
				t.Fatalf("parseSelection returned error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("parseSelection(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestParseSelectionInvalid(t *testing.T) {
	tests := []struct {
		name      string
		expr      string
		pageCount int
	}{
		{name: "空の指定", expr: "", pageCount: 3},
		{name: "空白のみ", expr: "   ", pageCount: 3},
		{name: "空セグメント", expr: "1,,2", pageCount: 3},
		{name: "整数でないページ番号", expr: "a", pageCount: 3},
		{name: "整数でない範囲終了", expr: "1-x", pageCount: 3},
		{name: "開始が終了より大きい範囲", expr: "3-1", pageCount: 3},
		{name: "全ページが範囲外", expr: "9-12", pageCount: 3},
		{name: "範囲外の単独ページのみ", expr: "4", pageCount: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSelection(tt.expr, tt.pageCount, true)
			if err == nil {
				t.Fatalf("parseSelection(%q) should fail", tt.expr)
			}
			var apiErr *Error
			if !errors.As(err, &apiErr) || apiErr.Code != "INVALID_INPUT" {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

// 終端が巨大な範囲指定でもページ数までしか反復しないことを確認する
func TestParseSelectionHugeRange(t *testing.T) {
	type outcome struct {
		got []int
		err error
	}
	run := func(expr string) outcome {
		ch := make(chan outcome, 1)
		go func() {
			got, err := parseSelection(expr, 3, true)
			ch <- outcome{got: got, err: err}
		}()
		select {
		case out := <-ch:
			return out
		case <-time.After(2 * time.Second):
			t.Fatalf("parseSelection(%q) がすぐに返りませんでした", expr)
			return outcome{}
		}
	}

	out := run("1-9000000000")
	if out.err != nil {
		t.Fatalf("parseSelection returned error: %v", out.err)
	}
	if want := []int{0, 1, 2}; !reflect.DeepEqual(out.got, want) {
		t.Fatalf("parseSelection = %v, want %v", out.got, want)
	}

	out = run("1-9223372036854775807")
	if out.err != nil {
		t.Fatalf("parseSelection returned error: %v", out.err)
	}
	if want := []int{0, 1, 2}; !reflect.DeepEqual(out.got, want) {
		t.Fatalf("parseSelection = %v, want %v", out.got, want)
	}

	// 全域が範囲外の巨大指定は空になり拒否される
	out = run("5-9000000000")
	if out.err == nil {
		t.Fatal("parseSelection should fail for an entirely out-of-range huge span")
	}
	var apiErr *Error
	if !errors.As(out.err, &apiErr) || apiErr.Code != "INVALID_INPUT" {
		t.Fatalf("unexpected error: %v", out.err)
	}
}

func TestToPageSelection(t *testing.T) {
	got := toPageSelection([]int{0, 4, 2})
	want := []string{"1", "5", "3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("toPageSelection = %v, want %v", got, want)
	}
}
