// Package render はヘッドレスChromeによるURL→PDFレンダリングを提供します。
// internal/pdf からは Renderer インターフェース越しに利用されます。
package render

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ChromeRenderer はブラウザプロセスを1つ保持し、レンダリングごとに
// 新しいタブを開きます。複数ゴルーチンから同時に呼んでも安全です。
type ChromeRenderer struct {
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewChromeRenderer はヘッドレスブラウザを起動します。
// chromePath が空の場合は標準の探索パスを使用します。
// 使い終わったら必ず Close を呼んでください。
func NewChromeRenderer(chromePath string) (*ChromeRenderer, error) {
	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("no-first-run", true),
	)
	if chromePath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(chromePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// 起動時エラーをここで顕在化させる
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("ブラウザの起動に失敗しました: %w", err)
	}

	return &ChromeRenderer{
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Render は指定URLのページをPDFバイト列として返します。
// タイムアウトは呼び出し側の ctx で制御します。
func (r *ChromeRenderer) Render(ctx context.Context, url string) ([]byte, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("レンダラーは既に閉じられています")
	}
	r.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(r.browserCtx)
	defer tabCancel()

	// 呼び出し側のキャンセル/タイムアウトをタブ操作に伝播させる
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		tabCtx, cancel = context.WithDeadline(tabCtx, deadline)
		defer cancel()
	}
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	var buf []byte
	if err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			buf, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPreferCSSPageSize(true).
				Do(ctx)
			return err
		}),
	); err != nil {
		return nil, fmt.Errorf("レンダリングに失敗しました: %w", err)
	}

	return buf, nil
}

// Close はブラウザプロセスを終了します。複数回呼んでも安全です。
func (r *ChromeRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.browserCancel()
	r.allocCancel()
	return nil
}
