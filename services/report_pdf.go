package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// ErrNoBrowser means no Chrome or Chromium binary could be located.
var ErrNoBrowser = errors.New("no chrome or chromium binary found")

// PDFRenderer prints an HTML report to PDF with headless Chrome.
type PDFRenderer struct {
	chromeBin string
	timeout   time.Duration
	logger    arbor.ILogger
}

func NewPDFRenderer(chromeBin string, timeout time.Duration, logger arbor.ILogger) *PDFRenderer {
	if chromeBin == "" {
		chromeBin = FindChromeBinary()
	}
	return &PDFRenderer{chromeBin: chromeBin, timeout: timeout, logger: logger}
}

// Available reports whether a browser binary was found.
func (r *PDFRenderer) Available() bool { return r.chromeBin != "" }

// Render loads htmlPath in a headless browser and returns the printed PDF.
func (r *PDFRenderer) Render(ctx context.Context, htmlPath string) ([]byte, error) {
	if !r.Available() {
		return nil, ErrNoBrowser
	}
	abs, err := filepath.Abs(htmlPath)
	if err != nil {
		return nil, err
	}

	r.logger.Debug().Str("browser", r.chromeBin).Str("html", abs).Msg("Printing report to PDF")

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.ExecPath(r.chromeBin),
	)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	var pdf []byte
	err = chromedp.Run(browserCtx,
		chromedp.Navigate("file://"+filepath.ToSlash(abs)),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdf, _, err = page.PrintToPDF().WithPrintBackground(true).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return pdf, nil
}

// FindChromeBinary locates a Chrome or Chromium binary on PATH or in the
// usual install locations.
func FindChromeBinary() string {
	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
