package export

import (
	"context"
	"fmt"
	"html"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

var browserBinaries = []string{"chromium-browser", "chromium", "google-chrome"}

// pageFooter is rendered by Chrome on every printed page; the span classes
// are filled in by the print engine.
const pageFooter = `<div style="font-size:8px;width:100%%;padding:0 0.75in;color:#666;display:flex;justify-content:space-between">` +
	`<span>%s</span><span><span class="pageNumber"></span> / <span class="totalPages"></span></span></div>`

func findBrowser() (string, bool) {
	for _, name := range browserBinaries {
		if path, err := exec.LookPath(name); err == nil {
			return path, true
		}
	}
	return "", false
}

// renderPDF prints a glossary page with headless Chrome. The markup is
// injected into a blank tab so no file or data URL is involved.
func renderPDF(ctx context.Context, markup string, title string) (*Result, error) {
	browser, ok := findBrowser()
	if !ok {
		return nil, fmt.Errorf("%w: chromium not installed", ErrPDFDependencyMissing)
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(browser),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()
	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	var pdfData []byte
	err := chromedp.Run(taskCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, markup).Do(ctx)
		}),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdfData, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(8.5).
				WithPaperHeight(11.0).
				WithMarginTop(0.75).
				WithMarginBottom(0.9).
				WithMarginLeft(0.75).
				WithMarginRight(0.75).
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate("<span></span>").
				WithFooterTemplate(footerHTML(title)).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chrome pdf generation failed: %w", err)
	}

	return &Result{
		Data:     pdfData,
		Filename: sanitizeFilename(title) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}

func footerHTML(title string) string {
	return fmt.Sprintf(pageFooter, html.EscapeString(title))
}

// sanitizeFilename keeps ASCII letters, digits, '-' and '_' and turns
// spaces into hyphens, capped at 50 bytes.
func sanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	result := b.String()
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = "glossary"
	}
	return result
}
