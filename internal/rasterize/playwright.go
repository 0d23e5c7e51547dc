package rasterize

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"time"

	diffimage "plot-oracle/internal/diff/image"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/xerrors"
)

type PlaywrightConfig struct {
	Timeout time.Duration

	Headless                  bool
	ChromeDevtoolsProtocolURL string
}

func DefaultPlaywrightConfig() PlaywrightConfig {
	return PlaywrightConfig{
		Timeout:  30 * time.Second,
		Headless: true,
	}
}

type playwrightRasterizer struct {
	config Config
}

// NewPlaywrightRasterizer renders documents in Chromium, the way a browser would show
// them at a width×height viewport.
func NewPlaywrightRasterizer(ctx context.Context, c Config) (Rasterizer, error) {
	return &playwrightRasterizer{
		config: c,
	}, nil
}

// Install downloads the Chromium build used by the chromium backend.
func Install() error {
	if err := playwright.Install(&playwright.RunOptions{
		Browsers: []string{"chromium"},
	}); err != nil {
		return xerrors.Errorf("failed to install playwright browsers: %w", err)
	}
	return nil
}

func (c *playwrightRasterizer) Rasterize(ctx context.Context, doc Document, width int, height int) (*diffimage.Bitmap, error) {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	b, err := c.render(ctx, doc, width, height)
	if err != nil {
		return nil, &RasterizationError{Document: doc.Name, Backend: "chromium", Err: err}
	}
	return b, nil
}

func (c *playwrightRasterizer) render(ctx context.Context, doc Document, width int, height int) (*diffimage.Bitmap, error) {
	if len(bytes.TrimSpace(doc.Data)) == 0 {
		return nil, xerrors.New("empty document")
	}

	p, err := playwright.Run()
	if err != nil {
		return nil, xerrors.Errorf("failed to start playwright: %w", err)
	}
	defer p.Stop()

	var browser playwright.Browser

	if c.config.Playwright.ChromeDevtoolsProtocolURL == "" {
		browser, err = p.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(c.config.Playwright.Headless),
		})
		if err != nil {
			return nil, xerrors.Errorf("failed to launch browser: %w", err)
		}
		defer browser.Close()
	} else {
		browser, err = p.Chromium.ConnectOverCDP(c.config.Playwright.ChromeDevtoolsProtocolURL)
		if err != nil {
			return nil, xerrors.Errorf("failed to connect to browser via CDP at %s: %w", c.config.Playwright.ChromeDevtoolsProtocolURL, err)
		}
	}

	page, err := browser.NewPage()
	if err != nil {
		return nil, xerrors.Errorf("failed to create new page: %w", err)
	}
	defer page.Close()

	if err := page.SetViewportSize(width, height); err != nil {
		return nil, xerrors.Errorf("failed to set viewport size: %w", err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			page.Close()
		case <-done:
		}
	}()
	defer close(done)

	if err := page.SetContent(wrapDocument(doc.Data, width, height), playwright.PageSetContentOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(c.config.Playwright.Timeout.Milliseconds())),
	}); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, xerrors.Errorf("failed to load document: %w", err)
	}

	screenshot, err := page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, xerrors.Errorf("failed to take screenshot: %w", err)
	}
	if len(screenshot) == 0 {
		return nil, xerrors.New("renderer produced no output")
	}

	img, err := png.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return nil, xerrors.Errorf("failed to decode screenshot: %w", err)
	}

	b := diffimage.FromImage(img)
	if err := checkOutput(b, width, height); err != nil {
		return nil, err
	}
	return b, nil
}

// wrapDocument embeds the SVG as an image stretched over the whole viewport, matching
// the in-process renderer's fit.
func wrapDocument(data []byte, width int, height int) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<style>
html, body { margin: 0; padding: 0; overflow: hidden; background: #ffffff; }
img { display: block; width: %dpx; height: %dpx; }
</style>
</head>
<body><img src="data:image/svg+xml;base64,%s"></body>
</html>`, width, height, base64.StdEncoding.EncodeToString(data))
}
