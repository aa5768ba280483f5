package diagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// DefaultMermaidURL is the Mermaid build loaded into the headless page.
const DefaultMermaidURL = "https://cdn.jsdelivr.net/npm/mermaid@10.9.5/dist/mermaid.min.js"

// ChromeOptions configures ChromeService.
type ChromeOptions struct {
	MermaidURL string
	// ExecPath overrides Chrome discovery.
	ExecPath string
	// Timeout bounds a single render, including page load.
	Timeout time.Duration
}

// ChromeService renders Mermaid diagrams to SVG in a shared headless Chrome
// instance. Each render gets its own tab.
type ChromeService struct {
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	hostFile      string
	timeout       time.Duration
}

// NewChromeService starts headless Chrome. Close releases it.
func NewChromeService(opts ChromeOptions) (*ChromeService, error) {
	if opts.MermaidURL == "" {
		opts.MermaidURL = DefaultMermaidURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	host, err := os.CreateTemp("", "lessonview-mermaid-*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to create mermaid host page: %w", err)
	}
	page := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8">
	<script src="%s"></script>
	<script>mermaid.initialize({ startOnLoad: false });</script>
</head>
<body></body>
</html>
`, opts.MermaidURL)
	if _, err := host.WriteString(page); err != nil {
		host.Close()
		os.Remove(host.Name())
		return nil, fmt.Errorf("failed to write mermaid host page: %w", err)
	}
	host.Close()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("allow-file-access-from-files", true),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// Running with no actions starts the browser so tabs can share it.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		os.Remove(host.Name())
		return nil, fmt.Errorf("failed to start headless chrome: %w", err)
	}

	return &ChromeService{
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
		hostFile:      host.Name(),
		timeout:       opts.Timeout,
	}, nil
}

// Render runs mermaid.render in a fresh tab and returns the SVG.
func (s *ChromeService) Render(ctx context.Context, id, description string) (string, error) {
	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, s.timeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTimeout)
	defer stop()

	idJSON, err := json.Marshal(id)
	if err != nil {
		return "", err
	}
	descJSON, err := json.Marshal(description)
	if err != nil {
		return "", err
	}
	script := fmt.Sprintf(`(async () => {
	const { svg } = await mermaid.render(%s, %s);
	return svg;
})()`, idJSON, descJSON)

	var svg string
	err = chromedp.Run(tabCtx,
		chromedp.Navigate("file://"+s.hostFile),
		chromedp.WaitReady("body"),
		chromedp.Evaluate(script, &svg, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	)
	var exc *runtime.ExceptionDetails
	if errors.As(err, &exc) {
		return "", &SyntaxError{Err: err}
	}
	if err != nil {
		return "", fmt.Errorf("mermaid render: %w", err)
	}
	if svg == "" {
		return "", fmt.Errorf("mermaid render: empty output")
	}
	return svg, nil
}

// Close shuts the browser down and removes the host page.
func (s *ChromeService) Close() error {
	s.cancelBrowser()
	s.cancelAlloc()
	return os.Remove(s.hostFile)
}
