package divar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"carwatch/utils"
)

// BrowserTransport runs requests through fetch() inside a headless Chrome tab
// parked on the marketplace's web origin, so the calls carry a real browser
// fingerprint, cookies and TLS stack. Requests are serialised over one tab.
type BrowserTransport struct {
	logger  *utils.Logger
	timeout time.Duration

	mu          sync.Mutex
	ctx         context.Context
	cancelAlloc context.CancelFunc
	cancelTab   context.CancelFunc
	ready       bool
}

// browserResult is what the injected script resolves to.
type browserResult struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
	Error  string `json:"error"`
}

// NewBrowserTransport starts a headless browser. chromeBin may be empty, in
// which case common install locations are searched.
func NewBrowserTransport(chromeBin string, timeout time.Duration, logger *utils.Logger) (*BrowserTransport, error) {
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	logger.Info("[divar] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent(randomIdentity().userAgent),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	// Suppress chromedp log noise
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	return &BrowserTransport{
		logger:      logger,
		timeout:     timeout,
		ctx:         tabCtx,
		cancelAlloc: cancelAlloc,
		cancelTab:   cancelTab,
	}, nil
}

// warmUp navigates the tab to the web origin once so fetch() runs same-site.
func (b *BrowserTransport) warmUp() error {
	if b.ready {
		return nil
	}
	ctx, cancel := context.WithTimeout(b.ctx, 60*time.Second)
	defer cancel()
	if err := chromedp.Run(ctx, chromedp.Navigate(webOrigin+"/"), chromedp.Sleep(2*time.Second)); err != nil {
		return fmt.Errorf("browser warm-up: %w", err)
	}
	b.ready = true
	return nil
}

const fetchScript = `
(async function() {
	try {
		var init = %s;
		var resp = await fetch(%q, init);
		var text = await resp.text();
		return {status: resp.status, body: text};
	} catch (e) {
		return {status: 0, body: "", error: String(e)};
	}
})()`

func (b *BrowserTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.warmUp(); err != nil {
		return nil, err
	}

	// The browser owns User-Agent, Origin, Referer and sec-* headers.
	headers := map[string]string{}
	for _, k := range []string{"Accept", "Content-Type", "Authorization"} {
		if v := req.Header.Get(k); v != "" {
			headers[k] = v
		}
	}
	init := map[string]any{
		"method":      req.Method,
		"headers":     headers,
		"credentials": "include",
	}
	if req.Body != nil {
		init["body"] = string(req.Body)
	}
	initJSON, err := json.Marshal(init)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var res browserResult
	err = chromedp.Run(runCtx,
		chromedp.Evaluate(fmt.Sprintf(fetchScript, initJSON, req.URL), &res,
			func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
				return p.WithAwaitPromise(true)
			}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("browser fetch: %w", err)
	}
	if res.Error != "" {
		return nil, fmt.Errorf("browser fetch: %s", res.Error)
	}
	body := []byte(res.Body)
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	return &Response{StatusCode: res.Status, Body: body}, nil
}

func (b *BrowserTransport) Close() error {
	b.cancelTab()
	b.cancelAlloc()
	return nil
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

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
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
