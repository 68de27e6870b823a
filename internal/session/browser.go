// internal/session/browser.go
package session

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/config"
)

// Browser is the minimal surface a session needs from a live browser tab.
// The chromedp implementation below is the production one; tests substitute
// in-memory fakes so lifecycle logic is exercised without a Chrome binary.
type Browser interface {
	// Navigate loads the URL and waits for the page to settle.
	Navigate(ctx context.Context, url string) error
	// Evaluate runs a script in the page and unmarshals its result into out.
	// A nil out discards the result.
	Evaluate(ctx context.Context, script string, out any) error
	// Cookies returns all cookies visible to the current browser context.
	Cookies(ctx context.Context) ([]schemas.Cookie, error)
	// SetCookies installs cookies into the browser context before navigation.
	SetCookies(ctx context.Context, cookies []schemas.Cookie) error
	// Location returns the current page URL and title.
	Location(ctx context.Context) (url string, title string, err error)
	// Close terminates the tab and its dedicated browser process.
	Close(ctx context.Context) error
}

// Launcher starts a browser bound to a profile directory. Each profile gets
// its own browser process so on-disk profile data never crosses identities.
type Launcher interface {
	Launch(ctx context.Context, profileDir string) (Browser, error)
}

// -- chromedp implementation --

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// ChromeLauncher launches headless Chrome processes via chromedp, one
// allocator per profile directory.
type ChromeLauncher struct {
	cfg *config.BrowserConfig
	log *zap.Logger
}

// NewChromeLauncher creates the production launcher.
func NewChromeLauncher(cfg *config.BrowserConfig, logger *zap.Logger) *ChromeLauncher {
	return &ChromeLauncher{cfg: cfg, log: logger.Named("launcher")}
}

// Launch starts a browser process rooted at profileDir and verifies it is
// responsive before handing it out.
func (l *ChromeLauncher) Launch(ctx context.Context, profileDir string) (Browser, error) {
	opts := l.buildAllocatorOptions(profileDir)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// Confirm the process came up before the launch timeout.
	checkCtx, checkCancel := context.WithTimeout(tabCtx, l.cfg.LaunchTimeout)
	defer checkCancel()
	if err := chromedp.Run(checkCtx, chromedp.Navigate("about:blank")); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	l.log.Debug("Browser process launched.", zap.String("profile_dir", profileDir))
	return &chromeBrowser{
		ctx:         tabCtx,
		cancelTab:   tabCancel,
		cancelAlloc: allocCancel,
		navTimeout:  l.cfg.NavigationTimeout,
	}, nil
}

// buildAllocatorOptions assembles launch flags. Later flags override earlier
// ones of the same name, so the stock enable-automation default is switched
// off here rather than filtered out.
func (l *ChromeLauncher) buildAllocatorOptions(profileDir string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("enable-automation", false),
		chromedp.UserDataDir(profileDir),
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", l.cfg.Headless),
		chromedp.UserAgent(defaultUserAgent),
	)

	// Pass through extra arguments from the config file.
	for _, arg := range l.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}

	return opts
}

type chromeBrowser struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	navTimeout  time.Duration
}

// run executes actions under both the tab's lifetime and the caller's context.
func (b *chromeBrowser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(b.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (b *chromeBrowser) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, b.navTimeout)
	defer cancel()
	if err := b.run(navCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (b *chromeBrowser) Evaluate(ctx context.Context, script string, out any) error {
	if out == nil {
		var discard any
		out = &discard
	}
	return b.run(ctx, chromedp.Evaluate(script, out))
}

func (b *chromeBrowser) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	var cookies []schemas.Cookie
	err := b.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		raw, err := network.GetCookies().Do(c)
		if err != nil {
			return err
		}
		cookies = make([]schemas.Cookie, 0, len(raw))
		for _, ck := range raw {
			cookies = append(cookies, schemas.Cookie{
				Name:    ck.Name,
				Value:   ck.Value,
				Domain:  ck.Domain,
				Path:    ck.Path,
				Expires: ck.Expires,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return cookies, nil
}

func (b *chromeBrowser) SetCookies(ctx context.Context, cookies []schemas.Cookie) error {
	return b.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		for _, ck := range cookies {
			param := network.SetCookie(ck.Name, ck.Value).
				WithDomain(ck.Domain).
				WithPath(ck.Path)
			if ck.Expires > 0 {
				expires := cdpTimeSinceEpoch(ck.Expires)
				param = param.WithExpires(&expires)
			}
			if err := param.Do(c); err != nil {
				return fmt.Errorf("failed to set cookie %q: %w", ck.Name, err)
			}
		}
		return nil
	}))
}

func (b *chromeBrowser) Location(ctx context.Context) (string, string, error) {
	var url, title string
	if err := b.run(ctx, chromedp.Location(&url), chromedp.Title(&title)); err != nil {
		return "", "", fmt.Errorf("failed to read page location: %w", err)
	}
	return url, title, nil
}

func (b *chromeBrowser) Close(ctx context.Context) error {
	b.cancelTab()
	b.cancelAlloc()
	select {
	case <-b.ctx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func cdpTimeSinceEpoch(unixSeconds float64) cdp.TimeSinceEpoch {
	sec := int64(unixSeconds)
	nsec := int64((unixSeconds - float64(sec)) * float64(time.Second))
	return cdp.TimeSinceEpoch(time.Unix(sec, nsec))
}

// combineContext derives a context cancelled when either parent is done.
// chromedp actions must stop on session close and on caller cancellation alike.
func combineContext(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
