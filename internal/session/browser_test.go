package session

import (
	"context"
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scout-cli/internal/config"
)

func TestBuildAllocatorOptionsApplyCleanly(t *testing.T) {
	cfg := config.NewDefaultConfig()
	launcher := NewChromeLauncher(&cfg.Browser, zaptest.NewLogger(t))

	opts := launcher.buildAllocatorOptions(t.TempDir())
	require.Greater(t, len(opts), len(chromedp.DefaultExecAllocatorOptions))

	// The options are opaque funcs; feeding them through the allocator
	// constructor verifies they are well formed without launching a browser.
	_, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	cancel()
}

func TestBuildAllocatorOptionsPassThroughExtraArgs(t *testing.T) {
	cfg := config.NewDefaultConfig()
	base := NewChromeLauncher(&cfg.Browser, zaptest.NewLogger(t))
	baseline := len(base.buildAllocatorOptions(t.TempDir()))

	withArgs := config.NewDefaultConfig()
	withArgs.Browser.Args = []string{"--lang=en-US", "proxy-bypass-list=<local>"}
	launcher := NewChromeLauncher(&withArgs.Browser, zaptest.NewLogger(t))

	opts := launcher.buildAllocatorOptions(t.TempDir())
	assert.Len(t, opts, baseline+2)

	_, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	cancel()
}
