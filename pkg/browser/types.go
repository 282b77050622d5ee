package browser

import (
	"time"

	"github.com/playwright-community/playwright-go"
)

// Session wraps the single live automation session: one browser, one
// context, one page. The engine owns exactly one Session at a time.
type Session struct {
	// ID uniquely identifies this session incarnation. A restart yields a
	// new ID, which lets callers detect stale handles.
	ID string

	// Browser is the Playwright browser instance.
	Browser playwright.Browser

	// Context is the isolated browser context.
	Context playwright.BrowserContext

	// Page is the single page all automation runs against.
	Page playwright.Page

	// Headless indicates if the browser runs without a visible window.
	Headless bool

	// CreatedAt is when this session incarnation started.
	CreatedAt time.Time

	// LastUsedAt is the timestamp of the last operation on this session.
	LastUsedAt time.Time
}

// SessionOptions configures a new automation session.
type SessionOptions struct {
	// Headless controls whether the browser runs without a visible window.
	Headless bool

	// Viewport sets the initial viewport size.
	Viewport *Viewport

	// Timeout is the default per-operation timeout in milliseconds.
	Timeout float64
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// WaitState names the element states WaitFor can block on.
type WaitState string

const (
	WaitAttached WaitState = "attached"
	WaitDetached WaitState = "detached"
	WaitVisible  WaitState = "visible"
	WaitHidden   WaitState = "hidden"
)

// Default values for session operations.
const (
	DefaultTimeout        = 15000.0 // milliseconds
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 900
)
