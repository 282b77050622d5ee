// Package browser owns the Playwright lifecycle and the single automation
// session the engine drives. Unlike a general-purpose session pool, exactly
// one session exists at a time: the remote case list tolerates no concurrent
// navigation, so the manager enforces exclusivity and offers Restart as the
// recovery path when in-session retries are exhausted.
package browser

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
)

// Manager controls the Playwright instance and the single active session.
type Manager struct {
	mu          sync.Mutex
	playwright  *playwright.Playwright
	session     *Session
	opts        SessionOptions
	initialized bool
}

// NewManager creates a session manager. Initialize must be called before
// Start.
func NewManager() *Manager {
	return &Manager{}
}

// Initialize installs (if needed) and starts Playwright. Driver output is
// discarded so it cannot interleave with operator-facing output.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	m.playwright = pw
	m.initialized = true
	return nil
}

// Start launches the automation session. Only one session may exist; a
// second Start without Close fails.
func (m *Manager) Start(opts SessionOptions) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(opts)
}

func (m *Manager) startLocked(opts SessionOptions) (*Session, error) {
	if !m.initialized {
		return nil, fmt.Errorf("browser manager not initialized")
	}
	if m.session != nil {
		return nil, fmt.Errorf("a session is already active; close or restart it first")
	}

	if opts.Viewport == nil {
		opts.Viewport = &Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	browser, err := m.playwright.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	context, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  opts.Viewport.Width,
			Height: opts.Viewport.Height,
		},
	})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := context.NewPage()
	if err != nil {
		context.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(opts.Timeout)

	now := time.Now()
	m.opts = opts
	m.session = &Session{
		ID:         uuid.New().String(),
		Browser:    browser,
		Context:    context,
		Page:       page,
		Headless:   opts.Headless,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	return m.session, nil
}

// Current returns the active session, or an error if none exists.
func (m *Manager) Current() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, fmt.Errorf("no active session")
	}
	return m.session, nil
}

// Close tears down the active session. Closing when no session exists is
// not an error; restart paths call it defensively.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
	return nil
}

func (m *Manager) closeLocked() {
	if m.session == nil {
		return
	}
	// Best effort: a dead browser makes these fail and that is fine.
	_ = m.session.Page.Close()
	_ = m.session.Context.Close()
	_ = m.session.Browser.Close()
	m.session = nil
}

// Restart tears down the current session (if any) and starts a fresh one
// with the same options. Used by the top retry tier after in-session
// recovery is exhausted.
func (m *Manager) Restart() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	opts := m.opts
	m.closeLocked()
	session, err := m.startLocked(opts)
	if err != nil {
		return nil, fmt.Errorf("session restart failed: %w", err)
	}
	return session, nil
}

// HasSession returns true if a session is currently active.
func (m *Manager) HasSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Shutdown closes the session and stops Playwright.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeLocked()
	if m.initialized && m.playwright != nil {
		if err := m.playwright.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
		m.initialized = false
	}
	return nil
}
