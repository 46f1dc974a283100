// Package livedoc adapts a live Chrome page to the staging document
// operations. Selector resolution, fingerprints, and style reads run
// against the real DOM over CDP, so captures see exactly what the user
// sees, ephemeral devtools edits included.
package livedoc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"golang.org/x/net/html"

	"github.com/hazyhaar/domstage/identity"
	"github.com/hazyhaar/domstage/selector"
)

// Config configures the browser connection.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Headless controls the local launch mode. Ignored for remote.
	Headless bool

	// Stealth applies anti-detection page setup.
	Stealth bool

	// NavigateTimeout bounds navigation plus load. Default: 30s.
	NavigateTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Doc is a live document backed by one Chrome page.
type Doc struct {
	page   *rod.Page
	url    string
	logger *slog.Logger

	// owned browser resources, nil when attached to a remote instance
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// Open connects to Chrome, opens a page, and navigates it to pageURL.
func Open(ctx context.Context, cfg Config, pageURL string) (*Doc, error) {
	cfg.defaults()

	var (
		wsURL string
		lnch  *launcher.Launcher
	)
	if cfg.RemoteURL != "" {
		wsURL = cfg.RemoteURL
		cfg.Logger.Info("livedoc: connecting to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("livedoc: launch: %w", err)
		}
		wsURL = u
		lnch = l
		cfg.Logger.Info("livedoc: launched local chrome", "headless", cfg.Headless)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if lnch != nil {
			lnch.Cleanup()
		}
		return nil, fmt.Errorf("livedoc: connect: %w", err)
	}

	var (
		page *rod.Page
		err  error
	)
	if cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		b.Close()
		if lnch != nil {
			lnch.Cleanup()
		}
		return nil, fmt.Errorf("livedoc: create page: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, cfg.NavigateTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		b.Close()
		if lnch != nil {
			lnch.Cleanup()
		}
		return nil, fmt.Errorf("livedoc: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		cfg.Logger.Warn("livedoc: wait load timeout", "url", pageURL, "error", err)
	}

	return &Doc{
		page:    page,
		url:     pageURL,
		logger:  cfg.Logger,
		browser: b,
		lnch:    lnch,
	}, nil
}

// Attach wraps an already-open Rod page. The caller keeps ownership of
// the browser; Close only closes the page.
func Attach(page *rod.Page, pageURL string, logger *slog.Logger) *Doc {
	if logger == nil {
		logger = slog.Default()
	}
	return &Doc{page: page, url: pageURL, logger: logger}
}

// Close releases the page and, when this Doc launched the browser, the
// browser itself.
func (d *Doc) Close() error {
	var first error
	if d.page != nil {
		if err := d.page.Close(); err != nil {
			first = err
		}
	}
	if d.browser != nil {
		if err := d.browser.Close(); err != nil && first == nil {
			first = err
		}
	}
	if d.lnch != nil {
		d.lnch.Cleanup()
	}
	return first
}

// URL returns the address the page was navigated to.
func (d *Doc) URL() string { return d.url }

// Resolve reports how a selector matches against the live DOM. A selector
// the browser rejects resolves as invalid, not as an error.
func (d *Doc) Resolve(ctx context.Context, ref string) (selector.Status, int, error) {
	res, err := d.page.Context(ctx).Eval(`(sel) => {
		try { return document.querySelectorAll(sel).length; }
		catch (e) { return -1; }
	}`, ref)
	if err != nil {
		return selector.StatusNotFound, 0, fmt.Errorf("livedoc: resolve: %w", err)
	}
	switch n := res.Value.Int(); {
	case n < 0:
		return selector.StatusInvalid, 0, nil
	case n == 0:
		return selector.StatusNotFound, 0, nil
	case n == 1:
		return selector.StatusUnique, 1, nil
	default:
		return selector.StatusAmbiguous, n, nil
	}
}

// Fingerprint computes the identity fingerprint of the element the
// selector uniquely resolves to. ok is false when resolution is not
// unique.
func (d *Doc) Fingerprint(ctx context.Context, ref string) (identity.Fingerprint, bool, error) {
	res, err := d.page.Context(ctx).Eval(`(sel) => {
		let els;
		try { els = document.querySelectorAll(sel); }
		catch (e) { return null; }
		if (els.length !== 1) return null;
		const el = els[0];
		let text = '';
		for (const c of el.childNodes) {
			if (c.nodeType === Node.TEXT_NODE) text += c.textContent;
		}
		return {
			tag: el.tagName.toLowerCase(),
			text: text,
			classes: el.getAttribute('class') || '',
			parent: el.parentElement ? el.parentElement.tagName.toLowerCase() : '',
		};
	}`, ref)
	if err != nil {
		return identity.Fingerprint{}, false, fmt.Errorf("livedoc: fingerprint: %w", err)
	}
	if res.Value.Nil() {
		return identity.Fingerprint{}, false, nil
	}
	fp := identity.Make(
		res.Value.Get("tag").Str(),
		res.Value.Get("text").Str(),
		strings.Fields(res.Value.Get("classes").Str()),
		res.Value.Get("parent").Str(),
	)
	return fp, true, nil
}

// ReadStyle returns the current value of a CSS property on the element
// the selector uniquely resolves to. Inline declarations win; absent
// those, the computed style is reported.
func (d *Doc) ReadStyle(ctx context.Context, ref, property string) (string, error) {
	res, err := d.page.Context(ctx).Eval(`(sel, prop) => {
		let els;
		try { els = document.querySelectorAll(sel); }
		catch (e) { return null; }
		if (els.length !== 1) return null;
		const el = els[0];
		const inline = el.style.getPropertyValue(prop);
		if (inline) return inline;
		return getComputedStyle(el).getPropertyValue(prop);
	}`, ref, property)
	if err != nil {
		return "", fmt.Errorf("livedoc: read style: %w", err)
	}
	if res.Value.Nil() {
		return "", fmt.Errorf("livedoc: read style: selector %q is not unique", ref)
	}
	return strings.TrimSpace(res.Value.Str()), nil
}

// OuterHTML serializes the element the selector uniquely resolves to.
func (d *Doc) OuterHTML(ctx context.Context, ref string) (string, error) {
	res, err := d.page.Context(ctx).Eval(`(sel) => {
		let els;
		try { els = document.querySelectorAll(sel); }
		catch (e) { return null; }
		if (els.length !== 1) return null;
		return els[0].outerHTML;
	}`, ref)
	if err != nil {
		return "", fmt.Errorf("livedoc: outer html: %w", err)
	}
	if res.Value.Nil() {
		return "", fmt.Errorf("livedoc: outer html: selector %q is not unique", ref)
	}
	return res.Value.Str(), nil
}

// Synthesize builds a stable selector for the element the given reference
// resolves to. The live DOM is snapshotted and the selector is derived
// from the parsed tree, so live and snapshot staging produce the same
// selectors for the same markup.
func (d *Doc) Synthesize(ctx context.Context, ref string) (string, error) {
	res, err := d.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("livedoc: snapshot dom: %w", err)
	}
	root, err := html.Parse(strings.NewReader(res.Value.Str()))
	if err != nil {
		return "", fmt.Errorf("livedoc: parse dom: %w", err)
	}
	r := selector.Resolve(root, ref)
	if r.Status != selector.StatusUnique {
		return "", fmt.Errorf("livedoc: synthesize: selector %q is not unique (%s)", ref, r.Status)
	}
	out, err := selector.Synthesize(root, r.Node)
	if err != nil {
		return "", fmt.Errorf("livedoc: synthesize: %w", err)
	}
	return out, nil
}

// SetStyle sets an inline style property on the uniquely-resolved
// element. Used to re-apply a parked patch on the live page.
func (d *Doc) SetStyle(ctx context.Context, ref, property, value string) error {
	return d.writeStyle(ctx, ref, property, &value)
}

// ClearStyle removes an inline style property from the uniquely-resolved
// element, letting the stylesheet value show through again.
func (d *Doc) ClearStyle(ctx context.Context, ref, property string) error {
	return d.writeStyle(ctx, ref, property, nil)
}

func (d *Doc) writeStyle(ctx context.Context, ref, property string, value *string) error {
	res, err := d.page.Context(ctx).Eval(`(sel, prop, val, set) => {
		let els;
		try { els = document.querySelectorAll(sel); }
		catch (e) { return false; }
		if (els.length !== 1) return false;
		if (set) { els[0].style.setProperty(prop, val); }
		else { els[0].style.removeProperty(prop); }
		return true;
	}`, ref, property, deref(value), value != nil)
	if err != nil {
		return fmt.Errorf("livedoc: write style: %w", err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("livedoc: write style: selector %q is not unique", ref)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
