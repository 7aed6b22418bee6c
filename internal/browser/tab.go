package browser

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/reelscan/capture"
)

// Opener opens capture pages on the managed browser. It implements
// capture.Opener.
type Opener struct {
	mgr *Manager
}

// NewOpener returns an Opener backed by mgr.
func NewOpener(mgr *Manager) *Opener {
	return &Opener{mgr: mgr}
}

// Tab wraps a Rod page with capture-specific setup: stealth, resource
// blocking and network response forwarding.
type Tab struct {
	Page    *rod.Page
	PageURL string

	router *rod.HijackRouter
	cancel context.CancelFunc
	done   chan struct{}
}

// Open creates a tab, subscribes to network events, then navigates to
// pageURL. Every response whose body finished loading is passed to
// onResponse on its own goroutine; the body is fetched lazily.
func (o *Opener) Open(ctx context.Context, pageURL string, onResponse func(capture.Response)) (capture.Page, error) {
	cfg := o.mgr.cfg
	b, err := o.mgr.Browser(ctx)
	if err != nil {
		return nil, err
	}

	var page *rod.Page
	if cfg.Stealth != LevelPlain {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	t := &Tab{Page: page, PageURL: pageURL, done: make(chan struct{})}

	if len(cfg.ResourceBlocking) > 0 {
		if t.router, err = applyResourceBlocking(page, cfg.ResourceBlocking); err != nil {
			cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
	}

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: network enable: %w", err)
	}

	evCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	tr := newTracker()
	wait := page.Context(evCtx).EachEvent(
		func(e *proto.NetworkResponseReceived) {
			if e.Response == nil {
				return
			}
			tr.received(string(e.RequestID), e.Response.URL, e.Response.MIMEType)
		},
		func(e *proto.NetworkLoadingFinished) {
			p, ok := tr.finished(string(e.RequestID))
			if !ok {
				return
			}
			r := capture.Response{
				URL:         p.url,
				ContentType: p.mime,
				Size:        int64(e.EncodedDataLength),
				Body:        bodyReader(page, e.RequestID),
			}
			go onResponse(r)
		},
		func(e *proto.NetworkLoadingFailed) {
			tr.failed(string(e.RequestID))
		},
	)
	go func() {
		defer close(t.done)
		wait()
	}()

	navCtx, navCancel := context.WithTimeout(ctx, cfg.NavigateTimeout)
	defer navCancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	return t, nil
}

// bodyReader fetches a response body through CDP. It fails once the page
// is closed, which the interceptor treats as a skipped segment.
func bodyReader(page *rod.Page, id proto.NetworkRequestID) capture.BodyFunc {
	return func(ctx context.Context) ([]byte, error) {
		res, err := proto.NetworkGetResponseBody{RequestID: id}.Call(page.Context(ctx))
		if err != nil {
			return nil, fmt.Errorf("browser: response body: %w", err)
		}
		if res.Base64Encoded {
			return base64.StdEncoding.DecodeString(res.Body)
		}
		return []byte(res.Body), nil
	}
}

// Player returns the controller of the page's video element.
func (t *Tab) Player() capture.Player {
	return &videoPlayer{page: t.Page}
}

// Close stops event forwarding and closes the tab.
func (t *Tab) Close() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.router != nil {
		_ = t.router.Stop()
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
