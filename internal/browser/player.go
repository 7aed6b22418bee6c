package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-rod/rod"
)

const (
	jsPrepare = `(rate) => {
		const v = document.querySelector('video');
		if (!v) return false;
		v.muted = true;
		v.volume = 0;
		v.playbackRate = rate;
		const p = v.play();
		if (p && p.catch) p.catch(() => {});
		return true;
	}`
	jsDuration = `() => {
		const v = document.querySelector('video');
		return v && isFinite(v.duration) ? v.duration : 0;
	}`
	jsSeek = `(t) => {
		const v = document.querySelector('video');
		if (!v) return false;
		v.currentTime = t;
		return true;
	}`
)

// errNoVideo is returned when the page has no video element yet.
var errNoVideo = errors.New("browser: no video element")

type videoPlayer struct {
	page *rod.Page
}

func (p *videoPlayer) Prepare(ctx context.Context, rate float64) error {
	res, err := p.page.Context(ctx).Eval(jsPrepare, rate)
	if err != nil {
		return fmt.Errorf("browser: prepare player: %w", err)
	}
	if !res.Value.Bool() {
		return errNoVideo
	}
	return nil
}

func (p *videoPlayer) Duration(ctx context.Context) (float64, error) {
	res, err := p.page.Context(ctx).Eval(jsDuration)
	if err != nil {
		return 0, fmt.Errorf("browser: duration: %w", err)
	}
	return res.Value.Num(), nil
}

func (p *videoPlayer) SeekTo(ctx context.Context, seconds float64) error {
	res, err := p.page.Context(ctx).Eval(jsSeek, seconds)
	if err != nil {
		return fmt.Errorf("browser: seek: %w", err)
	}
	if !res.Value.Bool() {
		return errNoVideo
	}
	return nil
}
