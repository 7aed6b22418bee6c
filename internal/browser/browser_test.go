package browser

import (
	"testing"
	"time"
)

func TestShouldBlock(t *testing.T) {
	block := map[string]bool{"images": true, "fonts": true, "stylesheets": true, "media": true}
	tests := []struct {
		resType string
		want    bool
	}{
		{"Image", true},
		{"Font", true},
		{"Stylesheet", true},
		{"Media", false},
		{"XHR", false},
		{"Fetch", false},
		{"Document", false},
		{"Script", false},
		{"Other", false},
	}
	for _, tt := range tests {
		if got := shouldBlock(block, tt.resType); got != tt.want {
			t.Errorf("shouldBlock(%q) = %v, want %v", tt.resType, got, tt.want)
		}
	}
}

func TestTracker(t *testing.T) {
	tr := newTracker()
	tr.received("1", "https://cdn/v.mp4?bytestart=0", "video/mp4")
	tr.received("2", "https://cdn/a.mp4", "audio/mp4")
	tr.failed("2")

	p, ok := tr.finished("1")
	if !ok || p.url != "https://cdn/v.mp4?bytestart=0" || p.mime != "video/mp4" {
		t.Fatalf("finished(1) = %+v, %v", p, ok)
	}
	if _, ok := tr.finished("1"); ok {
		t.Fatal("finished(1) twice")
	}
	if _, ok := tr.finished("2"); ok {
		t.Fatal("failed request reported as finished")
	}
	if tr.len() != 0 {
		t.Fatalf("pending = %d", tr.len())
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.defaults()
	if c.Stealth != LevelHeadless || c.NavigateTimeout != 30*time.Second {
		t.Fatalf("defaults = %+v", c)
	}
	for _, r := range c.ResourceBlocking {
		if r == "media" {
			t.Fatal("media blocked by default")
		}
	}
}

func TestManagerClosed(t *testing.T) {
	m := NewManager(Config{Logger: nil})
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Browser(t.Context()); err == nil {
		t.Fatal("Browser on closed manager succeeded")
	}
}

func TestParseStealth(t *testing.T) {
	for in, want := range map[string]StealthLevel{"": LevelHeadless, "headless": LevelHeadless, "headful": LevelHeadful, "plain": LevelPlain} {
		got, err := ParseStealth(in)
		if err != nil || got != want {
			t.Errorf("ParseStealth(%q) = %v, %v", in, got, err)
		}
		if in != "" && got.String() != in {
			t.Errorf("String() = %q, want %q", got.String(), in)
		}
	}
	if _, err := ParseStealth("ghost"); err == nil {
		t.Error("unknown level accepted")
	}
}
