package capture

import (
	"strings"
)

// Response is one network response observed while the managed page plays
// the target media. Body is read lazily because most responses are
// discarded before their payload is needed.
type Response struct {
	URL         string
	ContentType string
	Size        int64
	Body        BodyFunc
}

// Classifier decides which media kind a response carries. ok=false means
// the response is not a media segment.
type Classifier interface {
	Classify(r Response) (kind Kind, ok bool)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(r Response) (Kind, bool)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(r Response) (Kind, bool) { return f(r) }

// Chain evaluates classifiers in order; the first match wins.
type Chain []Classifier

// Classify implements Classifier.
func (c Chain) Classify(r Response) (Kind, bool) {
	for _, cl := range c {
		if k, ok := cl.Classify(r); ok {
			return k, true
		}
	}
	return "", false
}

// Markers matches a kind by content-type prefix or URL substring.
type Markers struct {
	Kind         Kind
	ContentTypes []string
	URLMarkers   []string
}

// Classify implements Classifier.
func (m Markers) Classify(r Response) (Kind, bool) {
	ct := strings.ToLower(r.ContentType)
	for _, p := range m.ContentTypes {
		if strings.HasPrefix(ct, p) {
			return m.Kind, true
		}
	}
	u := strings.ToLower(r.URL)
	for _, p := range m.URLMarkers {
		if strings.Contains(u, p) {
			return m.Kind, true
		}
	}
	return "", false
}

// SizeFallback classifies payloads of at least MinBytes as video when no
// marker matched. Content types that are clearly not media never match.
type SizeFallback struct {
	MinBytes int64
	Exclude  []string
}

// Classify implements Classifier.
func (f SizeFallback) Classify(r Response) (Kind, bool) {
	if r.Size < f.MinBytes {
		return "", false
	}
	ct := strings.ToLower(r.ContentType)
	for _, p := range f.Exclude {
		if strings.HasPrefix(ct, p) {
			return "", false
		}
	}
	return KindVideo, true
}

// ClassifierConfig holds the marker lists and size threshold of the
// default classifier.
type ClassifierConfig struct {
	AudioContentTypes []string `yaml:"audio_content_types"`
	AudioURLMarkers   []string `yaml:"audio_url_markers"`
	VideoContentTypes []string `yaml:"video_content_types"`
	VideoURLMarkers   []string `yaml:"video_url_markers"`
	SizeFallbackBytes int64    `yaml:"size_fallback_bytes"`
	NeverMedia        []string `yaml:"never_media"`
}

func (c *ClassifierConfig) defaults() {
	if len(c.AudioContentTypes) == 0 {
		c.AudioContentTypes = []string{"audio/"}
	}
	if len(c.AudioURLMarkers) == 0 {
		c.AudioURLMarkers = []string{"mime=audio", "/audio/", "audio_only", "_audio", ".m4a", ".aac"}
	}
	if len(c.VideoContentTypes) == 0 {
		c.VideoContentTypes = []string{"video/"}
	}
	if len(c.VideoURLMarkers) == 0 {
		c.VideoURLMarkers = []string{"mime=video", "/video/", "_video", ".m4v"}
	}
	if c.SizeFallbackBytes <= 0 {
		c.SizeFallbackBytes = 100 << 10
	}
	if len(c.NeverMedia) == 0 {
		c.NeverMedia = []string{"text/", "image/", "font/", "application/json", "application/javascript", "application/x-javascript"}
	}
}

// NewClassifier builds the default chain: audio markers, video markers,
// then the size fallback.
func NewClassifier(cfg ClassifierConfig) Classifier {
	cfg.defaults()
	return Chain{
		Markers{Kind: KindAudio, ContentTypes: cfg.AudioContentTypes, URLMarkers: cfg.AudioURLMarkers},
		Markers{Kind: KindVideo, ContentTypes: cfg.VideoContentTypes, URLMarkers: cfg.VideoURLMarkers},
		SizeFallback{MinBytes: cfg.SizeFallbackBytes, Exclude: cfg.NeverMedia},
	}
}
