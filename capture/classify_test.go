package capture

import "testing"

func TestDefaultClassifier(t *testing.T) {
	cl := NewClassifier(ClassifierConfig{})

	tests := []struct {
		name   string
		resp   Response
		want   Kind
		wantOK bool
	}{
		{"audio content type", Response{URL: "https://cdn.example/v/a.mp4", ContentType: "audio/mp4", Size: 10}, KindAudio, true},
		{"video content type", Response{URL: "https://cdn.example/v/b.mp4", ContentType: "video/mp4", Size: 10}, KindVideo, true},
		{"audio marker beats video type", Response{URL: "https://cdn.example/x.mp4?mime=audio", ContentType: "video/mp4"}, KindAudio, true},
		{"video url marker", Response{URL: "https://cdn.example/seg.m4v?bytestart=0", ContentType: "application/octet-stream"}, KindVideo, true},
		{"size fallback", Response{URL: "https://cdn.example/o1/blob", ContentType: "application/octet-stream", Size: 200 << 10}, KindVideo, true},
		{"small unknown ignored", Response{URL: "https://cdn.example/o1/blob", ContentType: "application/octet-stream", Size: 512}, "", false},
		{"large json never media", Response{URL: "https://api.example/graphql", ContentType: "application/json", Size: 1 << 20}, "", false},
		{"large image never media", Response{URL: "https://cdn.example/poster", ContentType: "image/jpeg", Size: 1 << 20}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := cl.Classify(tt.resp)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Classify = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestChain_Swappable(t *testing.T) {
	onlyAudio := Chain{ClassifierFunc(func(r Response) (Kind, bool) {
		return KindAudio, r.URL == "a"
	})}
	if k, ok := onlyAudio.Classify(Response{URL: "a"}); !ok || k != KindAudio {
		t.Fatalf("custom classifier: got (%q, %v)", k, ok)
	}
	if _, ok := onlyAudio.Classify(Response{URL: "b"}); ok {
		t.Fatal("custom classifier matched b")
	}
}
