package pipeline

import (
	"fmt"
	"strings"
)

// Stages selects which steps a run executes. The zero value runs every
// stage.
type Stages struct {
	Download bool `json:"download"`
	Frames   bool `json:"frames"`
	OCR      bool `json:"ocr"`
}

// empty reports whether no stage was selected explicitly.
func (s Stages) empty() bool { return !s.Download && !s.Frames && !s.OCR }

// normalize fills the zero value and makes OCR imply Frames: frame and
// OCR directories are wiped at the start of every run, so OCR always
// reads frames sampled in the same run.
func (s Stages) normalize() Stages {
	if s.empty() {
		return Stages{Download: true, Frames: true, OCR: true}
	}
	if s.OCR {
		s.Frames = true
	}
	return s
}

func (s Stages) String() string {
	var parts []string
	if s.Download {
		parts = append(parts, "download")
	}
	if s.Frames {
		parts = append(parts, "frames")
	}
	if s.OCR {
		parts = append(parts, "ocr")
	}
	if len(parts) == 0 {
		return "all"
	}
	return strings.Join(parts, ",")
}

// ParseStages parses a comma-separated list ("download,frames,ocr") or
// "all". The empty string means all stages.
func ParseStages(s string) (Stages, error) {
	var st Stages
	for _, p := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "", "all":
		case "download", "capture":
			st.Download = true
		case "frames":
			st.Frames = true
		case "ocr":
			st.OCR = true
		default:
			return Stages{}, fmt.Errorf("pipeline: unknown stage %q", p)
		}
	}
	return st, nil
}
