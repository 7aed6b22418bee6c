package capture

import (
	"bytes"
	"testing"
)

func TestReconstruct_OrderIndependent(t *testing.T) {
	segs := []struct {
		start, end int64
		data       string
	}{
		{0, 2, "abc"},
		{3, 5, "def"},
		{6, 8, "ghi"},
		{9, 9, "j"},
	}
	orders := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{2, 0, 3, 1},
		{1, 3, 0, 2},
	}
	for _, order := range orders {
		s := NewSession("T1")
		for _, i := range order {
			sg := segs[i]
			s.add(KindVideo, "https://cdn/v.mp4", []byte(sg.data), sg.start, sg.end, true)
		}
		got := Reconstruct(s)[KindVideo]
		if string(got) != "abcdefghij" {
			t.Errorf("order %v: got %q", order, got)
		}
	}
}

func TestReconstruct_GroupByGroup(t *testing.T) {
	s := NewSession("T1")
	s.add(KindVideo, "https://cdn/first.mp4", []byte("B"), 10, 10, true)
	s.add(KindVideo, "https://cdn/second.mp4", []byte("X"), 0, 0, true)
	s.add(KindVideo, "https://cdn/first.mp4", []byte("A"), 0, 0, true)

	if got := Reconstruct(s)[KindVideo]; string(got) != "ABX" {
		t.Fatalf("got %q, want ABX", got)
	}
}

func TestReconstruct_OmitsEmptyKinds(t *testing.T) {
	s := NewSession("T1")
	s.add(KindAudio, "a", []byte("aa"), 0, 1, true)

	streams := Reconstruct(s)
	if _, ok := streams[KindVideo]; ok {
		t.Fatal("video present without segments")
	}
	if !bytes.Equal(streams[KindAudio], []byte("aa")) {
		t.Fatalf("audio = %q", streams[KindAudio])
	}
}

func TestSession_RangeLessKeepsArrivalOrder(t *testing.T) {
	s := NewSession("T1")
	s.add(KindAudio, "a", []byte("one"), 0, -1, false)
	s.add(KindAudio, "a", []byte("two"), 0, -1, false)
	s.add(KindAudio, "a", []byte("three"), 0, -1, false)

	if got := Reconstruct(s)[KindAudio]; string(got) != "onetwothree" {
		t.Fatalf("got %q", got)
	}
	if n := s.Stats().Segments[KindAudio]; n != 3 {
		t.Fatalf("segments = %d", n)
	}
}

func TestSession_CloseRunsHooksOnce(t *testing.T) {
	s := NewSession("T1")
	calls := 0
	s.OnClose(func() { calls++ })
	s.Close()
	s.Close()
	if calls != 1 {
		t.Fatalf("hook ran %d times", calls)
	}

	late := false
	s.OnClose(func() { late = true })
	if !late {
		t.Fatal("hook registered after close did not run")
	}
	if s.add(KindVideo, "v", []byte("x"), 0, 0, true) {
		t.Fatal("add succeeded on closed session")
	}
}
