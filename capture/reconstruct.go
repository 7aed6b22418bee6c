package capture

import (
	"bytes"
	"sort"
)

// Reconstruct concatenates the segments of each kind into one stream.
// Within a baseURL group chunks are ordered by ByteStart; groups of the
// same kind are appended group-by-group in first-seen order. Gaps are not
// detected or repaired. Kinds without segments are absent from the map.
func Reconstruct(s *Session) map[Kind][]byte {
	out := make(map[Kind][]byte, len(Kinds))
	for _, k := range Kinds {
		if data := Concat(s.Groups(k)); len(data) > 0 {
			out[k] = data
		}
	}
	return out
}

// Concat orders and joins the chunks of groups. Groups are not interleaved:
// a session is expected to yield one primary stream per kind.
func Concat(groups []Group) []byte {
	var size int
	for _, g := range groups {
		for _, c := range g.Chunks {
			size += len(c.Data)
		}
	}
	var buf bytes.Buffer
	buf.Grow(size)
	for _, g := range groups {
		chunks := make([]Chunk, len(g.Chunks))
		copy(chunks, g.Chunks)
		sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].ByteStart < chunks[j].ByteStart })
		for _, c := range chunks {
			buf.Write(c.Data)
		}
	}
	return buf.Bytes()
}
