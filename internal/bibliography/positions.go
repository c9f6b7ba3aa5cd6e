package bibliography

import (
	"sort"
	"unicode/utf8"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// lineIndex maps byte offsets of a source to LSP positions.
type lineIndex struct {
	src    []byte
	starts []int
}

func newLineIndex(src []byte) *lineIndex {
	starts := []int{0}
	for i, b := range src {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &lineIndex{src: src, starts: starts}
}

// position converts a byte offset to a line and UTF-16 character.
func (li *lineIndex) position(offset int) protocol.Position {
	if offset > len(li.src) {
		offset = len(li.src)
	}
	line := sort.Search(len(li.starts), func(i int) bool { return li.starts[i] > offset }) - 1
	if line < 0 {
		line = 0
	}
	var character uint32
	for i := li.starts[line]; i < offset; {
		r, size := utf8.DecodeRune(li.src[i:])
		if r > 0xFFFF {
			character += 2
		} else {
			character++
		}
		i += size
	}
	return protocol.Position{Line: uint32(line), Character: character}
}

// offset converts a zero based line and rune column back to a byte offset.
func (li *lineIndex) offset(line, column int) int {
	if line < 0 {
		return 0
	}
	if line >= len(li.starts) {
		return len(li.src)
	}
	off := li.starts[line]
	for ; column > 0 && off < len(li.src) && li.src[off] != '\n'; column-- {
		_, size := utf8.DecodeRune(li.src[off:])
		off += size
	}
	return off
}

func (li *lineIndex) rangeOf(start, end int) protocol.Range {
	return protocol.Range{Start: li.position(start), End: li.position(end)}
}
