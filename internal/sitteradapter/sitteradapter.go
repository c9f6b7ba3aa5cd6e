// Package sitteradapter converts LSP positions to byte offsets and
// tree-sitter points, and applies LSP content changes to document bytes.
package sitteradapter

import (
	"bytes"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	lsp "github.com/tliron/glsp/protocol_3_16"
)

// PositionToOffset computes the byte offset and tree-sitter point of an LSP
// position. Lines past the end clamp to the last line, characters past the
// end of a line clamp to the line end.
func PositionToOffset(document []byte, pos lsp.Position) (offset int, point sitter.Point) {
	var line uint32
	for line < pos.Line {
		i := bytes.IndexByte(document[offset:], '\n')
		if i < 0 {
			break
		}
		offset += i + 1
		line++
	}
	lineStart := offset

	var units uint32
	for offset < len(document) && document[offset] != '\n' {
		r, size := utf8.DecodeRune(document[offset:])
		n := uint32(1)
		if r > 0xFFFF {
			n = 2
		}
		if units+n > pos.Character {
			break
		}
		units += n
		offset += size
	}
	return offset, sitter.Point{Row: line, Column: uint32(offset - lineStart)}
}

// EditFor describes an LSP range change as a tree-sitter edit against the
// document before the change.
func EditFor(change lsp.TextDocumentContentChangeEvent, document []byte) sitter.EditInput {
	startByte, startPoint := PositionToOffset(document, change.Range.Start)
	oldEndByte, oldEndPoint := PositionToOffset(document, change.Range.End)

	newEndPoint := startPoint
	if i := lastNewline(change.Text); i >= 0 {
		newEndPoint.Row += uint32(countNewlines(change.Text))
		newEndPoint.Column = uint32(len(change.Text) - i - 1)
	} else {
		newEndPoint.Column += uint32(len(change.Text))
	}

	return sitter.EditInput{
		StartIndex:  uint32(startByte),
		OldEndIndex: uint32(oldEndByte),
		NewEndIndex: uint32(startByte + len(change.Text)),
		StartPoint:  startPoint,
		OldEndPoint: oldEndPoint,
		NewEndPoint: newEndPoint,
	}
}

// ApplyChange splices a range change into document and returns the new bytes.
func ApplyChange(change lsp.TextDocumentContentChangeEvent, document []byte) []byte {
	start, _ := PositionToOffset(document, change.Range.Start)
	end, _ := PositionToOffset(document, change.Range.End)
	if end < start {
		end = start
	}
	out := make([]byte, 0, len(document)-(end-start)+len(change.Text))
	out = append(out, document[:start]...)
	out = append(out, change.Text...)
	return append(out, document[end:]...)
}

func lastNewline(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}

func countNewlines(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			n++
		}
	}
	return n
}
