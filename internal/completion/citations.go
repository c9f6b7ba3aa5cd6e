package completion

import (
	"strings"
	"unicode/utf8"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// Citation is a complete trigger+key occurrence in a document.
type Citation struct {
	Key string
	// Range covers the key without its trigger.
	Range protocol.Range
	// Start and End are the byte offsets of the key.
	Start, End int
}

// WordAt returns the citation under pos. The cursor may sit on the
// trigger, inside the key or right after it.
func WordAt(text string, pos protocol.Position, trigger string) (Citation, bool) {
	if trigger == "" {
		trigger = DefaultTrigger
	}
	cursor := pos.IndexIn(text)
	if cursor < 0 || cursor > len(text) {
		return Citation{}, false
	}

	// the cursor may also sit inside a multi byte trigger
	for i := 0; i < len(trigger) && cursor-i >= 0; i++ {
		if strings.HasPrefix(text[cursor-i:], trigger) {
			cursor = cursor - i + len(trigger)
			break
		}
	}

	start := cursor
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !IsKeyRune(r) {
			break
		}
		start -= size
	}
	if !triggeredAt(text, start, trigger) {
		return Citation{}, false
	}
	end := keyEnd(text, start)
	if end <= start {
		return Citation{}, false
	}

	lineStart := strings.LastIndexByte(text[:start], '\n') + 1
	return makeCitation(text, pos.Line, lineStart, start, end), true
}

// Citations lists every citation of text in document order.
func Citations(text, trigger string) []Citation {
	if trigger == "" {
		trigger = DefaultTrigger
	}
	var out []Citation
	var line uint32
	lineStart := 0
	for i := 0; i < len(text); {
		j := strings.Index(text[i:], trigger)
		if j < 0 {
			break
		}
		at := i + j
		for k := strings.IndexByte(text[lineStart:at], '\n'); k >= 0; k = strings.IndexByte(text[lineStart:at], '\n') {
			lineStart += k + 1
			line++
		}
		start := at + len(trigger)
		i = start
		if !triggeredAt(text, start, trigger) {
			continue
		}
		end := keyEnd(text, start)
		if end <= start {
			continue
		}
		out = append(out, makeCitation(text, line, lineStart, start, end))
		i = end
	}
	return out
}

// triggeredAt reports whether trigger ends exactly at offset start and is
// not glued to a preceding word.
func triggeredAt(text string, start int, trigger string) bool {
	if !strings.HasSuffix(text[:start], trigger) {
		return false
	}
	at := start - len(trigger)
	if at == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:at])
	return !isWordRune(r)
}

// keyEnd scans a key forward from start. Trailing `:` and `-` belong to the
// surrounding prose.
func keyEnd(text string, start int) int {
	end := start
	for end < len(text) {
		r, size := utf8.DecodeRuneInString(text[end:])
		if !IsKeyRune(r) {
			break
		}
		end += size
	}
	for end > start && (text[end-1] == ':' || text[end-1] == '-') {
		end--
	}
	return end
}

func makeCitation(text string, line uint32, lineStart, start, end int) Citation {
	startChar := utf16Len(text[lineStart:start])
	return Citation{
		Key: text[start:end],
		Range: protocol.Range{
			Start: protocol.Position{Line: line, Character: startChar},
			End:   protocol.Position{Line: line, Character: startChar + utf16Len(text[start:end])},
		},
		Start: start,
		End:   end,
	}
}
