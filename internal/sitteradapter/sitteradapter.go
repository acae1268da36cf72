package sitteradapter

import (
	"fmt"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// RangeError reports a position or offset that does not exist in the text
// snapshot it was checked against.
type RangeError struct {
	Line      int
	Character int
	Offset    int
	Reason    string
}

func (e *RangeError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("offset %d out of range: %s", e.Offset, e.Reason)
	}
	return fmt.Sprintf("position %d:%d out of range: %s", e.Line, e.Character, e.Reason)
}

func positionError(line, char int, reason string) error {
	return &RangeError{Line: line, Character: char, Offset: -1, Reason: reason}
}

func offsetError(offset int, reason string) error {
	return &RangeError{Line: -1, Character: -1, Offset: offset, Reason: reason}
}

// Lines is a line-start table over one text snapshot. Line terminators are
// "\n", "\r\n" and a lone "\r". Characters are counted in UTF-16 code units.
type Lines struct {
	text   string
	starts []int
	ends   []int // end of line content, excluding the terminator
}

// NewLines builds the line table for text.
func NewLines(text string) *Lines {
	l := &Lines{text: text, starts: []int{0}}
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\n':
			l.ends = append(l.ends, i)
			l.starts = append(l.starts, i+1)
		case '\r':
			l.ends = append(l.ends, i)
			if i+1 < len(text) && text[i+1] == '\n' {
				i++
			}
			l.starts = append(l.starts, i+1)
		}
	}
	l.ends = append(l.ends, len(text))
	return l
}

// Text returns the snapshot the table was built from.
func (l *Lines) Text() string { return l.text }

// Count returns the number of lines. An empty text has one line.
func (l *Lines) Count() int { return len(l.starts) }

// Offset converts a zero-based line and UTF-16 character into a byte offset.
func (l *Lines) Offset(line, char int) (int, error) {
	if line < 0 || line >= len(l.starts) {
		return 0, positionError(line, char, fmt.Sprintf("document has %d lines", len(l.starts)))
	}
	if char < 0 {
		return 0, positionError(line, char, "negative character")
	}
	start, end := l.starts[line], l.ends[line]
	units := 0
	offset := start
	for offset < end && units < char {
		r, size := utf8.DecodeRuneInString(l.text[offset:])
		units += utf16Len(r)
		offset += size
	}
	if units < char {
		return 0, positionError(line, char, fmt.Sprintf("line has %d characters", units))
	}
	if units > char {
		return 0, positionError(line, char, "inside a surrogate pair")
	}
	return offset, nil
}

// Position converts a byte offset back into a zero-based line and UTF-16
// character.
func (l *Lines) Position(offset int) (line, char int, err error) {
	if offset < 0 || offset > len(l.text) {
		return 0, 0, offsetError(offset, fmt.Sprintf("document has %d bytes", len(l.text)))
	}
	line = l.lineOf(offset)
	if offset > l.ends[line] {
		return 0, 0, offsetError(offset, "inside a line terminator")
	}
	if offset < len(l.text) && !utf8.RuneStart(l.text[offset]) {
		return 0, 0, offsetError(offset, "inside a multi-byte character")
	}
	for _, r := range l.text[l.starts[line]:offset] {
		char += utf16Len(r)
	}
	return line, char, nil
}

// lineOf finds the line whose start is the greatest start <= offset.
func (l *Lines) lineOf(offset int) int {
	lo, hi := 0, len(l.starts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if l.starts[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// Offset is shorthand for NewLines(text).Offset(line, char).
func Offset(text string, line, char int) (int, error) {
	return NewLines(text).Offset(line, char)
}

// Position is shorthand for NewLines(text).Position(offset).
func Position(text string, offset int) (int, int, error) {
	return NewLines(text).Position(offset)
}

// FromPosition converts an LSP position into a byte offset.
func (l *Lines) FromPosition(pos protocol.Position) (int, error) {
	return l.Offset(int(pos.Line), int(pos.Character))
}

// ToPosition converts a byte offset into an LSP position.
func (l *Lines) ToPosition(offset int) (protocol.Position, error) {
	line, char, err := l.Position(offset)
	if err != nil {
		return protocol.Position{}, err
	}
	return protocol.Position{Line: uint32(line), Character: uint32(char)}, nil
}

// ToRange converts a pair of byte offsets into an LSP range.
func (l *Lines) ToRange(start, end int) (protocol.Range, error) {
	s, err := l.ToPosition(start)
	if err != nil {
		return protocol.Range{}, err
	}
	e, err := l.ToPosition(end)
	if err != nil {
		return protocol.Range{}, err
	}
	return protocol.Range{Start: s, End: e}, nil
}

// Point converts a byte offset into a tree-sitter point, whose column is a
// byte column.
func (l *Lines) Point(offset int) sitter.Point {
	line := l.lineOf(offset)
	return sitter.Point{Row: uint32(line), Column: uint32(offset - l.starts[line])}
}

// EditInput describes replacing text[start:end] with newText as a tree-sitter
// edit, so the previous tree can be reused on the next parse.
func (l *Lines) EditInput(start, end int, newText string) sitter.EditInput {
	startPoint := l.Point(start)
	return sitter.EditInput{
		StartIndex:  uint32(start),
		OldEndIndex: uint32(end),
		NewEndIndex: uint32(start + len(newText)),
		StartPoint:  startPoint,
		OldEndPoint: l.Point(end),
		NewEndPoint: computeNewEndPoint(startPoint, newText),
	}
}

// computeNewEndPoint computes the tree-sitter Point after inserting newText at startPoint.
func computeNewEndPoint(startPoint sitter.Point, newText string) sitter.Point {
	row, col := startPoint.Row, startPoint.Column
	for i := 0; i < len(newText); i++ {
		switch newText[i] {
		case '\n':
			row++
			col = 0
		case '\r':
			if i+1 < len(newText) && newText[i+1] == '\n' {
				i++
			}
			row++
			col = 0
		default:
			col++
		}
	}
	return sitter.Point{Row: row, Column: col}
}

func utf16Len(r rune) int {
	if r > 0xFFFF {
		return 2
	}
	return 1
}
