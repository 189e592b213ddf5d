// Package chunk splits long generated answers into message-sized pieces.
//
// Splitting descends through three levels, each engaged only when its unit
// still exceeds the limit: paragraphs (separated by blank lines), sentences
// (terminated by the full-width period "。"), and finally fixed-width slices.
// Lengths are counted in runes.
package chunk

import (
	"iter"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

const (
	paragraphSep       = "\n\n"
	sentenceTerminator = "。"
)

var paragraphBoundary = regexp.MustCompile(`\n\s*\n`)

// Split returns the chunks of text, each at most maxLength runes, none empty,
// all whitespace-trimmed. Empty or whitespace-only text yields no chunks.
// A maxLength below 1 is treated as 1.
//
// The sequence is computed lazily while it is ranged over.
func Split(text string, maxLength int) iter.Seq[string] {
	return func(yield func(string) bool) {
		s := &splitter{max: max(maxLength, 1), yield: yield}
		s.run(text)
	}
}

// Collect returns all chunks of text.
func Collect(text string, maxLength int) []string {
	return slices.Collect(Split(text, maxLength))
}

type splitter struct {
	max   int
	yield func(string) bool
	done  bool

	buf    strings.Builder
	bufLen int
}

func (s *splitter) run(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if utf8.RuneCountInString(text) <= s.max {
		s.emit(text)
		return
	}

	for _, p := range paragraphBoundary.Split(text, -1) {
		if s.done {
			return
		}
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n := utf8.RuneCountInString(p)
		if n > s.max {
			s.flush()
			s.sentences(p)
			s.flush()
			continue
		}
		s.add(p, n, paragraphSep)
	}
	s.flush()
}

func (s *splitter) sentences(p string) {
	for _, sent := range strings.SplitAfter(p, sentenceTerminator) {
		if s.done {
			return
		}
		if sent == "" {
			continue
		}
		n := utf8.RuneCountInString(sent)
		if n > s.max {
			s.flush()
			s.slice(sent)
			continue
		}
		s.add(sent, n, "")
	}
}

// slice cuts a unit into maxLength-rune pieces. The remainder that fits is
// left in the buffer so following sentences can be packed after it.
func (s *splitter) slice(unit string) {
	runes := []rune(unit)
	for len(runes) > s.max {
		if s.done {
			return
		}
		s.emit(string(runes[:s.max]))
		runes = runes[s.max:]
	}
	if len(runes) > 0 {
		s.add(string(runes), len(runes), "")
	}
}

// add packs unit into the current chunk, closing the chunk first if unit
// would overflow it.
func (s *splitter) add(unit string, n int, sep string) {
	if s.bufLen > 0 {
		sepLen := utf8.RuneCountInString(sep)
		if s.bufLen+sepLen+n <= s.max {
			s.buf.WriteString(sep)
			s.buf.WriteString(unit)
			s.bufLen += sepLen + n
			return
		}
		s.flush()
	}
	s.buf.WriteString(unit)
	s.bufLen = n
}

func (s *splitter) flush() {
	if s.bufLen == 0 {
		return
	}
	chunk := s.buf.String()
	s.buf.Reset()
	s.bufLen = 0
	s.emit(chunk)
}

func (s *splitter) emit(chunk string) {
	if s.done {
		return
	}
	chunk = strings.TrimSpace(chunk)
	if chunk == "" {
		return
	}
	if !s.yield(chunk) {
		s.done = true
	}
}
