package chunk

import (
	"fmt"
	"strconv"
)

// Paginate splits text for sequential delivery and labels each chunk with a
// " (i/total)" suffix when more than one chunk results. Room for the suffix
// is reserved up front, so every labelled chunk fits in maxLength runes.
//
// A single chunk is returned unlabelled. If maxLength is too small to hold
// any suffix, the chunks are returned unlabelled as Split produces them.
func Paginate(text string, maxLength int) []string {
	chunks := Collect(text, maxLength)
	if len(chunks) <= 1 {
		return chunks
	}

	for digits := 1; ; digits++ {
		reserve := suffixWidth(digits)
		if reserve >= maxLength {
			return chunks
		}
		labelled := Collect(text, maxLength-reserve)
		if len(strconv.Itoa(len(labelled))) > digits {
			continue
		}
		for i := range labelled {
			labelled[i] += Suffix(i+1, len(labelled))
		}
		return labelled
	}
}

// Suffix returns the delivery indicator appended to chunk i of total.
func Suffix(i, total int) string {
	return fmt.Sprintf(" (%d/%d)", i, total)
}

// suffixWidth is the widest suffix for a total with the given digit count.
func suffixWidth(digits int) int {
	return 2*digits + len(" (/)")
}
