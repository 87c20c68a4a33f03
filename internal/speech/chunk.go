package speech

import "unicode/utf8"

// DefaultMaxChunkSize is the longest segment, in characters, handed to the synthesizer at once.
const DefaultMaxChunkSize = 500

// Chunk splits text into consecutive pieces of at most maxSize characters. Joining the pieces
// yields text again. Splits fall on rune boundaries but ignore word boundaries. A maxSize of
// zero or less disables splitting.
func Chunk(text string, maxSize int) []string {
	if maxSize <= 0 || utf8.RuneCountInString(text) <= maxSize {
		return []string{text}
	}

	chunks := make([]string, 0, utf8.RuneCountInString(text)/maxSize+1)
	start, count := 0, 0
	for i := range text {
		if count == maxSize {
			chunks = append(chunks, text[start:i])
			start, count = i, 0
		}
		count++
	}
	return append(chunks, text[start:])
}
