package align

// Flatten concatenates the words of every segment, segment order first then
// word order. Nothing is reordered or deduplicated.
//
// When the result is empty, ErrEmptyTranscript is returned alongside the empty
// slice. Whether that is fatal is up to the caller; Align itself accepts an
// empty transcript and reports it as a warning.
func Flatten(segments []Segment) ([]TimedWord, error) {
	n := 0
	for _, s := range segments {
		n += len(s.Words)
	}
	words := make([]TimedWord, 0, n)
	for _, s := range segments {
		words = append(words, s.Words...)
	}
	if len(words) == 0 {
		return words, ErrEmptyTranscript
	}
	return words, nil
}
