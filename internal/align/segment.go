package align

// BuildSegment packages a script line with its matched words. It returns false
// when words is empty: a segment without words has no start or end and is
// dropped from the result.
func BuildSegment(line ScriptLine, words []TimedWord) (AlignedSegment, bool) {
	if len(words) == 0 {
		return AlignedSegment{}, false
	}
	return AlignedSegment{
		ScriptLine: line.Raw,
		Words:      words,
		Start:      words[0].Start,
		End:        words[len(words)-1].End,
	}, true
}
