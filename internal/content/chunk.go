package content

import (
	"strings"
)

// FallbackDelimiters end a sentence in addition to the primary delimiter.
var FallbackDelimiters = []string{"!", "?", "\n", ";", "。", "！", "？"}

// sentenceSplitters are tried in order on sentences that exceed the budget.
var sentenceSplitters = []string{",", ";", " "}

// ChunkOnDelimiter splits text into chunks of at most maxTokens tokens,
// breaking on sentence boundaries where possible. Blank input yields a single
// empty chunk.
func ChunkOnDelimiter(text string, maxTokens int, delimiter string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{""}
	}
	if maxTokens < 1 {
		maxTokens = 1
	}

	stops := delimiter + strings.Join(FallbackDelimiters, "")
	var sentences []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if strings.ContainsRune(stops, r) {
			sentences = append(sentences, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		sentences = append(sentences, cur.String())
	}

	var pieces []string
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if TokenCount(s) <= maxTokens {
			pieces = append(pieces, s)
			continue
		}
		pieces = append(pieces, splitLargeSentence(s, maxTokens, sentenceSplitters)...)
	}

	var chunks []string
	var current string
	currentTokens := 0
	for _, p := range pieces {
		n := TokenCount(p)
		if current == "" {
			current, currentTokens = p, n
			continue
		}
		if currentTokens+n <= maxTokens {
			if strings.HasSuffix(current, " ") || strings.HasSuffix(current, "\n") {
				current += p
			} else {
				current += " " + p
			}
			currentTokens += n
		} else {
			chunks = append(chunks, current)
			current, currentTokens = p, n
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	if len(chunks) == 0 {
		return []string{""}
	}
	return chunks
}

// splitLargeSentence breaks an oversize sentence on the first delimiter that
// occurs in it, recursing with the finer delimiters on pieces that are still
// too large. Trailing delimiters are kept on each piece.
func splitLargeSentence(sentence string, maxTokens int, delims []string) []string {
	if TokenCount(sentence) <= maxTokens {
		return []string{sentence}
	}

	for i, d := range delims {
		parts := strings.Split(sentence, d)
		if len(parts) < 2 {
			continue
		}

		var chunks []string
		var current string
		currentTokens := 0
		for j, part := range parts {
			if strings.TrimSpace(part) == "" {
				continue
			}
			segment := part
			if j < len(parts)-1 {
				segment += d
			}
			n := TokenCount(segment)
			if currentTokens+n > maxTokens && current != "" {
				chunks = append(chunks, current)
				current, currentTokens = segment, n
			} else {
				current += segment
				currentTokens += n
			}
		}
		if current != "" {
			chunks = append(chunks, current)
		}

		var out []string
		for _, c := range chunks {
			if TokenCount(c) > maxTokens {
				out = append(out, splitLargeSentence(c, maxTokens, delims[i+1:])...)
			} else {
				out = append(out, c)
			}
		}
		return out
	}

	return hardSplit(sentence, maxTokens)
}

// hardSplit cuts text with no usable delimiter into rune windows that fit.
func hardSplit(text string, maxTokens int) []string {
	runes := []rune(text)
	size := maxTokens * 4
	for size > 1 {
		var out []string
		fits := true
		for i := 0; i < len(runes); i += size {
			end := min(i+size, len(runes))
			piece := string(runes[i:end])
			if TokenCount(piece) > maxTokens {
				fits = false
				break
			}
			out = append(out, piece)
		}
		if fits {
			return out
		}
		size /= 2
	}
	out := make([]string, 0, len(runes))
	for _, r := range runes {
		out = append(out, string(r))
	}
	return out
}

// AdaptiveChunking picks a chunk size that aims for targetChunks pieces,
// clamped to [minChunk, maxChunk] tokens, and corrects once if the result is
// far off target.
func AdaptiveChunking(text string, targetChunks, minChunk, maxChunk int, delimiter string) []string {
	if targetChunks < 1 {
		targetChunks = 1
	}
	total := TokenCount(text)
	size := max(minChunk, min(maxChunk, total/targetChunks))

	chunks := ChunkOnDelimiter(text, size, delimiter)

	switch {
	case float64(len(chunks)) < float64(targetChunks)*0.5:
		return ChunkOnDelimiter(text, max(minChunk, int(float64(size)*0.7)), delimiter)
	case float64(len(chunks)) > float64(targetChunks)*1.5:
		return ChunkOnDelimiter(text, min(maxChunk, int(float64(size)*1.3)), delimiter)
	}
	return chunks
}
