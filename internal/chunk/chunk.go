// Package chunk splits document content into overlapping segments for
// embedding, shared between the LOAD stage's stats block and the RAG
// indexer.
package chunk

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Chunk is one unit of chunked text plus its stable identity.
type Chunk struct {
	ID       string
	Position int
	Text     string
}

// Options controls chunk sizing. Units are whitespace-delimited words,
// matching the original implementation's word-based windowing.
type Options struct {
	TargetSize int // words per chunk, default 512
	Overlap    int // words of overlap between consecutive chunks, default 50
}

// DefaultOptions returns the spec's default chunk sizing.
func DefaultOptions() Options {
	return Options{TargetSize: 512, Overlap: 50}
}

// Split breaks content into overlapping chunks, preferring to break on
// paragraph boundaries (blank lines) when one falls near the target size.
func Split(documentID, content string, opts Options) []Chunk {
	if opts.TargetSize <= 0 {
		opts.TargetSize = 512
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.TargetSize {
		opts.Overlap = 50
	}

	paragraphs := strings.Split(content, "\n\n")
	var words []string
	// paragraphBreakAfter[i] is true when a paragraph boundary follows word i.
	paragraphBreakAfter := map[int]bool{}
	for _, p := range paragraphs {
		ws := strings.Fields(p)
		words = append(words, ws...)
		if len(words) > 0 {
			paragraphBreakAfter[len(words)-1] = true
		}
	}

	if len(words) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	position := 0
	for start < len(words) {
		end := start + opts.TargetSize
		if end > len(words) {
			end = len(words)
		} else {
			// Prefer to end on a paragraph boundary within the last 20% of
			// the window, so chunks read as complete thoughts.
			lookback := start + opts.TargetSize*8/10
			for i := end - 1; i >= lookback && i >= start; i-- {
				if paragraphBreakAfter[i] {
					end = i + 1
					break
				}
			}
		}

		text := strings.Join(words[start:end], " ")
		chunks = append(chunks, Chunk{
			ID:       chunkID(documentID, position, text),
			Position: position,
			Text:     text,
		})
		position++

		if end >= len(words) {
			break
		}
		next := end - opts.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// chunkID derives a stable identifier from the document, position, and
// content, so re-chunking identical content never changes chunk identity.
func chunkID(documentID string, position int, text string) string {
	h := sha1.New()
	h.Write([]byte(documentID))
	h.Write([]byte{0})
	h.Write([]byte(text))
	sum := hex.EncodeToString(h.Sum(nil))[:16]
	return documentID + "_chunk" + itoa(position) + "_" + sum
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}
