package crawler

import "strings"

// DefaultChunkWords is the chunk size used when none is configured.
const DefaultChunkWords = 800

// Chunk splits text into pieces of at most size words. Chunks may end
// mid-sentence; no piece is empty.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkWords
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	chunks := make([]string, 0, (len(words)+size-1)/size)
	for i := 0; i < len(words); i += size {
		end := i + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}
	return chunks
}
