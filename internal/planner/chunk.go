package planner

// ChunkText splits text into windows of size bytes, each starting
// size-overlap bytes after the previous one. The last window reaches the end.
func ChunkText(text string, size, overlap int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	step := max(1, size-overlap)
	var chunks []string
	for i := 0; i < len(text); i += step {
		end := min(i+size, len(text))
		chunks = append(chunks, text[i:end])
		if i+size >= len(text) {
			break
		}
	}
	return chunks
}
