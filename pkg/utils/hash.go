package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// DocumentID derives the stable source id of a document: the source URL
// when present, the title otherwise.
func DocumentID(sourceURL, title string) string {
	key := strings.TrimSpace(sourceURL)
	if key == "" {
		key = "title:" + strings.ToLower(strings.TrimSpace(title))
	}
	return HashString(key)
}

func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, index)
}
