package vocab

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/immigration-rag/backend/internal/storage/models"
)

// File is the on-disk shape of a vocabulary extension:
//
//	permit_type:
//	  - pattern: '\bstart-up visa\b'
//	    canonical: Start-up Visa
//	requirement:
//	  - pattern: '\bcapital investment\b'
type File map[models.EntityKind][]Term

// LoadFile reads a YAML extension file and appends its terms to base.
func LoadFile(base *Vocabulary, path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary file %s: %w", path, err)
	}

	for kind := range f {
		if !knownKind(kind) {
			return nil, fmt.Errorf("vocabulary file %s: unknown entity kind %q", path, kind)
		}
	}

	return base.Extend(f)
}
