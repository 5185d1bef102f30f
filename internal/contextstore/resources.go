package contextstore

import (
	"fmt"
	"strings"
)

// resourceExts are probed in order when reading a resource by id.
var resourceExts = []string{"md", "json", "diff", "txt"}

// Resource identifies a stored blob.
type Resource struct {
	ID  string `json:"id"`
	Ref string `json:"ref"`
}

// resourceExt maps a declared content type to a file extension.
func resourceExt(typ string) string {
	switch strings.ToLower(typ) {
	case "markdown", "md":
		return "md"
	case "json":
		return "json"
	case "diff", "patch":
		return "diff"
	default:
		return "txt"
	}
}

// CreateResource stores content as an immutable blob and returns its id and
// resource:<id> reference.
func (s *Store) CreateResource(content, typ string) (Resource, error) {
	id := newID()
	key := fmt.Sprintf("resources/%s.%s", id, resourceExt(typ))
	if err := s.backend.Write(key, []byte(content)); err != nil {
		return Resource{}, fmt.Errorf("contextstore: create resource: %w", err)
	}
	return Resource{ID: id, Ref: "resource:" + id}, nil
}

// ReadResource returns the content of the resource with the given id, probing
// extensions in order. ok is false when no extension matches.
func (s *Store) ReadResource(id string) (content string, ok bool, err error) {
	for _, ext := range resourceExts {
		key := fmt.Sprintf("resources/%s.%s", id, ext)
		b, found, err := s.backend.Read(key)
		if err != nil {
			return "", false, fmt.Errorf("contextstore: read resource %s: %w", id, err)
		}
		if found {
			return string(b), true, nil
		}
	}
	return "", false, nil
}
