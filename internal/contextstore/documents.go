package contextstore

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultDocument is the document used when a tool call omits the file name.
const DefaultDocument = "notes.md"

// ErrDocumentExists is returned by CreateDocument for an existing path.
var ErrDocumentExists = errors.New("document already exists")

func documentKey(file string) (string, error) {
	if file == "" {
		file = DefaultDocument
	}
	if strings.HasPrefix(file, "/") || strings.Contains(file, "..") {
		return "", fmt.Errorf("contextstore: invalid document path %q", file)
	}
	return "documents/" + file, nil
}

// ReadDocument returns the content of a shared document. ok is false when the
// document does not exist.
func (s *Store) ReadDocument(file string) (content string, ok bool, err error) {
	key, err := documentKey(file)
	if err != nil {
		return "", false, err
	}
	b, found, err := s.backend.Read(key)
	if err != nil {
		return "", false, err
	}
	return string(b), found, nil
}

// WriteDocument overwrites a shared document, creating it if absent.
func (s *Store) WriteDocument(file, content string) error {
	key, err := documentKey(file)
	if err != nil {
		return err
	}
	return s.backend.Write(key, []byte(content))
}

// AppendDocument appends to a shared document, creating it if absent.
func (s *Store) AppendDocument(file, content string) error {
	key, err := documentKey(file)
	if err != nil {
		return err
	}
	return s.backend.Append(key, []byte(content))
}

// CreateDocument creates a new document; fails with ErrDocumentExists when
// the path is taken.
func (s *Store) CreateDocument(file, content string) error {
	key, err := documentKey(file)
	if err != nil {
		return err
	}
	exists, err := s.backend.Exists(key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDocumentExists, file)
	}
	return s.backend.Write(key, []byte(content))
}

// ListDocuments returns the .md documents, sorted.
func (s *Store) ListDocuments() ([]string, error) {
	entries, err := s.backend.List("documents")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if strings.HasSuffix(e, ".md") {
			out = append(out, e)
		}
	}
	return out, nil
}
