package apiclient

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
)

// Multipart is a multipart/form-data body, used for media uploads.
type Multipart struct {
	fields []field
	files  []file
}

type field struct {
	name, value string
}

type file struct {
	field, name string
	content     io.Reader
}

// NewMultipart creates an empty multipart body.
func NewMultipart() *Multipart {
	return &Multipart{}
}

// Field adds a form field.
func (m *Multipart) Field(name, value string) *Multipart {
	m.fields = append(m.fields, field{name: name, value: value})
	return m
}

// File adds a file part read from content.
func (m *Multipart) File(fieldName, fileName string, content io.Reader) *Multipart {
	m.files = append(m.files, file{field: fieldName, name: fileName, content: content})
	return m
}

// FileFromPath adds a file part with the contents of the file at path.
func (m *Multipart) FileFromPath(fieldName, path string) (*Multipart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return m.File(fieldName, filepath.Base(path), bytes.NewReader(data)), nil
}

// encode buffers the body so the session transport can replay it.
func (m *Multipart) encode() (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range m.fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("writing field %s: %w", f.name, err)
		}
	}
	for _, f := range m.files {
		part, err := w.CreateFormFile(f.field, f.name)
		if err != nil {
			return nil, "", fmt.Errorf("creating part %s: %w", f.field, err)
		}
		if _, err := io.Copy(part, f.content); err != nil {
			return nil, "", fmt.Errorf("writing part %s: %w", f.field, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}

	return bytes.NewReader(buf.Bytes()), w.FormDataContentType(), nil
}
