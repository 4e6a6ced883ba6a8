// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/azchat/internal/model"
)

// YAMLExporter exports sessions in YAML format.
type YAMLExporter struct{}

// NewYAMLExporter creates a new YAML exporter.
func NewYAMLExporter() *YAMLExporter {
	return &YAMLExporter{}
}

type yamlSession struct {
	ID        string        `yaml:"id"`
	Title     string        `yaml:"title"`
	Model     string        `yaml:"model"`
	CreatedAt time.Time     `yaml:"createdAt"`
	UpdatedAt time.Time     `yaml:"updatedAt"`
	Messages  []yamlMessage `yaml:"messages"`
}

type yamlMessage struct {
	ID        string    `yaml:"id"`
	Role      string    `yaml:"role"`
	Content   string    `yaml:"content"`
	Timestamp time.Time `yaml:"timestamp"`
	Model     string    `yaml:"model,omitempty"`
	Images    int       `yaml:"images,omitempty"` // count only; payloads are data URIs
}

// Export converts a session to YAML. Image payloads are summarized as a
// count to keep the document readable.
func (e *YAMLExporter) Export(sess *model.Session) ([]byte, error) {
	if sess == nil {
		return nil, ErrNilSession
	}

	doc := yamlSession{
		ID:        sess.ID,
		Title:     sess.Title,
		Model:     sess.Model,
		CreatedAt: time.UnixMilli(sess.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(sess.UpdatedAt).UTC(),
		Messages:  make([]yamlMessage, 0, len(sess.Messages)),
	}
	for _, m := range sess.Messages {
		doc.Messages = append(doc.Messages, yamlMessage{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: time.UnixMilli(m.Timestamp).UTC(),
			Model:     m.Model,
			Images:    len(m.Images),
		})
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FileExtension returns the file extension for YAML.
func (e *YAMLExporter) FileExtension() string {
	return ".yaml"
}

// MimeType returns the MIME type for YAML.
func (e *YAMLExporter) MimeType() string {
	return "application/yaml"
}
