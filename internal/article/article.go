// Package article defines the corpus record and its on-disk JSON form.
package article

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Article is one crawled essay. The summary field starts empty and is
// filled in by the enrichment pipeline. Extra carries source-specific
// fields (API metadata and the like) so a rewrite never drops them.
type Article struct {
	ID          string
	Title       string
	Content     string
	Summary     string
	PublishDate string
	URL         string
	Source      string
	Author      string
	Extra       map[string]json.RawMessage
}

var knownKeys = map[string]bool{
	"id":           true,
	"title":        true,
	"content":      true,
	"summary":      true,
	"publish_date": true,
	"url":          true,
	"source":       true,
	"author":       true,
}

// UnmarshalJSON decodes the known fields and keeps everything else in Extra.
func (a *Article) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode article object: %w", err)
	}

	str := func(key string) (string, error) {
		v, ok := raw[key]
		if !ok || bytes.Equal(v, []byte("null")) {
			return "", nil
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", fmt.Errorf("decode article field %q: %w", key, err)
		}
		return s, nil
	}

	var err error
	if a.ID, err = str("id"); err != nil {
		return err
	}
	if a.Title, err = str("title"); err != nil {
		return err
	}
	if a.Content, err = str("content"); err != nil {
		return err
	}
	if a.Summary, err = str("summary"); err != nil {
		return err
	}
	if a.PublishDate, err = str("publish_date"); err != nil {
		return err
	}
	if a.URL, err = str("url"); err != nil {
		return err
	}
	if a.Source, err = str("source"); err != nil {
		return err
	}
	if a.Author, err = str("author"); err != nil {
		return err
	}

	for k, v := range raw {
		if knownKeys[k] {
			continue
		}
		if a.Extra == nil {
			a.Extra = make(map[string]json.RawMessage)
		}
		a.Extra[k] = v
	}
	return nil
}

// MarshalJSON emits the known fields plus the preserved Extra keys.
func (a Article) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(a.Extra)+8)
	put := func(key, val string, always bool) error {
		if val == "" && !always {
			return nil
		}
		enc, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("encode article field %q: %w", key, err)
		}
		out[key] = enc
		return nil
	}

	if err := put("id", a.ID, true); err != nil {
		return nil, err
	}
	if err := put("title", a.Title, true); err != nil {
		return nil, err
	}
	if err := put("content", a.Content, true); err != nil {
		return nil, err
	}
	if err := put("summary", a.Summary, false); err != nil {
		return nil, err
	}
	if err := put("publish_date", a.PublishDate, false); err != nil {
		return nil, err
	}
	if err := put("url", a.URL, false); err != nil {
		return nil, err
	}
	if err := put("source", a.Source, false); err != nil {
		return nil, err
	}
	if err := put("author", a.Author, false); err != nil {
		return nil, err
	}
	for k, v := range a.Extra {
		if _, taken := out[k]; taken {
			continue
		}
		out[k] = v
	}
	return json.Marshal(out)
}

// Encode renders the article as the indented UTF-8 JSON written to disk.
func Encode(a Article) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(a); err != nil {
		return nil, fmt.Errorf("encode article %s: %w", a.ID, err)
	}
	return buf.Bytes(), nil
}

// Decode parses one article record.
func Decode(data []byte) (Article, error) {
	var a Article
	if err := json.Unmarshal(data, &a); err != nil {
		return Article{}, err
	}
	return a, nil
}

// Validate reports whether the record is storable.
func (a Article) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("article has no id")
	}
	return nil
}
