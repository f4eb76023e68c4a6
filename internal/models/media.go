package models

import (
	"net/url"
	"strings"
)

// MediaKind is the type of a referenced media item
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// MediaRef references hosted media by URL. Inline payloads are never stored.
type MediaRef struct {
	Kind MediaKind `json:"kind"`
	URL  string    `json:"url"`
}

// Validate rejects anything that is not a fetchable http(s) reference
func (m MediaRef) Validate() error {
	if m.Kind != MediaImage && m.Kind != MediaVideo {
		return &ValidationError{Field: "media.kind", Reason: "must be image or video"}
	}
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(m.URL)), "data:") {
		return &ValidationError{Field: "media.url", Reason: "inline data payloads are not supported"}
	}
	u, err := url.Parse(m.URL)
	if err != nil {
		return &ValidationError{Field: "media.url", Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "media.url", Reason: "must be an http(s) URL"}
	}
	if u.Host == "" {
		return &ValidationError{Field: "media.url", Reason: "missing host"}
	}
	return nil
}

// ValidateMedia checks every reference in order and returns the first problem
func ValidateMedia(refs []MediaRef) error {
	for _, m := range refs {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return nil
}
