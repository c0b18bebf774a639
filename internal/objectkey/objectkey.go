// Package objectkey derives flat object keys and their content types.
package objectkey

import (
	"net/url"
	"path"
	"strings"
)

// DefaultContentType is used for extensions missing from the table.
const DefaultContentType = "application/octet-stream"

// mimeTypes maps lower-case extensions to content types.
var mimeTypes = []struct {
	ext         string
	contentType string
}{
	{"ai", "application/postscript"},
	{"eps", "application/postscript"},
	{"ait", "application/postscript"},
	{"pdf", "application/pdf"},
	{"zip", "application/zip"},
	{"jpg", "image/jpeg"},
	{"jpeg", "image/jpeg"},
	{"png", "image/png"},
	{"gif", "image/gif"},
	{"svg", "image/svg+xml"},
	{"psdt", "application/vnd.adobe.photoshop"},
	{"indt", "application/vnd.adobe.indesign-template"},
	{"mogrt", "application/vnd.adobe.motiongraphics-template"},
	{"aegraphic", "application/vnd.adobe.aftereffects.template"},
	{"prgraphic", "application/vnd.adobe.premiere.template"},
	{"mp4", "video/mp4"},
	{"mov", "video/quicktime"},
	{"wav", "audio/wav"},
	{"aac", "audio/aac"},
}

var mimeIndex = func() map[string]string {
	m := make(map[string]string, len(mimeTypes))
	for _, e := range mimeTypes {
		m[e.ext] = e.contentType
	}
	return m
}()

// Sanitize strips directory components, returning the base filename.
// It returns "" when nothing usable remains.
func Sanitize(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimRight(name, "/")
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == ".." || base == "/" {
		return ""
	}
	return base
}

// FromSource derives the object key for a transfer: the custom name when
// given, otherwise the last segment of the source URL's path.
func FromSource(rawURL, name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return Sanitize(name)
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return Sanitize(u.Path)
}

// ContentType returns the content type for key based on its extension.
func ContentType(key string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(key), "."))
	if ct, ok := mimeIndex[ext]; ok {
		return ct
	}
	return DefaultContentType
}
