package blobstore

import (
	"encoding/base64"
	"errors"
	"strings"
)

// RefPrefix marks a photo field value that points into the blob store.
const RefPrefix = "blob:"

var ErrInvalidDataURI = errors.New("invalid data URI")

// DataURI is a decoded RFC 2397 base64 data URI.
type DataURI struct {
	ContentType string
	Data        []byte
}

// IsDataURI reports whether s looks like a data URI.
func IsDataURI(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// ParseDataURI decodes "data:<mime>;base64,<payload>". Only base64 payloads
// are accepted.
func ParseDataURI(s string) (*DataURI, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, ErrInvalidDataURI
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, ErrInvalidDataURI
	}
	mime, ok := strings.CutSuffix(header, ";base64")
	if !ok || mime == "" {
		return nil, ErrInvalidDataURI
	}
	// drop parameters such as ;charset=
	mime, _, _ = strings.Cut(mime, ";")

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrInvalidDataURI
	}
	return &DataURI{ContentType: strings.ToLower(mime), Data: data}, nil
}

// Ref returns the stored reference for key.
func Ref(key string) string {
	return RefPrefix + key
}

// KeyFromRef extracts the blob key from a reference produced by Ref.
func KeyFromRef(ref string) (string, bool) {
	key, ok := strings.CutPrefix(ref, RefPrefix)
	return key, ok && key != ""
}
