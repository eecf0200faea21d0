package photostore

import (
	"encoding/base64"
	"errors"
	"strings"
)

// DecodeDataURI splits a "data:<mime>;base64,<payload>" string into its
// MIME type and decoded bytes.
func DecodeDataURI(dataURI string) (mimeType string, data []byte, err error) {
	if !strings.HasPrefix(dataURI, "data:") {
		return "", nil, errors.New("not a data URI")
	}
	rest := dataURI[len("data:"):]

	sep := strings.Index(rest, ",")
	if sep < 0 {
		return "", nil, errors.New("data URI has no payload separator")
	}
	meta := rest[:sep]
	payload := rest[sep+1:]

	if !strings.HasSuffix(meta, ";base64") {
		return "", nil, errors.New("data URI is not base64 encoded")
	}
	mimeType = strings.TrimSuffix(meta, ";base64")
	if mimeType == "" {
		return "", nil, errors.New("data URI has no media type")
	}

	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, err
	}
	return mimeType, data, nil
}

// ExtensionForMime maps a photo MIME type to a file extension, defaulting
// to jpg for anything unrecognized.
func ExtensionForMime(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "jpeg"):
		return "jpg"
	case strings.Contains(mimeType, "png"):
		return "png"
	case strings.Contains(mimeType, "webp"):
		return "webp"
	case strings.Contains(mimeType, "gif"):
		return "gif"
	default:
		return "jpg"
	}
}
