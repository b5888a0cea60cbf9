// Package attachment converts user-selected image files into the inline
// payload the model boundary understands.
package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"nevexpert/internal/models"
)

// ErrNotImage rejects selections that do not sniff as an image.
var ErrNotImage = errors.New("only image files can be attached")

// Encode sniffs the media type of raw file bytes and wraps them as an inline
// attachment. Non-image content is rejected before it can reach a pending
// slot.
func Encode(data []byte) (*models.Attachment, error) {
	if len(data) == 0 {
		return nil, errors.New("empty file")
	}
	mediaType := http.DetectContentType(data)
	if !strings.HasPrefix(mediaType, "image/") {
		return nil, fmt.Errorf("%w: detected %s", ErrNotImage, mediaType)
	}
	return &models.Attachment{
		MediaType: mediaType,
		Data:      base64.StdEncoding.EncodeToString(data),
	}, nil
}

// ParseDataURI splits a "data:<type>;base64,<bytes>" payload into an
// attachment with the descriptor prefix stripped.
func ParseDataURI(uri string) (*models.Attachment, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, errors.New("not a data URI")
	}
	meta, body, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errors.New("malformed data URI")
	}
	mediaType, enc, ok := strings.Cut(meta, ";")
	if !ok || enc != "base64" {
		return nil, errors.New("data URI must be base64 encoded")
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return nil, ErrNotImage
	}
	if _, err := base64.StdEncoding.DecodeString(body); err != nil {
		return nil, fmt.Errorf("decode data URI body: %w", err)
	}
	return &models.Attachment{MediaType: mediaType, Data: body}, nil
}
