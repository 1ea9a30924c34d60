// Package codepage encodes and decodes short FAT directory entry names using
// code page 866, matching the original implementation this engine's on-disk
// format was distilled from.
package codepage

import (
	"golang.org/x/text/encoding/charmap"
)

// Encode converts a Go string to its code-page-866 byte representation.
// Characters with no CP866 mapping are not replaced: the encoder reports
// them as an error, which Encode returns.
func Encode(s string) ([]byte, error) {
	encoded, err := charmap.CodePage866.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, err
	}
	return encoded, nil
}

// Decode converts code-page-866 bytes to a Go string.
func Decode(b []byte) (string, error) {
	decoded, err := charmap.CodePage866.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
