// Package codec converts between hex-encoded legacy regional text and UTF-8.
package codec

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// DefaultEncoding is the legacy encoding devices use for provenance fields.
const DefaultEncoding = "gbk"

var (
	ErrEmptyInput    = errors.New("empty input")
	ErrOddLength     = errors.New("odd length hex string")
	ErrInvalidHex    = errors.New("invalid hex digit")
	ErrMalformedText = errors.New("bytes are not valid in the legacy encoding")
)

// DecodeError wraps a decode failure with the offending input.
type DecodeError struct {
	Input string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q: %v", e.Input, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Codec translates hex strings of legacy-encoded bytes.
type Codec struct {
	name string
	enc  encoding.Encoding
}

// New resolves the encoding by its WHATWG name ("gbk", "gb18030", "big5", ...).
func New(encodingName string) (*Codec, error) {
	name := strings.ToLower(strings.TrimSpace(encodingName))
	if name == "" {
		name = DefaultEncoding
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("resolve encoding %s: %w", name, err)
	}
	return &Codec{name: name, enc: enc}, nil
}

// Name returns the resolved encoding name.
func (c *Codec) Name() string {
	return c.name
}

// Decode turns a hex string into text.
func (c *Codec) Decode(input string) (string, error) {
	if input == "" {
		return "", &DecodeError{Input: input, Err: ErrEmptyInput}
	}
	if len(input)%2 != 0 {
		return "", &DecodeError{Input: input, Err: ErrOddLength}
	}

	raw, err := hex.DecodeString(input)
	if err != nil {
		return "", &DecodeError{Input: input, Err: fmt.Errorf("%w: %v", ErrInvalidHex, err)}
	}

	text, err := c.enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", &DecodeError{Input: input, Err: fmt.Errorf("%w: %v", ErrMalformedText, err)}
	}
	// x/text substitutes U+FFFD instead of failing; the legacy repertoire cannot produce it.
	if !utf8.Valid(text) || strings.ContainsRune(string(text), utf8.RuneError) {
		return "", &DecodeError{Input: input, Err: ErrMalformedText}
	}

	return string(text), nil
}

// Encode turns text into upper-case hex of its legacy-encoded bytes.
func (c *Codec) Encode(text string) (string, error) {
	raw, err := c.enc.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return "", fmt.Errorf("encode %q as %s: %w", text, c.name, err)
	}
	return strings.ToUpper(hex.EncodeToString(raw)), nil
}
