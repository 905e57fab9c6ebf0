// Package tokenizer implements the byte-table longest-match tokenizer used
// by the transcription models. The binary format and encode/decode algorithm
// are grounded on the original bin-tokenizer implementation: a flat list of
// token-id -> byte-string records, greedy longest-prefix-match encoding, and
// concatenate-then-trim decoding.
package tokenizer

import (
	"bytes"
	"fmt"
	"strings"
)

// SpaceMarker replaces literal spaces in text before encoding, and is
// replaced back to a space on decode.
const SpaceMarker = "▁"

// MatchError is returned by Encode when no token prefix-matches the
// remaining bytes.
type MatchError struct {
	Remaining []byte
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("tokenizer: no token matches remaining bytes %q", e.Remaining)
}

// InvalidTokenError is returned by Decode when a token id maps to a
// zero-length (reserved/unused) record.
type InvalidTokenError struct {
	Token int
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("tokenizer: token %d is a reserved placeholder with no bytes", e.Token)
}

// Tokenizer holds the token-id -> byte-sequence table and performs
// greedy longest-match encode/decode.
type Tokenizer struct {
	tokens [][]byte
}

// Load parses the binary tokenizer format: a stream of records, each a
// varint-like length prefix (b<128 means length b; b>=128 means length
// (secondByte*128)+(b-128)) followed by that many raw bytes. A length of 0
// marks a reserved/special placeholder slot with no bytes. Token ids are
// assigned by record order, starting at 0.
func Load(data []byte) (*Tokenizer, error) {
	var tokens [][]byte
	offset := 0
	for offset < len(data) {
		first := data[offset]
		offset++
		if first == 0 {
			tokens = append(tokens, nil)
			continue
		}
		var length int
		if first < 128 {
			length = int(first)
		} else {
			if offset >= len(data) {
				return nil, fmt.Errorf("tokenizer: truncated length prefix at offset %d", offset)
			}
			second := data[offset]
			offset++
			length = int(second)*128 + int(first) - 128
		}
		if offset+length > len(data) {
			return nil, fmt.Errorf("tokenizer: truncated record at offset %d (need %d bytes)", offset, length)
		}
		rec := make([]byte, length)
		copy(rec, data[offset:offset+length])
		tokens = append(tokens, rec)
		offset += length
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("tokenizer: no tokens found in input of size %d", len(data))
	}
	return &Tokenizer{tokens: tokens}, nil
}

// VocabSize returns the number of token ids, including reserved slots.
func (t *Tokenizer) VocabSize() int {
	return len(t.tokens)
}

// Encode replaces spaces with SpaceMarker, then greedily matches the longest
// token prefix against the remaining bytes until none remain.
func (t *Tokenizer) Encode(text string) ([]int32, error) {
	replaced := strings.ReplaceAll(text, " ", SpaceMarker)
	remaining := []byte(replaced)

	var result []int32
	for len(remaining) > 0 {
		bestLen := -1
		bestToken := int32(-1)
		for id, bs := range t.tokens {
			if len(bs) == 0 || len(bs) > len(remaining) {
				continue
			}
			if len(bs) <= bestLen {
				continue
			}
			if bytes.Equal(remaining[:len(bs)], bs) {
				bestLen = len(bs)
				bestToken = int32(id)
			}
		}
		if bestToken == -1 {
			return nil, &MatchError{Remaining: append([]byte(nil), remaining...)}
		}
		result = append(result, bestToken)
		remaining = remaining[bestLen:]
	}
	return result, nil
}

// Decode concatenates the byte sequences for each token, optionally
// dropping special tokens (those whose bytes begin with '<' and end with
// '>'), then restores space markers and trims outer whitespace.
func (t *Tokenizer) Decode(tokens []int32, skipSpecial bool) (string, error) {
	var buf bytes.Buffer
	for _, tok := range tokens {
		if int(tok) < 0 || int(tok) >= len(t.tokens) {
			return "", &InvalidTokenError{Token: int(tok)}
		}
		bs := t.tokens[tok]
		if len(bs) == 0 {
			return "", &InvalidTokenError{Token: int(tok)}
		}
		if skipSpecial && len(bs) > 2 && bs[0] == '<' && bs[len(bs)-1] == '>' {
			continue
		}
		buf.Write(bs)
	}
	result := strings.ReplaceAll(buf.String(), SpaceMarker, " ")
	return strings.TrimSpace(result), nil
}
