package core

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates how many model tokens a string costs.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// runeCounter approximates four characters per token.
type runeCounter struct{}

func (runeCounter) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// NewTokenCounter loads the cl100k_base encoding. When the encoding cannot
// be loaded (no network, no cache) it returns the rune estimate and the error.
func NewTokenCounter() (TokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return runeCounter{}, err
	}
	return tiktokenCounter{enc: enc}, nil
}
