// Package customid encodes routing context into the custom identifier string
// attached to interactive message components. A token has the form
//
//	handlerKey+param1+param2+...+paramN
//
// and is never persisted: it lives from the moment a message is rendered until
// a user clicks the component, which may happen many times or never.
package customid

import (
	"strings"
	"unicode/utf8"

	"emperror.dev/errors"
)

const (
	// Delimiter separates the handler key and each positional parameter.
	Delimiter = "+"

	// MaxLength is the platform limit for a component custom identifier, in
	// characters.
	MaxLength = 100
)

const (
	ErrMalformed    = errors.Sentinel("customid: malformed token")
	ErrInvalidKey   = errors.Sentinel("customid: invalid handler key")
	ErrInvalidParam = errors.Sentinel("customid: parameter contains delimiter")
	ErrTooLong      = errors.Sentinel("customid: token exceeds length limit")
)

// Token is a decoded custom identifier.
type Token struct {
	HandlerKey string
	Params     []string
}

// Param returns the positional parameter at i, or an empty string when the
// token does not carry that many parameters.
func (t Token) Param(i int) string {
	if i < 0 || i >= len(t.Params) {
		return ""
	}
	return t.Params[i]
}

// Normalize returns the parameters padded with empty strings or trimmed so
// that exactly n values are returned.
func (t Token) Normalize(n int) []string {
	if n < 0 {
		n = 0
	}
	out := make([]string, n)
	copy(out, t.Params)
	return out
}

// ValidateKey checks that a handler key can be used in a token.
func ValidateKey(key string) error {
	if key == "" {
		return errors.WithStack(ErrInvalidKey)
	}
	if strings.Contains(key, Delimiter) {
		return errors.WithDetails(ErrInvalidKey, "key", key)
	}
	return nil
}

// Encode joins the handler key and parameters into a token. Empty parameters
// are kept as empty segments so decoding stays positional. The key is always
// terminated by the delimiter, which means a call without parameters yields a
// token carrying a single empty parameter: Encode("k") is "k+" and decodes to
// Params [""]. Handlers see no parameters once the token is normalized to a
// ParameterCount of zero.
func Encode(handlerKey string, params ...string) (string, error) {
	if err := ValidateKey(handlerKey); err != nil {
		return "", err
	}
	for i, p := range params {
		if strings.Contains(p, Delimiter) {
			return "", errors.WithDetails(ErrInvalidParam, "key", handlerKey, "index", i)
		}
	}
	token := handlerKey + Delimiter + strings.Join(params, Delimiter)
	if n := utf8.RuneCountInString(token); n > MaxLength {
		return "", errors.WithDetails(ErrTooLong, "key", handlerKey, "length", n)
	}
	return token, nil
}

// MustEncode is Encode for tokens built from constants and identifiers that are
// known to be valid. It panics on error.
func MustEncode(handlerKey string, params ...string) string {
	token, err := Encode(handlerKey, params...)
	if err != nil {
		panic(err)
	}
	return token
}

// Decode splits a token back into its handler key and parameters. A token
// whose key is not registered anywhere still decodes; only a token without a
// delimiter or with an empty key is malformed.
func Decode(raw string) (Token, error) {
	idx := strings.Index(raw, Delimiter)
	if idx < 0 {
		return Token{}, errors.WithDetails(ErrMalformed, "token", raw)
	}
	if idx == 0 {
		return Token{}, errors.WithDetails(ErrMalformed, "token", raw)
	}
	return Token{
		HandlerKey: raw[:idx],
		Params:     strings.Split(raw[idx+1:], Delimiter),
	}, nil
}

// Remaining reports how many characters are left for one more parameter after
// the handler key and the given parameters, accounting for its delimiter.
func Remaining(handlerKey string, params ...string) int {
	used := utf8.RuneCountInString(handlerKey) + len(params) + 1
	for _, p := range params {
		used += utf8.RuneCountInString(p)
	}
	if used > MaxLength {
		return 0
	}
	return MaxLength - used
}

// Truncate shortens s to at most n characters without splitting a rune. The
// delimiter is stripped so the result can always be encoded.
func Truncate(s string, n int) string {
	s = strings.ReplaceAll(s, Delimiter, "")
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
