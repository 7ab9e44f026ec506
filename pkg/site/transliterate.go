package site

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// topLevelNames are the window globals the player script assigns.
var topLevelNames = map[string]bool{
	"video":          true,
	"streams":        true,
	"masterPlaylist": true,
	"canPlayFHD":     true,
}

// Transliterate rewrites the player's inline script, a run of statements like
//
//	window.video = {id: 1}; window.masterPlaylist = {url: '...', params: {...}};
//
// into a single JSON object. It is a lexical rewrite, not a JavaScript parser:
//
//   - window.<video|streams|masterPlaylist|canPlayFHD> on the left of a
//     top-level = becomes a quoted key; any other window.<name>, or one used
//     as a value, is rejected
//   - bare identifier object keys such as params and url are quoted
//   - single-quoted strings become double-quoted, and the escapes JSON does
//     not need (\/ and \') lose their backslash; \x, \v, octal escapes and
//     line continuations are rejected
//   - = becomes :, ; becomes , and a trailing , before } or ] is dropped;
//     assignments separated only by a newline get a , between them
//   - the result is wrapped in { }
//
// Output that is not valid JSON is reported as ErrMalformedScript. The
// function is pure: the same input always gives the same result.
func Transliterate(script string) (string, error) {
	src := strings.TrimSpace(script)
	out := make([]byte, 0, len(src)+2)
	out = append(out, '{')
	depth := 0

	for i := 0; i < len(src); {
		ch := src[i]
		switch {
		case ch == '\'' || ch == '"':
			var err error
			out, i, err = appendString(out, src, i)
			if err != nil {
				return "", err
			}
		case ch == '=':
			out = append(out, ':')
			i++
		case ch == ';':
			out = append(out, ',')
			i++
		case ch == '{' || ch == '[':
			depth++
			out = append(out, ch)
			i++
		case ch == '}' || ch == ']':
			depth--
			out = trimTrailingComma(out)
			out = append(out, ch)
			i++
		case isIdentStart(ch):
			j := scanIdent(src, i)
			word := src[i:j]

			if word == "window" && j < len(src) && src[j] == '.' {
				k := scanIdent(src, j+1)
				name := src[j+1 : k]
				if !topLevelNames[name] {
					return "", fmt.Errorf("%w: unexpected global window.%s", ErrMalformedScript, name)
				}
				if depth != 0 || !isAssignment(src, k) {
					return "", fmt.Errorf("%w: window.%s is only allowed as an assignment target", ErrMalformedScript, name)
				}
				out = ensureSeparator(out)
				out = strconv.AppendQuote(out, name)
				i = k
				continue
			}

			if isKeyPosition(src, j) {
				out = strconv.AppendQuote(out, word)
			} else {
				out = append(out, word...)
			}
			i = j
		default:
			out = append(out, ch)
			i++
		}
	}

	out = trimTrailingComma(out)
	out = append(out, '}')

	if !json.Valid(out) {
		return "", fmt.Errorf("%w: rewritten script is not valid JSON", ErrMalformedScript)
	}
	return string(out), nil
}

// appendString copies the string literal starting at src[start] to out as a
// JSON string and returns the index just past its closing quote.
func appendString(out []byte, src string, start int) ([]byte, int, error) {
	quote := src[start]
	out = append(out, '"')

	for i := start + 1; i < len(src); i++ {
		ch := src[i]
		switch {
		case ch == quote:
			return append(out, '"'), i + 1, nil
		case ch == '\\':
			if i+1 >= len(src) {
				return nil, 0, fmt.Errorf("%w: dangling escape", ErrMalformedScript)
			}
			i++
			switch next := src[i]; next {
			case '"', '\\', 'b', 'f', 'n', 'r', 't', 'u':
				out = append(out, '\\', next)
			case 'x', 'v', '0', '1', '2', '3', '4', '5', '6', '7', '\n', '\r':
				return nil, 0, fmt.Errorf("%w: unsupported escape \\%c", ErrMalformedScript, next)
			default:
				// \/ \' and anything JSON would reject
				out = appendStringByte(out, next)
			}
		default:
			out = appendStringByte(out, ch)
		}
	}

	return nil, 0, fmt.Errorf("%w: unterminated string literal", ErrMalformedScript)
}

func appendStringByte(out []byte, ch byte) []byte {
	switch ch {
	case '"':
		return append(out, '\\', '"')
	case '\n':
		return append(out, '\\', 'n')
	case '\r':
		return append(out, '\\', 'r')
	case '\t':
		return append(out, '\\', 't')
	}
	return append(out, ch)
}

// trimTrailingComma drops a "," (and whitespace after it) at the end of out.
func trimTrailingComma(out []byte) []byte {
	end := len(out)
	for end > 0 && isSpace(out[end-1]) {
		end--
	}
	if end > 0 && out[end-1] == ',' {
		return out[:end-1]
	}
	return out
}

// ensureSeparator appends a "," unless out already ends an object opening or
// a separator.
func ensureSeparator(out []byte) []byte {
	end := len(out)
	for end > 0 && isSpace(out[end-1]) {
		end--
	}
	if end == 0 || out[end-1] == '{' || out[end-1] == ',' {
		return out
	}
	return append(out, ',')
}

// isAssignment reports whether src[end:] starts, after spaces, with a plain =.
func isAssignment(src string, end int) bool {
	for end < len(src) && isSpace(src[end]) {
		end++
	}
	return end < len(src) && src[end] == '=' && (end+1 >= len(src) || src[end+1] != '=')
}

// isKeyPosition reports whether the identifier ending at src[end] is followed
// by a colon, i.e. used as an object key.
func isKeyPosition(src string, end int) bool {
	for end < len(src) && isSpace(src[end]) {
		end++
	}
	return end < len(src) && src[end] == ':'
}

func scanIdent(src string, i int) int {
	for i < len(src) && isIdentPart(src[i]) {
		i++
	}
	return i
}

func isIdentStart(ch byte) bool {
	return ch == '_' || ch == '$' || ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || ('0' <= ch && ch <= '9')
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\r' || ch == '\t'
}
