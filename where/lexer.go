package where

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokenIdent tokenKind = iota
	tokenOperator
	tokenString
	tokenNumber
	tokenComma
	tokenKeyword
)

type token struct {
	kind tokenKind
	// text 源文本，字符串字面量保留引号
	text string
	// value 字面量去掉引号和转义后的值
	value  string
	offset int
}

func (t token) isKeyword(word string) bool {
	return t.kind == tokenKeyword && strings.EqualFold(t.text, word)
}

func (t token) isLiteral() bool {
	return t.kind == tokenString || t.kind == tokenNumber
}

var keywords = map[string]bool{
	"AND":   true,
	"OR":    true,
	"ORDER": true,
	"BY":    true,
	"ASC":   true,
	"DESC":  true,
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isIdentPart(r rune) bool {
	return r == '_' || r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// tokenize 偏移都按字节计算
func tokenize(input string) ([]token, error) {
	var tokens []token
	for i := 0; i < len(input); {
		c := input[i]
		r, size := utf8.DecodeRuneInString(input[i:])

		switch {
		case unicode.IsSpace(r):
			i += size

		case c == '\'':
			start := i
			var sb strings.Builder
			closed := false
			for i++; i < len(input); i++ {
				if input[i] != '\'' {
					sb.WriteByte(input[i])
					continue
				}
				if i+1 < len(input) && input[i+1] == '\'' {
					sb.WriteByte('\'')
					i++
					continue
				}
				i++
				closed = true
				break
			}
			if !closed {
				return nil, &ParseError{Fragment: input[start:], Offset: start, Reason: "unbalanced quote"}
			}
			tokens = append(tokens, token{kind: tokenString, text: input[start:i], value: sb.String(), offset: start})

		case c == '=' || c == '<' || c == '>' || c == '!':
			start := i
			i++
			if i < len(input) && (input[i] == '=' || (c == '<' && input[i] == '>')) {
				i++
			}
			op := input[start:i]
			if op == "!" {
				return nil, &ParseError{Fragment: op, Offset: start, Reason: "unexpected token"}
			}
			tokens = append(tokens, token{kind: tokenOperator, text: op, value: op, offset: start})

		case c == ',':
			tokens = append(tokens, token{kind: tokenComma, text: ",", offset: i})
			i++

		case isDigit(c) || ((c == '-' || c == '+' || c == '.') && i+1 < len(input) && isDigit(input[i+1])):
			start := i
			for i++; i < len(input); i++ {
				b := input[i]
				if isDigit(b) || b == '.' || b == 'e' || b == 'E' {
					continue
				}
				if (b == '-' || b == '+') && (input[i-1] == 'e' || input[i-1] == 'E') {
					continue
				}
				break
			}
			text := input[start:i]
			tokens = append(tokens, token{kind: tokenNumber, text: text, value: text, offset: start})

		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(input) {
				r, size := utf8.DecodeRuneInString(input[i:])
				if !isIdentPart(r) {
					break
				}
				i += size
			}
			text := input[start:i]
			kind := tokenIdent
			if keywords[strings.ToUpper(text)] {
				kind = tokenKeyword
			}
			tokens = append(tokens, token{kind: kind, text: text, value: text, offset: start})

		default:
			return nil, &ParseError{Fragment: string(r), Offset: i, Reason: "unexpected character"}
		}
	}
	return tokens, nil
}
