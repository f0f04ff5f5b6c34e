// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package statemachine

import (
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenEquals
	tokenIllegal
)

type token struct {
	kind   tokenKind
	text   string
	offset int
}

func (t token) isWord(s string) bool {
	return t.kind == tokenWord && t.text == s
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// lex splits text into words, '=' and runs of anything else.
func lex(text string) []token {
	var tokens []token
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case r == '=':
			tokens = append(tokens, token{kind: tokenEquals, text: "=", offset: i})
			i += size
		case isWordRune(r):
			start := i
			for i < len(text) {
				r, size = utf8.DecodeRuneInString(text[i:])
				if !isWordRune(r) {
					break
				}
				i += size
			}
			tokens = append(tokens, token{kind: tokenWord, text: text[start:i], offset: start})
		default:
			start := i
			for i < len(text) {
				r, size = utf8.DecodeRuneInString(text[i:])
				if unicode.IsSpace(r) || r == '=' || isWordRune(r) {
					break
				}
				i += size
			}
			tokens = append(tokens, token{kind: tokenIllegal, text: text[start:i], offset: start})
		}
	}
	return tokens
}
