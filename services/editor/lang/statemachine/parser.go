// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package statemachine is a small signal/state language used by the editor
// server when no other language is plugged in.
//
//	input signal x
//	state idle
//	    set x = true
//	end
//
// It implements the lang collaborators: a tolerant parser that records
// syntax errors on the model instead of failing, a validator that checks
// declarations, and keyword/name completion.
package statemachine

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianEdit/services/editor/lang"
)

// Keywords of the language, in completion order.
var Keywords = []string{"input", "signal", "state", "set", "end", "true", "false"}

// Symbol is a name occurrence in the text.
type Symbol struct {
	Name   string
	Offset int
}

// Assignment is a `set <target> = <value>` statement.
type Assignment struct {
	Target Symbol
	Value  Symbol
}

// State is a `state <name> ... end` block.
type State struct {
	Name        Symbol
	Assignments []Assignment
	Closed      bool
}

// Model is the parsed form of a document.
type Model struct {
	ResourceID   string
	Signals      []Symbol
	States       []State
	SyntaxErrors []lang.Diagnostic
	tokens       []token
}

// Parser implements lang.Parser.
type Parser struct{}

// NewParser returns a parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse builds a Model. Syntax problems end up in Model.SyntaxErrors; only
// text that is not valid UTF-8 fails outright.
func (p *Parser) Parse(ctx context.Context, resourceID, text string) (lang.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8", lang.ErrParse, resourceID)
	}

	ps := &parseState{tokens: lex(text)}
	m := &Model{ResourceID: resourceID, tokens: ps.tokens}
	for !ps.eof() {
		tok := ps.next()
		switch {
		case tok.isWord("input"):
			ps.parseSignal(m, tok)
		case tok.isWord("state"):
			ps.parseState(m, tok)
		default:
			m.SyntaxErrors = append(m.SyntaxErrors, syntaxError(tok, fmt.Sprintf("unexpected %q, expected 'input' or 'state'", tok.text)))
		}
	}
	return m, nil
}

type parseState struct {
	tokens []token
	pos    int
}

func (ps *parseState) eof() bool {
	return ps.pos >= len(ps.tokens)
}

func (ps *parseState) peek() (token, bool) {
	if ps.eof() {
		return token{}, false
	}
	return ps.tokens[ps.pos], true
}

func (ps *parseState) next() token {
	tok := ps.tokens[ps.pos]
	ps.pos++
	return tok
}

// expectName consumes an identifier that is not a keyword.
func (ps *parseState) expectName(m *Model, after token, what string) (Symbol, bool) {
	tok, ok := ps.peek()
	if !ok || tok.kind != tokenWord || isKeyword(tok.text) {
		m.SyntaxErrors = append(m.SyntaxErrors, syntaxError(after, fmt.Sprintf("expected %s after %q", what, after.text)))
		return Symbol{}, false
	}
	ps.pos++
	return Symbol{Name: tok.text, Offset: tok.offset}, true
}

func (ps *parseState) parseSignal(m *Model, input token) {
	tok, ok := ps.peek()
	if !ok || !tok.isWord("signal") {
		m.SyntaxErrors = append(m.SyntaxErrors, syntaxError(input, "expected 'signal' after 'input'"))
		return
	}
	ps.pos++
	if sym, ok := ps.expectName(m, tok, "signal name"); ok {
		m.Signals = append(m.Signals, sym)
	}
}

func (ps *parseState) parseState(m *Model, kw token) {
	st := State{}
	if sym, ok := ps.expectName(m, kw, "state name"); ok {
		st.Name = sym
	}
	for {
		tok, ok := ps.peek()
		if !ok {
			m.SyntaxErrors = append(m.SyntaxErrors, syntaxError(kw, "state block is missing 'end'"))
			break
		}
		if tok.isWord("end") {
			ps.pos++
			st.Closed = true
			break
		}
		if tok.isWord("state") || tok.isWord("input") {
			m.SyntaxErrors = append(m.SyntaxErrors, syntaxError(kw, "state block is missing 'end'"))
			break
		}
		ps.pos++
		if !tok.isWord("set") {
			m.SyntaxErrors = append(m.SyntaxErrors, syntaxError(tok, fmt.Sprintf("unexpected %q in state block", tok.text)))
			continue
		}
		if a, ok := ps.parseAssignment(m, tok); ok {
			st.Assignments = append(st.Assignments, a)
		}
	}
	m.States = append(m.States, st)
}

func (ps *parseState) parseAssignment(m *Model, set token) (Assignment, bool) {
	target, ok := ps.expectName(m, set, "signal name")
	if !ok {
		return Assignment{}, false
	}
	eq, ok := ps.peek()
	if !ok || eq.kind != tokenEquals {
		m.SyntaxErrors = append(m.SyntaxErrors, syntaxError(set, "expected '=' in assignment"))
		return Assignment{}, false
	}
	ps.pos++
	val, ok := ps.peek()
	if !ok || val.kind != tokenWord || (isKeyword(val.text) && val.text != "true" && val.text != "false") {
		m.SyntaxErrors = append(m.SyntaxErrors, syntaxError(eq, "expected value after '='"))
		return Assignment{}, false
	}
	ps.pos++
	return Assignment{Target: target, Value: Symbol{Name: val.text, Offset: val.offset}}, true
}

func syntaxError(tok token, msg string) lang.Diagnostic {
	return lang.Diagnostic{
		Severity: lang.SeverityError,
		Message:  msg,
		Offset:   tok.offset,
		Length:   len(tok.text),
	}
}

func isKeyword(s string) bool {
	for _, k := range Keywords {
		if k == s {
			return true
		}
	}
	return false
}
