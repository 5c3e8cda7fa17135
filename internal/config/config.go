// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

// Package config parses the udoserver configuration file (§6 of the
// protocol spec): a bespoke `IDENTIFIER = VALUE ;` grammar with `#`
// line comments and `"a" + "b"` string concatenation, ported from the
// reference's TStrParseObj/TPrgConfig (original_source/cpp/utils_os/
// strparse.cpp, original_source/cpp/udoserver/src/prgconfig.cpp). It is one
// of two ambient concerns kept on the standard library rather than an
// off-the-shelf format parser — see DESIGN.md.
package config

import (
	"bytes"
	"fmt"
)

// DefaultDevAddr is UDOSL_DEVADDR's default when the config file omits it.
const DefaultDevAddr = "/dev/ttyACM0"

// Config is the parsed udoserver configuration.
type Config struct {
	// DevAddr is the UDOSL_DEVADDR key: the serial device path the bridge
	// opens its UDO-SL master session against.
	DevAddr string
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parse parses the contents of a udoserver config file.
func Parse(data []byte) (*Config, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	p := &parser{buf: data}
	cfg := &Config{DevAddr: DefaultDevAddr}

	p.skipWhite()
	for p.pos < len(p.buf) {
		ident, ok := p.readIdentifier()
		if !ok {
			return nil, p.errorf("identifier expected")
		}
		p.skipWhite()
		if err := p.parseAssignment(ident, cfg); err != nil {
			return nil, err
		}
		p.skipWhite()
	}
	return cfg, nil
}

func (p *parser) parseAssignment(ident string, cfg *Config) error {
	switch ident {
	case "UDOSL_DEVADDR":
		val, err := p.parseStringAssignment()
		if err != nil {
			return err
		}
		cfg.DevAddr = val
		return nil
	default:
		return p.errorf("unknown configuration identifier %q", ident)
	}
}

// parser is a pointer-walking scanner in the style of the reference's
// TStrParseObj, adapted to a Go byte slice and index instead of raw C
// pointers.
type parser struct {
	buf []byte
	pos int
}

func (p *parser) errorf(format string, args ...interface{}) error {
	line := 1
	for i := 0; i < p.pos && i < len(p.buf); i++ {
		if p.buf[i] == '\n' {
			line++
		}
	}
	return fmt.Errorf("config: line %d: %s", line, fmt.Sprintf(format, args...))
}

// skipWhite skips spaces, tabs, line ends and `#`-introduced comments.
func (p *parser) skipWhite() {
	for {
		p.skipSpaces()
		if p.pos < len(p.buf) && p.buf[p.pos] == '#' {
			p.readTo("\n\r")
			continue
		}
		return
	}
}

func (p *parser) skipSpaces() {
	for p.pos < len(p.buf) {
		c := p.buf[p.pos]
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
			p.pos++
			continue
		}
		break
	}
}

// readTo advances up to, but not past, the first of checkchars (or to EOF).
func (p *parser) readTo(checkchars string) {
	for p.pos < len(p.buf) {
		c := p.buf[p.pos]
		if bytes.IndexByte([]byte(checkchars), c) >= 0 {
			return
		}
		p.pos++
	}
}

func isAlphaNum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c == '_'
}

func (p *parser) readIdentifier() (string, bool) {
	start := p.pos
	for p.pos < len(p.buf) && isAlphaNum(p.buf[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", false
	}
	return string(p.buf[start:p.pos]), true
}

func (p *parser) checkSymbol(sym string) bool {
	if p.pos+len(sym) > len(p.buf) {
		return false
	}
	if string(p.buf[p.pos:p.pos+len(sym)]) != sym {
		return false
	}
	p.pos += len(sym)
	return true
}

// parseStringAssignment parses `= STRINGVALUE [;]`, the only assignment
// form a recognized key currently needs.
func (p *parser) parseStringAssignment() (string, error) {
	p.skipWhite()
	if !p.checkSymbol("=") {
		return "", p.errorf("'=' expected")
	}
	val, err := p.parseStringValue()
	if err != nil {
		return "", err
	}
	p.skipWhite()
	p.checkSymbol(";") // terminator is optional (§6)
	return val, nil
}

// parseStringValue parses one or more double-quoted string constants
// joined by `+` (§6).
func (p *parser) parseStringValue() (string, error) {
	var result []byte
	for {
		p.skipSpaces()
		if !p.checkSymbol("\"") {
			return "", p.errorf("string constant expected")
		}
		start := p.pos
		p.readTo("\"")
		if p.pos >= len(p.buf) {
			return "", p.errorf("end of string not found")
		}
		result = append(result, p.buf[start:p.pos]...)
		p.checkSymbol("\"") // closing quote

		p.skipSpaces()
		if !p.checkSymbol("+") {
			break
		}
	}
	return string(result), nil
}
