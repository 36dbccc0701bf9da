package asm

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"ss16/pkg/isa"
)

type parsedLine struct {
	lineNo   int
	labels   []string
	mnemonic string
	operands []string
}

// operand is one decoded instruction operand.
type operand struct {
	mode    isa.AddrMode
	reg     uint8
	literal uint16
	symbol  string
}

func parseLine(raw string, lineNo int) (parsedLine, error) {
	p := parsedLine{lineNo: lineNo}

	line := strings.TrimSpace(stripComments(raw))
	if line == "" {
		return p, nil
	}

	for {
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			break
		}

		label := strings.TrimSpace(line[:colon])
		if strings.ContainsAny(label, " \t") {
			break
		}
		if !isIdentifier(label) {
			return p, fmt.Errorf("invalid label '%s' on line %d", label, lineNo)
		}

		p.labels = append(p.labels, label)
		line = strings.TrimSpace(line[colon+1:])
		if line == "" {
			return p, nil
		}
	}

	head, rest := line, ""
	if sp := strings.IndexAny(line, " \t"); sp >= 0 {
		head, rest = line[:sp], line[sp+1:]
	}
	p.mnemonic = strings.ToLower(head)

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return p, nil
	}
	for _, op := range strings.Split(rest, ",") {
		op = strings.TrimSpace(op)
		if op == "" {
			return p, fmt.Errorf("empty operand on line %d", lineNo)
		}
		p.operands = append(p.operands, op)
	}
	return p, nil
}

func stripComments(line string) string {
	if hash := strings.IndexByte(line, '#'); hash >= 0 {
		return line[:hash]
	}
	return line
}

// parseOperand decodes one operand. Control-transfer instructions use a
// separate set of addressing modes, so the same text maps to different modes
// depending on jump.
func parseOperand(text string, jump bool, lineNo int) (operand, error) {
	var op operand
	switch {
	case strings.HasPrefix(text, "$"):
		if jump {
			return op, fmt.Errorf("immediate operand %s not allowed for jump instruction on line %d", text, lineNo)
		}
		body := strings.TrimSpace(text[1:])
		if isLiteral(body) {
			v, err := parseLiteral(body, lineNo)
			op.mode, op.literal = isa.Immediate, v
			return op, err
		}
		if !isIdentifier(body) {
			return op, fmt.Errorf("expected literal or symbol after '$' on line %d", lineNo)
		}
		op.mode, op.symbol = isa.ImmediateSymbol, body
		return op, nil

	case strings.HasPrefix(text, "%"):
		body := strings.TrimSpace(text[1:])
		if !isIdentifier(body) {
			return op, fmt.Errorf("expected symbol after '%%' on line %d", lineNo)
		}
		op.mode, op.symbol = isa.MemDirSymbolPCRel, body
		if jump {
			op.mode = isa.ImmediateSymbolPCRelJmp
		}
		return op, nil

	case strings.HasPrefix(text, "*"):
		if !jump {
			return op, fmt.Errorf("'*' operand not allowed for data instruction on line %d", lineNo)
		}
		body := strings.TrimSpace(text[1:])
		if strings.HasPrefix(body, "[") {
			return parseRegisterExpression(body, true, lineNo)
		}
		if r, ok := isa.ParseRegister(body); ok {
			op.mode, op.reg = isa.RegDirJmp, r
			return op, nil
		}
		if isLiteral(body) {
			v, err := parseLiteral(body, lineNo)
			op.mode, op.literal = isa.MemDirLiteralJmp, v
			return op, err
		}
		if !isIdentifier(body) {
			return op, fmt.Errorf("invalid operand '%s' on line %d", text, lineNo)
		}
		op.mode, op.symbol = isa.MemDirSymbolJmp, body
		return op, nil

	case strings.HasPrefix(text, "["):
		if jump {
			return op, fmt.Errorf("'[' operand requires '*' for jump instruction on line %d", lineNo)
		}
		return parseRegisterExpression(text, false, lineNo)
	}

	if r, ok := isa.ParseRegister(text); ok {
		op.mode, op.reg = isa.RegDir, r
		return op, nil
	}
	if isLiteral(text) {
		v, err := parseLiteral(text, lineNo)
		op.mode, op.literal = isa.MemDirLiteral, v
		if jump {
			op.mode = isa.ImmediateJmp
		}
		return op, err
	}
	if !isIdentifier(text) {
		return op, fmt.Errorf("invalid operand '%s' on line %d", text, lineNo)
	}
	op.mode, op.symbol = isa.MemDirSymbolAbs, text
	if jump {
		op.mode = isa.ImmediateSymbolAbsJmp
	}
	return op, nil
}

// parseRegisterExpression handles [reg], [reg + literal] and [reg + symbol].
func parseRegisterExpression(text string, jump bool, lineNo int) (operand, error) {
	var op operand
	if !strings.HasSuffix(text, "]") {
		return op, fmt.Errorf("expected ']' on line %d", lineNo)
	}
	inner := strings.TrimSpace(text[1 : len(text)-1])
	regText, offText, hasOffset := strings.Cut(inner, "+")

	r, ok := isa.ParseRegister(strings.TrimSpace(regText))
	if !ok {
		return op, fmt.Errorf("invalid register '%s' on line %d", strings.TrimSpace(regText), lineNo)
	}
	op.reg = r

	if !hasOffset {
		op.mode = isa.RegInd
		if jump {
			op.mode = isa.RegIndJmp
		}
		return op, nil
	}

	offText = strings.TrimSpace(offText)
	if isLiteral(offText) {
		v, err := parseLiteral(offText, lineNo)
		op.mode, op.literal = isa.RegIndLiteral, v
		if jump {
			op.mode = isa.RegIndLiteralJmp
		}
		return op, err
	}
	if !isIdentifier(offText) {
		return op, fmt.Errorf("expected literal or symbol after '+' on line %d", lineNo)
	}
	op.mode, op.symbol = isa.RegIndSymbol, offText
	if jump {
		op.mode = isa.RegIndSymbolJmp
	}
	return op, nil
}

func isLiteral(s string) bool {
	s = strings.TrimLeft(s, "+-")
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

// parseLiteral accepts decimal or 0x-prefixed hex with an optional sign.
// Values must fit in 16 bits; negative values are stored two's complement.
func parseLiteral(token string, lineNo int) (uint16, error) {
	s := strings.TrimSpace(token)
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = strings.TrimSpace(s[1:])
	}

	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		s = s[2:]
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid literal '%s' on line %d", token, lineNo)
	}
	if v > 0xFFFF || (neg && v > 0x8000) {
		return 0, fmt.Errorf("literal %s out of 16-bit range on line %d", token, lineNo)
	}
	if neg {
		return uint16(-int32(v)), nil
	}
	return uint16(v), nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' && r != '.' {
				return false
			}
			continue
		}

		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' {
			return false
		}
	}

	return true
}
