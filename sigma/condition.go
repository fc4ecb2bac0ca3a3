package sigma

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxConditionClauses bounds the size of the disjunctive normal form a
// condition may expand to
const MaxConditionClauses = 256

var (
	// ErrNegation is returned for conditions using "not"; negated blocks have
	// no equivalent in a positive DNF of subrules
	ErrNegation = errors.New("negation is not supported")
	// ErrAggregation is returned for conditions carrying a "| count()" style pipe
	ErrAggregation = errors.New("aggregation pipes are not supported")
)

type tokenType int

const (
	tokenEOF tokenType = iota
	tokenIdent
	tokenNumber
	tokenAnd
	tokenOr
	tokenNot
	tokenOf
	tokenAll
	tokenAny
	tokenThem
	tokenLParen
	tokenRParen
	tokenPipe
)

type token struct {
	typ tokenType
	val string
	pos int
}

var keywords = map[string]tokenType{
	"and":  tokenAnd,
	"or":   tokenOr,
	"not":  tokenNot,
	"of":   tokenOf,
	"all":  tokenAll,
	"any":  tokenAny,
	"them": tokenThem,
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '*' || c == '-' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// tokenize splits a condition expression into tokens
func tokenize(expr string) ([]token, error) {
	var tokens []token
	for i := 0; i < len(expr); {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{typ: tokenLParen, val: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{typ: tokenRParen, val: ")", pos: i})
			i++
		case c == '|':
			// everything after a pipe is an aggregation expression
			tokens = append(tokens, token{typ: tokenPipe, val: "|", pos: i})
			return append(tokens, token{typ: tokenEOF, pos: len(expr)}), nil
		case isIdentByte(c):
			start := i
			for i < len(expr) && isIdentByte(expr[i]) {
				i++
			}
			word := expr[start:i]
			if typ, ok := keywords[strings.ToLower(word)]; ok {
				tokens = append(tokens, token{typ: typ, val: word, pos: start})
			} else if _, err := strconv.Atoi(word); err == nil {
				tokens = append(tokens, token{typ: tokenNumber, val: word, pos: start})
			} else {
				tokens = append(tokens, token{typ: tokenIdent, val: word, pos: start})
			}
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
		}
	}
	return append(tokens, token{typ: tokenEOF, pos: len(expr)}), nil
}

// dnf is an OR of AND-clauses of names
type dnf [][]string

func (d dnf) or(other dnf) (dnf, error) {
	out := make(dnf, 0, len(d)+len(other))
	out = append(out, d...)
	out = append(out, other...)
	return dedupeClauses(out)
}

func (d dnf) and(other dnf) (dnf, error) {
	if len(d)*len(other) > MaxConditionClauses {
		return nil, fmt.Errorf("condition expands to more than %d clauses", MaxConditionClauses)
	}
	out := make(dnf, 0, len(d)*len(other))
	for _, left := range d {
		for _, right := range other {
			out = append(out, mergeClause(left, right))
		}
	}
	return dedupeClauses(out)
}

func mergeClause(left, right []string) []string {
	out := make([]string, 0, len(left)+len(right))
	seen := make(map[string]bool, len(left)+len(right))
	for _, name := range append(append([]string(nil), left...), right...) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func dedupeClauses(d dnf) (dnf, error) {
	if len(d) > MaxConditionClauses {
		return nil, fmt.Errorf("condition expands to more than %d clauses", MaxConditionClauses)
	}
	out := d[:0:0]
	seen := make(map[string]bool, len(d))
	for _, clause := range d {
		sorted := append([]string(nil), clause...)
		sort.Strings(sorted)
		key := strings.Join(sorted, "\x00")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, clause)
	}
	return out, nil
}

// conditionParser is a recursive descent parser over the condition grammar:
//
//	expr    := andExpr ("or" andExpr)*
//	andExpr := unary ("and" unary)*
//	unary   := "not" unary | primary
//	primary := "(" expr ")" | quant "of" (ident | "them") | ident
//	quant   := number | "all" | "any"
type conditionParser struct {
	tokens []token
	pos    int
	blocks map[string]dnf
	names  []string
}

// ParseCondition translates a SIGMA condition expression into disjunctive
// normal form. blocks maps every detection identifier to its own DNF; the
// result is expressed in the names those DNFs use.
func ParseCondition(expr string, blocks map[string][][]string) ([][]string, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}

	p := &conditionParser{tokens: tokens, blocks: make(map[string]dnf, len(blocks))}
	for name, d := range blocks {
		p.blocks[name] = d
		p.names = append(p.names, name)
	}
	sort.Strings(p.names)

	result, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	switch tok := p.peek(); tok.typ {
	case tokenEOF:
	case tokenPipe:
		return nil, ErrAggregation
	default:
		return nil, fmt.Errorf("unexpected %q at position %d", tok.val, tok.pos)
	}
	return result, nil
}

func (p *conditionParser) peek() token {
	return p.tokens[p.pos]
}

func (p *conditionParser) next() token {
	tok := p.tokens[p.pos]
	if tok.typ != tokenEOF {
		p.pos++
	}
	return tok
}

func (p *conditionParser) parseOr() (dnf, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().typ == tokenOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		if left, err = left.or(right); err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *conditionParser) parseAnd() (dnf, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().typ == tokenAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if left, err = left.and(right); err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *conditionParser) parseUnary() (dnf, error) {
	if p.peek().typ == tokenNot {
		return nil, ErrNegation
	}
	return p.parsePrimary()
}

func (p *conditionParser) parsePrimary() (dnf, error) {
	tok := p.next()
	switch tok.typ {
	case tokenLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.typ != tokenRParen {
			return nil, fmt.Errorf("expected ')' at position %d", closing.pos)
		}
		return inner, nil
	case tokenNumber, tokenAll, tokenAny:
		return p.parseQuantifier(tok)
	case tokenIdent:
		if strings.Contains(tok.val, "*") {
			return nil, fmt.Errorf("wildcard identifier %q needs a quantifier", tok.val)
		}
		d, ok := p.blocks[tok.val]
		if !ok {
			return nil, fmt.Errorf("unknown detection identifier %q", tok.val)
		}
		return d, nil
	case tokenPipe:
		return nil, ErrAggregation
	case tokenEOF:
		return nil, errors.New("unexpected end of condition")
	default:
		return nil, fmt.Errorf("unexpected %q at position %d", tok.val, tok.pos)
	}
}

func (p *conditionParser) parseQuantifier(quant token) (dnf, error) {
	if of := p.next(); of.typ != tokenOf {
		return nil, fmt.Errorf("expected 'of' at position %d", of.pos)
	}

	var matched []string
	switch target := p.next(); target.typ {
	case tokenThem:
		for _, name := range p.names {
			if !strings.HasPrefix(name, "_") {
				matched = append(matched, name)
			}
		}
	case tokenIdent:
		matched = p.match(target.val)
	default:
		return nil, fmt.Errorf("expected identifier or 'them' at position %d", target.pos)
	}
	if len(matched) == 0 {
		return nil, errors.New("quantified pattern matches no detection identifier")
	}

	n := 1
	switch quant.typ {
	case tokenAll:
		n = len(matched)
	case tokenNumber:
		n, _ = strconv.Atoi(quant.val)
		if n < 1 || n > len(matched) {
			return nil, fmt.Errorf("cannot take %d of %d identifiers", n, len(matched))
		}
	}
	return p.combinations(matched, n)
}

// combinations returns the OR over every n-sized subset of names, each
// subset being the AND of its members
func (p *conditionParser) combinations(names []string, n int) (dnf, error) {
	var (
		result dnf
		pick   func(start, depth int, acc dnf) error
	)
	pick = func(start, depth int, acc dnf) error {
		if depth == n {
			var err error
			result, err = result.or(acc)
			return err
		}
		for i := start; i < len(names); i++ {
			d, err := acc.and(p.blocks[names[i]])
			if err != nil {
				return err
			}
			if err := pick(i+1, depth+1, d); err != nil {
				return err
			}
		}
		return nil
	}

	if err := pick(0, 0, dnf{{}}); err != nil {
		return nil, err
	}
	return result, nil
}

// match returns the identifiers matching a pattern where '*' spans any run
func (p *conditionParser) match(pattern string) []string {
	var out []string
	for _, name := range p.names {
		if wildcardMatch(pattern, name) {
			out = append(out, name)
		}
	}
	return out
}

func wildcardMatch(pattern, s string) bool {
	segments := strings.Split(pattern, "*")
	if len(segments) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, segments[0]) {
		return false
	}
	s = s[len(segments[0]):]
	last := segments[len(segments)-1]
	for _, seg := range segments[1 : len(segments)-1] {
		idx := strings.Index(s, seg)
		if idx < 0 {
			return false
		}
		s = s[idx+len(seg):]
	}
	return strings.HasSuffix(s, last)
}
