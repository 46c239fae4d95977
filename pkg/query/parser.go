package query

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/lidarserv/lidarserv/internal/errs"
	"github.com/lidarserv/lidarserv/pkg/attrindex"
)

// tokKind is the closed set of lexical token kinds the grammar needs.
type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokNumber
	tokLParen
	tokRParen
	tokComma
	tokBang
	tokAnd
	tokOr
	tokEq
	tokNe
	tokLt
	tokLe
	tokGt
	tokGe
)

type token struct {
	kind tokKind
	text string
}

// lexer tokenises the query grammar's textual form. Identifiers are
// case-sensitive runs of letters, digits and underscores, starting with a
// letter or underscore; keywords ("and"/"or") are recognised as
// lowercase identifiers.
type lexer struct {
	src []rune
	pos int
}

func newLexer(s string) *lexer { return &lexer{src: []rune(s)} }

func (l *lexer) peekRune() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && unicode.IsSpace(l.src[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF}, nil
	}
	c := l.src[l.pos]
	switch {
	case c == '(':
		l.pos++
		return token{kind: tokLParen}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen}, nil
	case c == ',':
		l.pos++
		return token{kind: tokComma}, nil
	case c == '=':
		l.pos++
		if l.peekRune() == '=' {
			l.pos++
		}
		return token{kind: tokEq}, nil
	case c == '!' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '=':
		l.pos += 2
		return token{kind: tokNe}, nil
	case c == '<':
		l.pos++
		if l.peekRune() == '=' {
			l.pos++
			return token{kind: tokLe}, nil
		}
		return token{kind: tokLt}, nil
	case c == '>':
		l.pos++
		if l.peekRune() == '=' {
			l.pos++
			return token{kind: tokGe}, nil
		}
		return token{kind: tokGt}, nil
	case c == '!' || c == '~':
		l.pos++
		return token{kind: tokBang}, nil
	case c == '-' || c == '+' || unicode.IsDigit(c):
		return l.lexNumber()
	case unicode.IsLetter(c) || c == '_':
		return l.lexIdent()
	default:
		return token{}, errs.Newf(errs.KindProtocol, "query: unexpected character %q", c)
	}
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	if l.src[l.pos] == '-' || l.src[l.pos] == '+' {
		l.pos++
	}
	for l.pos < len(l.src) && (unicode.IsDigit(l.src[l.pos]) || l.src[l.pos] == '.' || l.src[l.pos] == 'e' || l.src[l.pos] == 'E' ||
		((l.src[l.pos] == '-' || l.src[l.pos] == '+') && l.pos > start && (l.src[l.pos-1] == 'e' || l.src[l.pos-1] == 'E'))) {
		l.pos++
	}
	return token{kind: tokNumber, text: string(l.src[start:l.pos])}, nil
}

func (l *lexer) lexIdent() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && (unicode.IsLetter(l.src[l.pos]) || unicode.IsDigit(l.src[l.pos]) || l.src[l.pos] == '_') {
		l.pos++
	}
	text := string(l.src[start:l.pos])
	switch text {
	case "and":
		return token{kind: tokAnd}, nil
	case "or":
		return token{kind: tokOr}, nil
	default:
		return token{kind: tokIdent, text: text}, nil
	}
}

// parser implements the recursive-descent grammar from spec §6, tightest
// precedence first: parentheses, "!", "and", "or".
type parser struct {
	lex *lexer
	cur token
}

// Parse compiles a query string into its AST.
func Parse(src string) (Expr, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokEOF {
		return nil, errs.Newf(errs.KindProtocol, "query: unexpected trailing token %q", p.cur.text)
	}
	return expr, nil
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = t
	return nil
}

func (p *parser) expect(k tokKind, what string) error {
	if p.cur.kind != k {
		return errs.Newf(errs.KindProtocol, "query: expected %s, got %q", what, p.cur.text)
	}
	return p.advance()
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Or{L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = And{L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.cur.kind == tokBang {
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		return Not{X: x}, nil
	}
	return p.parseAtom()
}

func (p *parser) parseAtom() (Expr, error) {
	switch p.cur.kind {
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return inner, nil
	case tokIdent:
		return p.parseKeywordAtom()
	default:
		return nil, errs.Newf(errs.KindProtocol, "query: unexpected token %q in atom position", p.cur.text)
	}
}

func (p *parser) parseKeywordAtom() (Expr, error) {
	name := p.cur.text
	switch name {
	case "empty":
		if err := p.advance(); err != nil {
			return nil, err
		}
		return Empty{}, nil
	case "full":
		if err := p.advance(); err != nil {
			return nil, err
		}
		return Full{}, nil
	case "lod":
		return p.parseLod()
	case "aabb":
		return p.parseAabb()
	case "view_frustum":
		return p.parseViewFrustum()
	case "attr":
		return p.parseAttr()
	default:
		return nil, errs.Newf(errs.KindProtocol, "query: unknown keyword %q", name)
	}
}

func (p *parser) parseLod() (Expr, error) {
	if err := p.advance(); err != nil { // consume "lod"
		return nil, err
	}
	if err := p.expect(tokLParen, "("); err != nil {
		return nil, err
	}
	n, err := p.parseUint()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}
	return Lod{K: uint8(n)}, nil
}

func (p *parser) parseAabb() (Expr, error) {
	if err := p.advance(); err != nil { // consume "aabb"
		return nil, err
	}
	if err := p.expect(tokLParen, "("); err != nil {
		return nil, err
	}
	min, err := p.parseVec3()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokComma, ","); err != nil {
		return nil, err
	}
	max, err := p.parseVec3()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}
	return Aabb{Min: min, Max: max}, nil
}

// parseVec3 parses "x y z" (space separated, no enclosing punctuation,
// since the triples are already grouped by aabb's own parens/commas).
func (p *parser) parseVec3() (Vec3, error) {
	x, err := p.parseFloat()
	if err != nil {
		return Vec3{}, err
	}
	y, err := p.parseFloat()
	if err != nil {
		return Vec3{}, err
	}
	z, err := p.parseFloat()
	if err != nil {
		return Vec3{}, err
	}
	return Vec3{X: x, Y: y, Z: z}, nil
}

// parseViewFrustum parses a flat comma-separated argument list of 15
// numbers: camera_pos(3) camera_dir(3) camera_up(3) fov_y z_near z_far
// window_width_pixels window_height_pixels min_distance_pixels.
func (p *parser) parseViewFrustum() (Expr, error) {
	if err := p.advance(); err != nil { // consume "view_frustum"
		return nil, err
	}
	if err := p.expect(tokLParen, "("); err != nil {
		return nil, err
	}
	nums := make([]float64, 0, 15)
	for {
		v, err := p.parseFloat()
		if err != nil {
			return nil, err
		}
		nums = append(nums, v)
		if p.cur.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}
	if len(nums) != 15 {
		return nil, errs.Newf(errs.KindProtocol, "query: view_frustum expects 15 numbers, got %d", len(nums))
	}
	return ViewFrustum{
		CameraPos:          Vec3{nums[0], nums[1], nums[2]},
		CameraDir:          Vec3{nums[3], nums[4], nums[5]},
		CameraUp:           Vec3{nums[6], nums[7], nums[8]},
		FovY:               nums[9],
		ZNear:              nums[10],
		ZFar:               nums[11],
		WindowWidthPixels:  nums[12],
		WindowHeightPixels: nums[13],
		MinDistancePixels:  nums[14],
	}, nil
}

func (p *parser) parseAttr() (Expr, error) {
	if err := p.advance(); err != nil { // consume "attr"
		return nil, err
	}
	if err := p.expect(tokLParen, "("); err != nil {
		return nil, err
	}
	expr, err := p.parseCmp()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}
	return expr, nil
}

// parseCmp parses either "name OP value" or "value OP name OP value" (the
// chained-range form), per spec §6's cmp production.
func (p *parser) parseCmp() (Attr, error) {
	if p.cur.kind == tokIdent {
		savedTok := p.cur
		savedPos := p.lex.pos
		name := p.cur.text
		if err := p.advance(); err != nil {
			return Attr{}, err
		}
		op, ok := p.tryCompareOp()
		if ok {
			val, err := p.parseFloat()
			if err != nil {
				return Attr{}, err
			}
			return Attr{Name: name, Op: op}.withValue(val), nil
		}
		p.cur = savedTok
		p.lex.pos = savedPos
	}

	low, err := p.parseFloat()
	if err != nil {
		return Attr{}, err
	}
	lowOp, ok := p.tryCompareOp()
	if !ok || (lowOp != attrindex.OpLt && lowOp != attrindex.OpLe) {
		return Attr{}, errs.Newf(errs.KindProtocol, "query: expected < or <= in chained range comparison")
	}
	if p.cur.kind != tokIdent {
		return Attr{}, errs.Newf(errs.KindProtocol, "query: expected attribute name in chained range comparison")
	}
	name := p.cur.text
	if err := p.advance(); err != nil {
		return Attr{}, err
	}
	highOp, ok := p.tryCompareOp()
	if !ok || (highOp != attrindex.OpLt && highOp != attrindex.OpLe) {
		return Attr{}, errs.Newf(errs.KindProtocol, "query: expected < or <= in chained range comparison")
	}
	high, err := p.parseFloat()
	if err != nil {
		return Attr{}, err
	}
	return Attr{Name: name, IsRange: true, LowOp: lowOp, LowValue: low, HighOp: highOp, HighValue: high}, nil
}

func (a Attr) withValue(v float64) Attr {
	a.Value = v
	return a
}

func (p *parser) tryCompareOp() (attrindex.CompareOp, bool) {
	switch p.cur.kind {
	case tokEq:
		p.advance()
		return attrindex.OpEq, true
	case tokNe:
		p.advance()
		return attrindex.OpNe, true
	case tokLt:
		p.advance()
		return attrindex.OpLt, true
	case tokLe:
		p.advance()
		return attrindex.OpLe, true
	case tokGt:
		p.advance()
		return attrindex.OpGt, true
	case tokGe:
		p.advance()
		return attrindex.OpGe, true
	default:
		return 0, false
	}
}

func (p *parser) parseUint() (uint64, error) {
	if p.cur.kind != tokNumber {
		return 0, errs.Newf(errs.KindProtocol, "query: expected number, got %q", p.cur.text)
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(p.cur.text, "+"), 10, 8)
	if err != nil {
		return 0, errs.Newf(errs.KindProtocol, "query: bad integer %q: %v", p.cur.text, err)
	}
	if err := p.advance(); err != nil {
		return 0, err
	}
	return v, nil
}

func (p *parser) parseFloat() (float64, error) {
	if p.cur.kind != tokNumber {
		return 0, errs.Newf(errs.KindProtocol, "query: expected number, got %q", p.cur.text)
	}
	v, err := strconv.ParseFloat(p.cur.text, 64)
	if err != nil {
		return 0, errs.Newf(errs.KindProtocol, "query: bad number %q: %v", p.cur.text, err)
	}
	if err := p.advance(); err != nil {
		return 0, err
	}
	return v, nil
}

// String renders e back into the textual grammar, mostly for logging and
// tests.
func String(e Expr) string {
	switch v := e.(type) {
	case Empty:
		return "empty"
	case Full:
		return "full"
	case Lod:
		return fmt.Sprintf("lod(%d)", v.K)
	case Aabb:
		return fmt.Sprintf("aabb(%g %g %g,%g %g %g)", v.Min.X, v.Min.Y, v.Min.Z, v.Max.X, v.Max.Y, v.Max.Z)
	case ViewFrustum:
		return "view_frustum(...)"
	case Attr:
		if v.IsRange {
			return fmt.Sprintf("attr(%g<%s<%g)", v.LowValue, v.Name, v.HighValue)
		}
		return fmt.Sprintf("attr(%s%s%g)", v.Name, opString(v.Op), v.Value)
	case Not:
		return "!" + String(v.X)
	case And:
		return "(" + String(v.L) + " and " + String(v.R) + ")"
	case Or:
		return "(" + String(v.L) + " or " + String(v.R) + ")"
	default:
		return "?"
	}
}

func opString(op attrindex.CompareOp) string {
	switch op {
	case attrindex.OpEq:
		return "=="
	case attrindex.OpNe:
		return "!="
	case attrindex.OpLt:
		return "<"
	case attrindex.OpLe:
		return "<="
	case attrindex.OpGt:
		return ">"
	case attrindex.OpGe:
		return ">="
	default:
		return "?"
	}
}
