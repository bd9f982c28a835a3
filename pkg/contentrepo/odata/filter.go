package odata

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tendant/content-odata/pkg/contentrepo"
	"github.com/tendant/content-odata/pkg/contentrepo/schema"
)

// typesKey holds the type ancestry of the evaluated content for isof.
const typesKey = "__types"

// DefaultFilterCacheSize is the number of compiled filters kept.
const DefaultFilterCacheSize = 256

// FilterCompiler turns $filter expressions into content predicates. The
// expressions are translated to CEL; compiled programs are cached by the
// expression text.
type FilterCompiler struct {
	env   *cel.Env
	cache *lru.Cache[string, cel.Program]
}

// NewFilterCompiler creates a compiler caching up to size programs.
func NewFilterCompiler(size int) (*FilterCompiler, error) {
	if size <= 0 {
		size = DefaultFilterCacheSize
	}
	env, err := cel.NewEnv(
		cel.Variable("f", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
		ext.Strings(),
		filterFunctions(),
	)
	if err != nil {
		return nil, fmt.Errorf("create filter environment: %w", err)
	}
	cache, err := lru.New[string, cel.Program](size)
	if err != nil {
		return nil, err
	}
	return &FilterCompiler{env: env, cache: cache}, nil
}

// Compile returns the program of a $filter expression.
func (fc *FilterCompiler) Compile(filter string) (cel.Program, error) {
	if prg, ok := fc.cache.Get(filter); ok {
		return prg, nil
	}
	expr, err := TranslateFilter(filter)
	if err != nil {
		return nil, err
	}
	ast, iss := fc.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, badRequest(CodeInvalidFilterParameter, "invalid $filter: %v", iss.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, badRequest(CodeInvalidFilterParameter, "$filter must be a boolean expression")
	}
	prg, err := fc.env.Program(ast)
	if err != nil {
		return nil, badRequest(CodeInvalidFilterParameter, "invalid $filter: %v", err)
	}
	fc.cache.Add(filter, prg)
	return prg, nil
}

// Predicate compiles a $filter expression into a content predicate. A
// content whose evaluation fails does not match.
func (fc *FilterCompiler) Predicate(filter string) (func(*contentrepo.Content) bool, error) {
	prg, err := fc.Compile(filter)
	if err != nil {
		return nil, err
	}
	return func(c *contentrepo.Content) bool {
		out, _, err := prg.Eval(map[string]any{"f": filterValues(c)})
		if err != nil {
			return false
		}
		b, ok := out.Value().(bool)
		return ok && b
	}, nil
}

// filterFunctions declares the helpers translated filters call:
// versionKey orders version numbers numerically, odataSubstring clamps its
// bounds to the string.
func filterFunctions() cel.EnvOption {
	return cel.Lib(filterLib{})
}

type filterLib struct{}

func (filterLib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		cel.Function("versionKey",
			cel.Overload("versionKey_dyn", []*cel.Type{cel.DynType}, cel.DynType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					if s, ok := v.(types.String); ok {
						return types.String(schema.VersionSortKey(string(s)))
					}
					return v
				}))),
		cel.Function("odataSubstring",
			cel.Overload("odataSubstring_string_int", []*cel.Type{cel.StringType, cel.IntType}, cel.StringType,
				cel.BinaryBinding(func(s, start ref.Val) ref.Val {
					str, ok1 := s.(types.String)
					from, ok2 := start.(types.Int)
					if !ok1 || !ok2 {
						return types.NewErr("substring: invalid arguments")
					}
					rs := []rune(string(str))
					return types.String(substring(rs, int(from), len(rs)))
				})),
			cel.Overload("odataSubstring_string_int_int", []*cel.Type{cel.StringType, cel.IntType, cel.IntType}, cel.StringType,
				cel.FunctionBinding(func(args ...ref.Val) ref.Val {
					str, ok1 := args[0].(types.String)
					from, ok2 := args[1].(types.Int)
					n, ok3 := args[2].(types.Int)
					if !ok1 || !ok2 || !ok3 {
						return types.NewErr("substring: invalid arguments")
					}
					return types.String(substring([]rune(string(str)), int(from), int(n)))
				}))),
	}
}

func (filterLib) ProgramOptions() []cel.ProgramOption { return nil }

// substring returns up to n runes starting at from, clamped to rs.
func substring(rs []rune, from, n int) string {
	if from < 0 {
		from = 0
	}
	if from > len(rs) {
		return ""
	}
	if n < 0 {
		n = 0
	}
	end := from + n
	if end > len(rs) || end < from {
		end = len(rs)
	}
	return string(rs[from:end])
}

// filterValues exposes the comparable values of every field.
func filterValues(c *contentrepo.Content) map[string]any {
	values := make(map[string]any, len(c.Type.FieldSettings)+1)
	for _, f := range c.Fields() {
		values[f.Name()] = f.Comparable()
	}
	ancestry := c.Type.Ancestry()
	names := make([]any, len(ancestry))
	for i, t := range ancestry {
		names[i] = t
	}
	values[typesKey] = names
	return values
}

// TranslateFilter translates an OData $filter expression into CEL.
func TranslateFilter(filter string) (string, error) {
	toks, err := lexFilter(filter)
	if err != nil {
		return "", badRequest(CodeInvalidFilterParameter, "invalid $filter: %v", err)
	}
	p := &filterParser{toks: toks}
	expr, err := p.parseOr()
	if err == nil && p.peek().kind != tokEOF {
		err = fmt.Errorf("unexpected %q at %d", p.peek().text, p.peek().pos)
	}
	if err != nil {
		return "", badRequest(CodeInvalidFilterParameter, "invalid $filter: %v", err)
	}
	return expr, nil
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokString
	tokInt
	tokDecimal
	tokDateTime
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokKind
	text string
	pos  int
}

func lexFilter(s string) ([]token, error) {
	var toks []token
	rs := []rune(s)
	for i := 0; i < len(rs); {
		c := rs[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++
		case c == '\'':
			text, next, err := lexString(rs, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{tokString, text, i})
			i = next
		case unicode.IsDigit(c) || (c == '-' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			start := i
			i++
			kind := tokInt
			for i < len(rs) && (unicode.IsDigit(rs[i]) || rs[i] == '.' || rs[i] == 'e' || rs[i] == 'E') {
				if rs[i] == '.' || rs[i] == 'e' || rs[i] == 'E' {
					kind = tokDecimal
				}
				i++
			}
			if i < len(rs) {
				switch unicode.ToLower(rs[i]) {
				case 'm', 'd', 'f':
					kind = tokDecimal
					i++
				case 'l':
					i++
				}
			}
			text := strings.TrimRight(string(rs[start:i]), "mMdDfFlL")
			toks = append(toks, token{kind, text, start})
		case unicode.IsLetter(c) || c == '_' || c == '$':
			start := i
			for i < len(rs) && (unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i]) || rs[i] == '_' || rs[i] == '$' || rs[i] == '/' || rs[i] == '.') {
				i++
			}
			word := string(rs[start:i])
			if strings.EqualFold(word, "datetime") && i < len(rs) && rs[i] == '\'' {
				text, next, err := lexString(rs, i)
				if err != nil {
					return nil, err
				}
				toks = append(toks, token{tokDateTime, text, start})
				i = next
				continue
			}
			toks = append(toks, token{tokIdent, word, start})
		default:
			return nil, fmt.Errorf("unexpected character %q at %d", c, i)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(rs)}), nil
}

// lexString reads a quoted literal starting at rs[i]; a doubled quote escapes itself.
func lexString(rs []rune, i int) (string, int, error) {
	var b strings.Builder
	for j := i + 1; j < len(rs); j++ {
		if rs[j] != '\'' {
			b.WriteRune(rs[j])
			continue
		}
		if j+1 < len(rs) && rs[j+1] == '\'' {
			b.WriteRune('\'')
			j++
			continue
		}
		return b.String(), j + 1, nil
	}
	return "", 0, fmt.Errorf("unterminated string at %d", i)
}

type filterParser struct {
	toks []token
	pos  int
}

func (p *filterParser) peek() token { return p.toks[p.pos] }

func (p *filterParser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// keyword consumes the next token when it is one of the given operators.
func (p *filterParser) keyword(words ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokIdent {
		return "", false
	}
	for _, w := range words {
		if strings.EqualFold(t.text, w) {
			p.pos++
			return w, true
		}
	}
	return "", false
}

func (p *filterParser) expect(kind tokKind, what string) error {
	t := p.next()
	if t.kind != kind {
		return fmt.Errorf("expected %s at %d", what, t.pos)
	}
	return nil
}

func (p *filterParser) parseOr() (string, error) {
	left, err := p.parseAnd()
	if err != nil {
		return "", err
	}
	for {
		if _, ok := p.keyword("or"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return "", err
		}
		left = "(" + left + " || " + right + ")"
	}
}

func (p *filterParser) parseAnd() (string, error) {
	left, err := p.parseNot()
	if err != nil {
		return "", err
	}
	for {
		if _, ok := p.keyword("and"); !ok {
			return left, nil
		}
		right, err := p.parseNot()
		if err != nil {
			return "", err
		}
		left = "(" + left + " && " + right + ")"
	}
}

func (p *filterParser) parseNot() (string, error) {
	if _, ok := p.keyword("not"); ok {
		inner, err := p.parseNot()
		if err != nil {
			return "", err
		}
		return "!(" + inner + ")", nil
	}
	return p.parseComparison()
}

var comparisonOps = map[string]string{"eq": "==", "ne": "!=", "gt": ">", "ge": ">=", "lt": "<", "le": "<="}

func (p *filterParser) parseComparison() (string, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return "", err
	}
	op, ok := p.keyword("eq", "ne", "gt", "ge", "lt", "le")
	if !ok {
		return left, nil
	}
	right, err := p.parseAdditive()
	if err != nil {
		return "", err
	}
	if isVersionLiteral(left) || isVersionLiteral(right) {
		left, right = "versionKey("+left+")", "versionKey("+right+")"
	}
	return "(" + left + " " + comparisonOps[op] + " " + right + ")", nil
}

// isVersionLiteral reports whether a translated operand is a string literal
// holding a version number such as 'V2.0.A'.
func isVersionLiteral(expr string) bool {
	if !strings.HasPrefix(expr, `"`) {
		return false
	}
	s, err := strconv.Unquote(expr)
	if err != nil {
		return false
	}
	_, err = schema.ParseVersion(s)
	return err == nil
}

func (p *filterParser) parseAdditive() (string, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return "", err
	}
	for {
		op, ok := p.keyword("add", "sub")
		if !ok {
			return left, nil
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return "", err
		}
		sym := "+"
		if op == "sub" {
			sym = "-"
		}
		left = "(double(" + left + ") " + sym + " double(" + right + "))"
	}
}

func (p *filterParser) parseMultiplicative() (string, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return "", err
	}
	for {
		op, ok := p.keyword("mul", "div", "mod")
		if !ok {
			return left, nil
		}
		right, err := p.parsePrimary()
		if err != nil {
			return "", err
		}
		switch op {
		case "mul":
			left = "(double(" + left + ") * double(" + right + "))"
		case "div":
			left = "(double(" + left + ") / double(" + right + "))"
		case "mod":
			left = "(int(" + left + ") % int(" + right + "))"
		}
	}
}

func (p *filterParser) parsePrimary() (string, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return "", err
		}
		if err := p.expect(tokRParen, ")"); err != nil {
			return "", err
		}
		return "(" + inner + ")", nil
	case tokString:
		return strconv.Quote(t.text), nil
	case tokInt:
		if _, err := strconv.ParseInt(t.text, 10, 64); err != nil {
			return "", fmt.Errorf("invalid number %q at %d", t.text, t.pos)
		}
		return t.text, nil
	case tokDecimal:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return "", fmt.Errorf("invalid number %q at %d", t.text, t.pos)
		}
		return strconv.FormatFloat(f, 'g', -1, 64) + floatSuffix(f), nil
	case tokDateTime:
		ts, err := schema.ParseDateTime(t.text)
		if err != nil {
			return "", fmt.Errorf("invalid datetime %q at %d", t.text, t.pos)
		}
		return "timestamp(" + strconv.Quote(ts.UTC().Format(time.RFC3339Nano)) + ")", nil
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true", "false", "null":
			if p.peek().kind != tokLParen {
				return strings.ToLower(t.text), nil
			}
		}
		if p.peek().kind == tokLParen {
			p.next()
			return p.parseCall(t)
		}
		if strings.ContainsAny(t.text, "/.$") {
			return "", fmt.Errorf("unsupported member %q at %d", t.text, t.pos)
		}
		return "f[" + strconv.Quote(t.text) + "]", nil
	case tokEOF:
		return "", fmt.Errorf("unexpected end of expression")
	}
	return "", fmt.Errorf("unexpected %q at %d", t.text, t.pos)
}

// floatSuffix keeps integral decimal literals typed as double in CEL.
func floatSuffix(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if strings.ContainsAny(s, ".eEn") {
		return ""
	}
	return ".0"
}

func (p *filterParser) parseArgs() ([]string, error) {
	var args []string
	if p.peek().kind == tokRParen {
		p.next()
		return args, nil
	}
	for {
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		t := p.next()
		switch t.kind {
		case tokComma:
		case tokRParen:
			return args, nil
		default:
			return nil, fmt.Errorf("expected , or ) at %d", t.pos)
		}
	}
}

var dateParts = map[string]string{
	"year":   "getFullYear()",
	"month":  "getMonth() + 1",
	"day":    "getDate()",
	"hour":   "getHours()",
	"minute": "getMinutes()",
	"second": "getSeconds()",
}

func (p *filterParser) parseCall(fn token) (string, error) {
	name := strings.ToLower(fn.text)
	// isof takes a type name, not an expression
	if name == "isof" {
		t := p.next()
		if t.kind != tokString {
			return "", fmt.Errorf("isof expects a type name at %d", t.pos)
		}
		if err := p.expect(tokRParen, ")"); err != nil {
			return "", err
		}
		return "(" + strconv.Quote(t.text) + " in f[" + strconv.Quote(typesKey) + "])", nil
	}

	args, err := p.parseArgs()
	if err != nil {
		return "", err
	}
	arity := func(n ...int) error {
		for _, want := range n {
			if len(args) == want {
				return nil
			}
		}
		return fmt.Errorf("%s takes %v arguments, got %d", fn.text, n, len(args))
	}
	str := func(i int) string { return "string(" + args[i] + ")" }

	switch name {
	case "substringof":
		if err := arity(2); err != nil {
			return "", err
		}
		return str(1) + ".contains(" + str(0) + ")", nil
	case "startswith", "endswith", "contains":
		if err := arity(2); err != nil {
			return "", err
		}
		method := map[string]string{"startswith": "startsWith", "endswith": "endsWith", "contains": "contains"}[name]
		return str(0) + "." + method + "(" + str(1) + ")", nil
	case "tolower":
		if err := arity(1); err != nil {
			return "", err
		}
		return str(0) + ".lowerAscii()", nil
	case "toupper":
		if err := arity(1); err != nil {
			return "", err
		}
		return str(0) + ".upperAscii()", nil
	case "trim":
		if err := arity(1); err != nil {
			return "", err
		}
		return str(0) + ".trim()", nil
	case "length":
		if err := arity(1); err != nil {
			return "", err
		}
		return "size(" + str(0) + ")", nil
	case "indexof":
		if err := arity(2); err != nil {
			return "", err
		}
		return str(0) + ".indexOf(" + str(1) + ")", nil
	case "substring":
		if err := arity(2, 3); err != nil {
			return "", err
		}
		if len(args) == 2 {
			return "odataSubstring(" + str(0) + ", int(" + args[1] + "))", nil
		}
		return "odataSubstring(" + str(0) + ", int(" + args[1] + "), int(" + args[2] + "))", nil
	case "year", "month", "day", "hour", "minute", "second":
		if err := arity(1); err != nil {
			return "", err
		}
		return "(timestamp(" + args[0] + ")." + dateParts[name] + ")", nil
	}
	return "", fmt.Errorf("unknown function %q at %d", fn.text, fn.pos)
}
