package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// TypeTable maps type names appearing in YAML documents to their layouts.
// Callers merge domain-specific record types (e.g. PyObject) into the table
// returned by BuiltinTypes before loading.
type TypeTable map[string]Type

// BuiltinTypes returns the C base types every document may use.
func BuiltinTypes() TypeTable {
	return TypeTable{
		"int":        &IntType{Name: "int"},
		"long":       &IntType{Name: "long"},
		"size_t":     &IntType{Name: "size_t"},
		"Py_ssize_t": &IntType{Name: "Py_ssize_t"},
		"char":       &CharType{},
		"void":       &VoidType{},
	}
}

// ParseType resolves a type spelling such as "PyObject *" against the table.
func ParseType(spec string, types TypeTable) (Type, error) {
	s := strings.TrimSpace(spec)
	stars := 0
	for strings.HasSuffix(s, "*") {
		stars++
		s = strings.TrimSpace(strings.TrimSuffix(s, "*"))
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "struct "))
	base, ok := types[s]
	if !ok {
		return nil, fmt.Errorf("unknown type %q", spec)
	}
	t := base
	for i := 0; i < stars; i++ {
		t = &PointerType{Elem: t}
	}
	return t, nil
}

type yamlDoc struct {
	Functions []yamlFunction `yaml:"functions"`
}

type yamlFunction struct {
	Name            string     `yaml:"name"`
	File            string     `yaml:"file"`
	Returns         string     `yaml:"returns"`
	ReturnsBorrowed bool       `yaml:"returns_borrowed"`
	Steals          []int      `yaml:"steals"`
	Params          []yamlVar  `yaml:"params"`
	Locals          []yamlVar  `yaml:"locals"`
	Blocks          []yamlBlock `yaml:"blocks"`
}

type yamlVar struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type yamlBlock struct {
	Label  string      `yaml:"label"`
	Stmts  []yamlStmt  `yaml:"stmts"`
	Jump   string      `yaml:"jump"`
	Branch *yamlBranch `yaml:"branch"`
	Return *string     `yaml:"return"`
}

type yamlStmt struct {
	Assign *yamlAssign `yaml:"assign"`
	Call   *yamlCall   `yaml:"call"`
}

type yamlAssign struct {
	LHS string `yaml:"lhs"`
	RHS string `yaml:"rhs"`
}

type yamlCall struct {
	LHS  string   `yaml:"lhs"`
	Func string   `yaml:"func"`
	Args []string `yaml:"args"`
}

type yamlBranch struct {
	Cond string `yaml:"cond"`
	Then string `yaml:"then"`
	Else string `yaml:"else"`
}

// LoadFile reads a YAML document of function CFGs.
func LoadFile(path string, types TypeTable) ([]*Function, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	fns, err := Load(data, types)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fns, nil
}

// Load parses a YAML document of function CFGs.
func Load(data []byte, types TypeTable) ([]*Function, error) {
	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	if len(doc.Functions) == 0 {
		return nil, fmt.Errorf("document declares no functions")
	}
	fns := make([]*Function, 0, len(doc.Functions))
	for _, yf := range doc.Functions {
		fn, err := buildFunction(yf, types)
		if err != nil {
			return nil, fmt.Errorf("function %s: %w", yf.Name, err)
		}
		fns = append(fns, fn)
	}
	return fns, nil
}

func buildFunction(yf yamlFunction, types TypeTable) (*Function, error) {
	if yf.Name == "" {
		return nil, fmt.Errorf("missing name")
	}
	ret, err := ParseType(orDefault(yf.Returns, "void"), types)
	if err != nil {
		return nil, err
	}
	file := orDefault(yf.File, yf.Name+".c")
	fn := &Function{
		Name:            yf.Name,
		ReturnType:      ret,
		Location:        Location{File: file, Line: 1},
		ReturnsBorrowed: yf.ReturnsBorrowed,
		StealsRefs:      yf.Steals,
	}
	for _, p := range yf.Params {
		t, err := ParseType(p.Type, types)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", p.Name, err)
		}
		fn.Params = append(fn.Params, &Var{Name: p.Name, Type: t})
	}
	for _, l := range yf.Locals {
		t, err := ParseType(l.Type, types)
		if err != nil {
			return nil, fmt.Errorf("local %s: %w", l.Name, err)
		}
		fn.Locals = append(fn.Locals, &Var{Name: l.Name, Type: t})
	}

	if len(yf.Blocks) == 0 {
		return nil, fmt.Errorf("declares no blocks")
	}

	// First pass: blocks by label so forward jumps resolve.
	byLabel := make(map[string]*Block, len(yf.Blocks))
	for _, yb := range yf.Blocks {
		if yb.Label == "" {
			return nil, fmt.Errorf("block with no label")
		}
		if byLabel[yb.Label] != nil {
			return nil, fmt.Errorf("duplicate block label %s", yb.Label)
		}
		blk := &Block{Label: yb.Label}
		byLabel[yb.Label] = blk
		fn.Blocks = append(fn.Blocks, blk)
	}
	fn.Entry = fn.Blocks[0]

	line := 1
	nextLoc := func() Location {
		line++
		return Location{File: file, Line: line}
	}
	p := &exprParser{fn: fn, types: types}

	for _, yb := range yf.Blocks {
		blk := byLabel[yb.Label]
		for _, ys := range yb.Stmts {
			switch {
			case ys.Assign != nil:
				lhs, err := p.parse(ys.Assign.LHS)
				if err != nil {
					return nil, fmt.Errorf("block %s: lhs: %w", yb.Label, err)
				}
				rhs, err := p.parse(ys.Assign.RHS)
				if err != nil {
					return nil, fmt.Errorf("block %s: rhs: %w", yb.Label, err)
				}
				blk.Stmts = append(blk.Stmts, &AssignStmt{LHS: lhs, RHS: rhs, Location: nextLoc()})
			case ys.Call != nil:
				var lhs Expr
				if ys.Call.LHS != "" {
					lhs, err = p.parse(ys.Call.LHS)
					if err != nil {
						return nil, fmt.Errorf("block %s: lhs: %w", yb.Label, err)
					}
				}
				args := make([]Expr, 0, len(ys.Call.Args))
				for _, a := range ys.Call.Args {
					e, err := p.parse(a)
					if err != nil {
						return nil, fmt.Errorf("block %s: arg: %w", yb.Label, err)
					}
					args = append(args, e)
				}
				blk.Stmts = append(blk.Stmts, &CallStmt{
					LHS: lhs, Callee: ys.Call.Func, Args: args, Location: nextLoc(),
				})
			default:
				return nil, fmt.Errorf("block %s: statement is neither assign nor call", yb.Label)
			}
		}

		switch {
		case yb.Jump != "":
			target := byLabel[yb.Jump]
			if target == nil {
				return nil, fmt.Errorf("block %s: jump to unknown block %s", yb.Label, yb.Jump)
			}
			blk.Term = &Jump{Target: target, Location: nextLoc()}
		case yb.Branch != nil:
			cond, err := p.parse(yb.Branch.Cond)
			if err != nil {
				return nil, fmt.Errorf("block %s: cond: %w", yb.Label, err)
			}
			then := byLabel[yb.Branch.Then]
			els := byLabel[yb.Branch.Else]
			if then == nil || els == nil {
				return nil, fmt.Errorf("block %s: branch to unknown block", yb.Label)
			}
			blk.Term = &Branch{Cond: cond, Then: then, Else: els, Location: nextLoc()}
		case yb.Return != nil:
			var v Expr
			if *yb.Return != "" && *yb.Return != "void" {
				v, err = p.parse(*yb.Return)
				if err != nil {
					return nil, fmt.Errorf("block %s: return: %w", yb.Label, err)
				}
			}
			blk.Term = &Return{Value: v, Location: nextLoc()}
		default:
			return nil, fmt.Errorf("block %s has no terminator", yb.Label)
		}
	}
	return fn, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// exprParser handles the small expression grammar used in YAML documents:
// identifiers, member access (a->b), indexing (a[i]), integer and string
// literals, NULL, and one binary operator.
type exprParser struct {
	fn    *Function
	types TypeTable

	toks []string
	pos  int
}

func (p *exprParser) parse(src string) (Expr, error) {
	p.toks = lexExpr(src)
	p.pos = 0
	if len(p.toks) == 0 {
		return nil, fmt.Errorf("empty expression")
	}
	e, err := p.postfix()
	if err != nil {
		return nil, err
	}
	if op, ok := p.peekOp(); ok {
		p.pos++
		rhs, err := p.postfix()
		if err != nil {
			return nil, err
		}
		e = &BinOp{Op: op, X: e, Y: rhs}
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("trailing tokens in %q", src)
	}
	return e, nil
}

var exprOps = map[string]Op{
	"+": OpAdd, "-": OpSub,
	"==": OpEq, "!=": OpNe,
	"<": OpLt, "<=": OpLe, ">": OpGt, ">=": OpGe,
}

func (p *exprParser) peekOp() (Op, bool) {
	if p.pos >= len(p.toks) {
		return 0, false
	}
	op, ok := exprOps[p.toks[p.pos]]
	return op, ok
}

func (p *exprParser) postfix() (Expr, error) {
	e, err := p.primary()
	if err != nil {
		return nil, err
	}
	for p.pos < len(p.toks) {
		switch p.toks[p.pos] {
		case "->":
			p.pos++
			if p.pos >= len(p.toks) {
				return nil, fmt.Errorf("dangling ->")
			}
			e = &FieldRef{Target: e, Field: p.toks[p.pos]}
			p.pos++
		case "[":
			p.pos++
			idx, err := p.primary()
			if err != nil {
				return nil, err
			}
			if p.pos >= len(p.toks) || p.toks[p.pos] != "]" {
				return nil, fmt.Errorf("missing ]")
			}
			p.pos++
			e = &IndexRef{Target: e, Index: idx}
		default:
			return e, nil
		}
	}
	return e, nil
}

func (p *exprParser) primary() (Expr, error) {
	if p.pos >= len(p.toks) {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	tok := p.toks[p.pos]
	p.pos++
	switch {
	case tok == "NULL":
		// Typed as a generic object pointer; the engine only cares that it
		// is a zero-valued pointer.
		elem := p.types["PyObject"]
		if elem == nil {
			elem = &VoidType{}
		}
		return NullPtr(&PointerType{Elem: elem}), nil
	case strings.HasPrefix(tok, `"`):
		return &StrLit{Value: strings.Trim(tok, `"`)}, nil
	case tok[0] == '-' || (tok[0] >= '0' && tok[0] <= '9'):
		n, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad integer %q", tok)
		}
		return &IntLit{Value: n, Type: &IntType{Name: "int"}}, nil
	default:
		return &VarRef{Name: tok}, nil
	}
}

func lexExpr(src string) []string {
	var toks []string
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '"':
			j := i + 1
			for j < len(src) && src[j] != '"' {
				j++
			}
			if j < len(src) {
				j++
			}
			toks = append(toks, src[i:j])
			i = j
		case c == '-' && i+1 < len(src) && src[i+1] == '>':
			toks = append(toks, "->")
			i += 2
		case c == '[' || c == ']':
			toks = append(toks, string(c))
			i++
		case strings.ContainsRune("=!<>+-", rune(c)):
			j := i + 1
			if j < len(src) && src[j] == '=' {
				j++
			}
			// Negative literal: "-" directly followed by a digit at the
			// start of a primary position.
			if c == '-' && j == i+1 && j < len(src) && src[j] >= '0' && src[j] <= '9' &&
				(len(toks) == 0 || exprOpsContains(toks[len(toks)-1]) || toks[len(toks)-1] == "[") {
				k := j
				for k < len(src) && src[k] >= '0' && src[k] <= '9' {
					k++
				}
				toks = append(toks, src[i:k])
				i = k
				continue
			}
			toks = append(toks, src[i:j])
			i = j
		default:
			j := i
			for j < len(src) && (isIdentChar(src[j])) {
				j++
			}
			if j == i {
				// Skip unrecognized byte rather than looping forever.
				i++
				continue
			}
			toks = append(toks, src[i:j])
			i = j
		}
	}
	return toks
}

func exprOpsContains(tok string) bool {
	_, ok := exprOps[tok]
	return ok
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
