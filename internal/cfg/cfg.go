// Package cfg defines the control-flow-graph form that the analysis engine
// consumes: one Function per analyzed C function, made of basic blocks of
// statements with typed operands and source locations.
//
// The package is purely a data model. It is produced either programmatically
// (via Builder) or by loading a YAML document (see yaml.go); no parsing of C
// source happens anywhere in this repository.
package cfg

import (
	"fmt"
	"strings"
)

// Location is a source position in the original C code.
type Location struct {
	File   string
	Line   int
	Column int
}

func (l Location) IsValid() bool {
	return l.File != "" && l.Line > 0
}

func (l Location) String() string {
	if !l.IsValid() {
		return "<unknown>"
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Type is the interface implemented by all operand types.
type Type interface {
	String() string
}

// IntType is any integral C type (int, long, Py_ssize_t, ...).
type IntType struct {
	Name string
}

func (t *IntType) String() string { return t.Name }

// VoidType is the C void type.
type VoidType struct{}

func (t *VoidType) String() string { return "void" }

// CharType is the C char type (mostly seen behind a pointer).
type CharType struct{}

func (t *CharType) String() string { return "char" }

// StructField is one member of a record type.
type StructField struct {
	Name string
	Type Type
}

// StructType is a C record type with a structural field layout.
type StructType struct {
	Name   string
	Fields []StructField
}

func (t *StructType) String() string { return "struct " + t.Name }

// Field returns the type of the named member, if present.
func (t *StructType) Field(name string) (Type, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f.Type, true
		}
	}
	return nil, false
}

// PointerType is a C pointer type.
type PointerType struct {
	Elem Type
}

func (t *PointerType) String() string { return t.Elem.String() + " *" }

// Var is a parameter or local variable. Vars are compared by name within a
// function; names are unique per function.
type Var struct {
	Name string
	Type Type
}

func (v *Var) String() string { return v.Name }

// Op enumerates the binary operators the engine evaluates.
type Op int

const (
	OpAdd Op = iota
	OpSub
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

var opNames = map[Op]string{
	OpAdd: "+", OpSub: "-",
	OpEq: "==", OpNe: "!=",
	OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
}

func (op Op) String() string { return opNames[op] }

// IsComparison reports whether the operator yields a boolean-like result.
func (op Op) IsComparison() bool { return op >= OpEq }

// Expr is the interface implemented by all expression forms.
type Expr interface {
	String() string
}

// VarRef names a variable. Names not declared as a parameter or local of the
// enclosing function denote globals (e.g. PyExc_TypeError).
type VarRef struct {
	Name string
}

func (e *VarRef) String() string { return e.Name }

// FieldRef is a member access through a pointer: Target->Field.
type FieldRef struct {
	Target Expr
	Field  string
}

func (e *FieldRef) String() string { return e.Target.String() + "->" + e.Field }

// IndexRef is an array element access: Target[Index].
type IndexRef struct {
	Target Expr
	Index  Expr
}

func (e *IndexRef) String() string {
	return fmt.Sprintf("%s[%s]", e.Target, e.Index)
}

// IntLit is an integer literal. With a pointer type and value 0 it is the
// NULL pointer constant.
type IntLit struct {
	Value int64
	Type  Type
}

func (e *IntLit) String() string {
	if _, ok := e.Type.(*PointerType); ok && e.Value == 0 {
		return "NULL"
	}
	return fmt.Sprintf("%d", e.Value)
}

// NullPtr returns the NULL constant of the given pointer type.
func NullPtr(t Type) *IntLit { return &IntLit{Value: 0, Type: t} }

// StrLit is a C string literal.
type StrLit struct {
	Value string
}

func (e *StrLit) String() string { return fmt.Sprintf("%q", e.Value) }

// BinOp is a binary operation on two expressions.
type BinOp struct {
	Op Op
	X  Expr
	Y  Expr
}

func (e *BinOp) String() string {
	return fmt.Sprintf("%s %s %s", e.X, e.Op, e.Y)
}

// Stmt is a non-terminator statement within a basic block.
type Stmt interface {
	Loc() Location
	String() string
}

// AssignStmt stores the value of RHS into the storage named by LHS.
type AssignStmt struct {
	LHS      Expr
	RHS      Expr
	Location Location
}

func (s *AssignStmt) Loc() Location  { return s.Location }
func (s *AssignStmt) String() string { return fmt.Sprintf("%s = %s", s.LHS, s.RHS) }

// CallStmt calls the named function, optionally storing the result in LHS.
type CallStmt struct {
	LHS      Expr // may be nil
	Callee   string
	Args     []Expr
	Location Location
}

func (s *CallStmt) Loc() Location { return s.Location }

func (s *CallStmt) String() string {
	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		args[i] = a.String()
	}
	call := fmt.Sprintf("%s(%s)", s.Callee, strings.Join(args, ", "))
	if s.LHS != nil {
		return fmt.Sprintf("%s = %s", s.LHS, call)
	}
	return call
}

// Terminator ends a basic block.
type Terminator interface {
	Loc() Location
	String() string
	// Successors returns the blocks control may transfer to, in CFG order.
	Successors() []*Block
}

// Jump is an unconditional transfer to Target.
type Jump struct {
	Target   *Block
	Location Location
}

func (t *Jump) Loc() Location        { return t.Location }
func (t *Jump) String() string       { return "goto " + t.Target.Label }
func (t *Jump) Successors() []*Block { return []*Block{t.Target} }

// Branch transfers to Then when Cond is non-zero, to Else otherwise.
type Branch struct {
	Cond     Expr
	Then     *Block
	Else     *Block
	Location Location
}

func (t *Branch) Loc() Location { return t.Location }

func (t *Branch) String() string {
	return fmt.Sprintf("if (%s) goto %s; else goto %s", t.Cond, t.Then.Label, t.Else.Label)
}

func (t *Branch) Successors() []*Block { return []*Block{t.Then, t.Else} }

// Return leaves the function, optionally with a value.
type Return struct {
	Value    Expr // may be nil
	Location Location
}

func (t *Return) Loc() Location { return t.Location }

func (t *Return) String() string {
	if t.Value == nil {
		return "return"
	}
	return "return " + t.Value.String()
}

func (t *Return) Successors() []*Block { return nil }

// Block is a basic block: a straight-line statement list plus a terminator.
type Block struct {
	Label string
	Stmts []Stmt
	Term  Terminator
}

func (b *Block) String() string { return b.Label }

// Function is one analyzable function: its signature, blocks, and the
// ownership annotations consumed by the verifier.
type Function struct {
	Name       string
	Params     []*Var
	Locals     []*Var
	ReturnType Type
	Entry      *Block
	Blocks     []*Block
	Location   Location

	// ReturnsBorrowed marks the function as returning a borrowed reference
	// rather than a new one.
	ReturnsBorrowed bool
	// StealsRefs lists 1-based parameter indices whose references the
	// function consumes.
	StealsRefs []int
}

// Var returns the parameter or local with the given name, or nil.
func (f *Function) Var(name string) *Var {
	for _, p := range f.Params {
		if p.Name == name {
			return p
		}
	}
	for _, l := range f.Locals {
		if l.Name == name {
			return l
		}
	}
	return nil
}

// IsParam reports whether name is a parameter of f.
func (f *Function) IsParam(name string) bool {
	for _, p := range f.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// ParamIndex returns the 1-based index of the named parameter, or 0.
func (f *Function) ParamIndex(name string) int {
	for i, p := range f.Params {
		if p.Name == name {
			return i + 1
		}
	}
	return 0
}
