package cfg

import "fmt"

// Builder assembles a Function block by block. Statement locations are
// synthesized from a per-function line counter so that diagnostics stay
// stable across runs.
type Builder struct {
	fn   *Function
	file string
	line int
}

// NewBuilder starts a function with the given name and return type.
func NewBuilder(name string, ret Type) *Builder {
	file := name + ".c"
	return &Builder{
		fn: &Function{
			Name:       name,
			ReturnType: ret,
			Location:   Location{File: file, Line: 1},
		},
		file: file,
		line: 1,
	}
}

func (b *Builder) nextLoc() Location {
	b.line++
	return Location{File: b.file, Line: b.line}
}

// Param declares a parameter and returns it.
func (b *Builder) Param(name string, t Type) *Var {
	v := &Var{Name: name, Type: t}
	b.fn.Params = append(b.fn.Params, v)
	return v
}

// Local declares a local variable and returns it.
func (b *Builder) Local(name string, t Type) *Var {
	v := &Var{Name: name, Type: t}
	b.fn.Locals = append(b.fn.Locals, v)
	return v
}

// Block creates a new basic block. The first block created becomes the
// function entry.
func (b *Builder) Block(label string) *Block {
	blk := &Block{Label: label}
	if b.fn.Entry == nil {
		b.fn.Entry = blk
	}
	b.fn.Blocks = append(b.fn.Blocks, blk)
	return blk
}

// Assign appends "lhs = rhs" to blk.
func (b *Builder) Assign(blk *Block, lhs, rhs Expr) {
	blk.Stmts = append(blk.Stmts, &AssignStmt{LHS: lhs, RHS: rhs, Location: b.nextLoc()})
}

// Call appends a call statement to blk; lhs may be nil.
func (b *Builder) Call(blk *Block, lhs Expr, callee string, args ...Expr) *CallStmt {
	s := &CallStmt{LHS: lhs, Callee: callee, Args: args, Location: b.nextLoc()}
	blk.Stmts = append(blk.Stmts, s)
	return s
}

// Jump terminates blk with an unconditional jump.
func (b *Builder) Jump(blk, target *Block) {
	blk.Term = &Jump{Target: target, Location: b.nextLoc()}
}

// Branch terminates blk with a conditional branch.
func (b *Builder) Branch(blk *Block, cond Expr, then, els *Block) {
	blk.Term = &Branch{Cond: cond, Then: then, Else: els, Location: b.nextLoc()}
}

// Return terminates blk with a return; v may be nil.
func (b *Builder) Return(blk *Block, v Expr) {
	blk.Term = &Return{Value: v, Location: b.nextLoc()}
}

// Finish validates the function and returns it.
func (b *Builder) Finish() (*Function, error) {
	if b.fn.Entry == nil {
		return nil, fmt.Errorf("function %s has no blocks", b.fn.Name)
	}
	for _, blk := range b.fn.Blocks {
		if blk.Term == nil {
			return nil, fmt.Errorf("function %s: block %s has no terminator", b.fn.Name, blk.Label)
		}
	}
	seen := make(map[string]bool, len(b.fn.Params)+len(b.fn.Locals))
	for _, v := range b.fn.Params {
		if seen[v.Name] {
			return nil, fmt.Errorf("function %s: duplicate variable %s", b.fn.Name, v.Name)
		}
		seen[v.Name] = true
	}
	for _, v := range b.fn.Locals {
		if seen[v.Name] {
			return nil, fmt.Errorf("function %s: duplicate variable %s", b.fn.Name, v.Name)
		}
		seen[v.Name] = true
	}
	return b.fn, nil
}

// MustFinish is Finish for fixtures that are known to be well formed.
func (b *Builder) MustFinish() *Function {
	fn, err := b.Finish()
	if err != nil {
		panic(err)
	}
	return fn
}
