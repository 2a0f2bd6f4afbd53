package interp

import (
	"strconv"

	"github.com/yuin/gopher-lua/ast"
)

// stepLocal names the local holding the step function. It is called before
// every instrumented statement with the statement's line and the chunk index.
// The name is not a valid Lua identifier, so scripts cannot read or assign it.
const stepLocal = "(luahost step)"

// instrumenter inserts step calls into a parsed chunk.
type instrumenter struct {
	chunk int
}

// wrap instruments body and returns a loader chunk. Called with the step
// function as its only argument, the loader binds it to stepLocal and
// returns body as a vararg closure over that local.
func (in instrumenter) wrap(body []ast.Stmt) []ast.Stmt {
	body = in.block(body)
	bind := &ast.LocalAssignStmt{
		Names: []string{stepLocal},
		Exprs: []ast.Expr{&ast.Comma3Expr{}},
	}
	main := &ast.FunctionExpr{
		ParList: &ast.ParList{HasVargs: true, Names: []string{}},
		Stmts:   body,
	}
	// Line 0 keeps the closure reported as the main chunk.
	if n := len(body); n > 0 {
		main.SetLastLine(body[n-1].LastLine())
	}
	return []ast.Stmt{bind, &ast.ReturnStmt{Exprs: []ast.Expr{main}}}
}

// block returns stmts with a step call before each statement. Nested blocks
// and function bodies are instrumented in place.
func (in instrumenter) block(stmts []ast.Stmt) []ast.Stmt {
	if len(stmts) == 0 {
		return stmts
	}
	out := make([]ast.Stmt, 0, len(stmts)*2)
	for _, st := range stmts {
		in.stmt(st)
		out = append(out, in.stepCall(st.Line()), st)
	}
	return out
}

func (in instrumenter) stmt(st ast.Stmt) {
	switch s := st.(type) {
	case *ast.AssignStmt:
		in.exprs(s.Lhs)
		in.exprs(s.Rhs)
	case *ast.LocalAssignStmt:
		in.exprs(s.Exprs)
	case *ast.FuncCallStmt:
		in.expr(s.Expr)
	case *ast.DoBlockStmt:
		s.Stmts = in.block(s.Stmts)
	case *ast.WhileStmt:
		in.expr(s.Condition)
		s.Stmts = in.block(s.Stmts)
	case *ast.RepeatStmt:
		s.Stmts = in.block(s.Stmts)
		in.expr(s.Condition)
	case *ast.IfStmt:
		in.expr(s.Condition)
		s.Then = in.block(s.Then)
		s.Else = in.block(s.Else)
	case *ast.NumberForStmt:
		in.expr(s.Init)
		in.expr(s.Limit)
		in.expr(s.Step)
		s.Stmts = in.block(s.Stmts)
	case *ast.GenericForStmt:
		in.exprs(s.Exprs)
		s.Stmts = in.block(s.Stmts)
	case *ast.FuncDefStmt:
		in.expr(s.Func)
	case *ast.ReturnStmt:
		in.exprs(s.Exprs)
	}
}

func (in instrumenter) exprs(list []ast.Expr) {
	for _, e := range list {
		in.expr(e)
	}
}

// expr finds function literals nested in e.
func (in instrumenter) expr(e ast.Expr) {
	switch x := e.(type) {
	case *ast.FunctionExpr:
		x.Stmts = in.block(x.Stmts)
	case *ast.FuncCallExpr:
		in.expr(x.Func)
		in.expr(x.Receiver)
		in.exprs(x.Args)
	case *ast.AttrGetExpr:
		in.expr(x.Object)
		in.expr(x.Key)
	case *ast.TableExpr:
		for _, f := range x.Fields {
			in.expr(f.Key)
			in.expr(f.Value)
		}
	case *ast.LogicalOpExpr:
		in.expr(x.Lhs)
		in.expr(x.Rhs)
	case *ast.RelationalOpExpr:
		in.expr(x.Lhs)
		in.expr(x.Rhs)
	case *ast.StringConcatOpExpr:
		in.expr(x.Lhs)
		in.expr(x.Rhs)
	case *ast.ArithmeticOpExpr:
		in.expr(x.Lhs)
		in.expr(x.Rhs)
	case *ast.UnaryMinusOpExpr:
		in.expr(x.Expr)
	case *ast.UnaryNotOpExpr:
		in.expr(x.Expr)
	case *ast.UnaryLenOpExpr:
		in.expr(x.Expr)
	}
}

type positioned interface {
	SetLine(int)
	SetLastLine(int)
}

func (in instrumenter) stepCall(line int) ast.Stmt {
	fn := &ast.IdentExpr{Value: stepLocal}
	lineArg := &ast.NumberExpr{Value: strconv.Itoa(line)}
	chunkArg := &ast.NumberExpr{Value: strconv.Itoa(in.chunk)}
	call := &ast.FuncCallExpr{Func: fn, Args: []ast.Expr{lineArg, chunkArg}}
	st := &ast.FuncCallStmt{Expr: call}

	for _, n := range []positioned{fn, lineArg, chunkArg, call, st} {
		n.SetLine(line)
		n.SetLastLine(line)
	}
	return st
}
