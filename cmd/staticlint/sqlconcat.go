package main

import (
	"go/ast"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/analysis"
)

// SQLConcatAnalyzer запрещает собирать текст запроса из данных: значения передаются только параметрами
var SQLConcatAnalyzer = &analysis.Analyzer{
	Name: "sqlconcat",
	Doc:  "check for sql built with fmt.Sprintf or string concatenation in Exec/Query calls",
	Run:  runSQLConcat,
}

var sqlMethods = map[string]bool{
	"Exec":            true,
	"ExecContext":     true,
	"Query":           true,
	"QueryContext":    true,
	"QueryRow":        true,
	"QueryRowContext": true,
}

func runSQLConcat(pass *analysis.Pass) (interface{}, error) {
	for _, file := range pass.Files {
		ast.Inspect(file, func(node ast.Node) bool {
			call, ok := node.(*ast.CallExpr)
			if !ok {
				return true
			}
			sel, ok := call.Fun.(*ast.SelectorExpr)
			if !ok || !sqlMethods[sel.Sel.Name] {
				return true
			}
			if query := sqlArg(pass, call); query != nil {
				checkQuery(pass, query)
			}
			return true
		})
	}
	return nil, nil
}

// sqlArg первый строковый аргумент среди первых двух: (query, ...) или (ctx, query, ...)
func sqlArg(pass *analysis.Pass, call *ast.CallExpr) ast.Expr {
	for i, arg := range call.Args {
		if i > 1 {
			break
		}
		if isString(pass, arg) {
			return arg
		}
	}
	return nil
}

func checkQuery(pass *analysis.Pass, query ast.Expr) {
	switch x := query.(type) {
	case *ast.ParenExpr:
		checkQuery(pass, x.X)
	case *ast.CallExpr:
		if isSprintf(x) {
			pass.Reportf(x.Pos(), "sql built with fmt.Sprintf, pass values as query arguments")
		}
	case *ast.BinaryExpr:
		// склейка констант допустима
		if x.Op == token.ADD && !isConstant(pass, x) {
			pass.Reportf(x.Pos(), "sql built with string concatenation, pass values as query arguments")
		}
	}
}

func isSprintf(call *ast.CallExpr) bool {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return false
	}
	pkg, ok := sel.X.(*ast.Ident)
	return ok && pkg.Name == "fmt" && sel.Sel.Name == "Sprintf"
}

func isString(pass *analysis.Pass, expr ast.Expr) bool {
	t := pass.TypesInfo.TypeOf(expr)
	if t == nil {
		return false
	}
	basic, ok := t.Underlying().(*types.Basic)
	return ok && basic.Info()&types.IsString != 0
}

func isConstant(pass *analysis.Pass, expr ast.Expr) bool {
	tv, ok := pass.TypesInfo.Types[expr]
	return ok && tv.Value != nil
}
