package where

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/hatlonely/secidx/errs"
	"github.com/hatlonely/secidx/field"
	"github.com/pkg/errors"
)

var exprOperators = map[string]string{
	"=":  "==",
	"!=": "!=",
	"<>": "!=",
	"<":  "<",
	"<=": "<=",
	">":  ">",
	">=": ">=",
}

// CanonicalOperator 统一运算符写法，<> 等价于 !=
func CanonicalOperator(op string) string {
	if op == "<>" {
		return "!="
	}
	return op
}

// Program 编译后的过滤表达式，用于对候选文档做精确过滤
type Program struct {
	program *vm.Program
	fields  []string
	types   []field.Type
	params  []any
}

// Compile 把解析结果编译成 expr 程序，types 给出每个字段的类型
// 字面量按字段类型转换，和文档中的值使用同样的原生表示
func Compile(clause *WhereClause, types map[string]field.Type) (*Program, error) {
	p := &Program{}
	var sb strings.Builder

	for i, name := range clause.Fields {
		t, ok := types[name]
		if !ok || !t.Valid() {
			return nil, errs.Contract("type of field %s is unknown", name)
		}
		op, ok := exprOperators[clause.Operators[i]]
		if !ok {
			return nil, &ParseError{Fragment: clause.Operators[i], Reason: "unsupported operator"}
		}
		if t == field.TypeBoolean && op != "==" && op != "!=" {
			return nil, &ParseError{Fragment: name + " " + clause.Operators[i], Reason: "boolean fields only support = and !="}
		}

		v, err := field.ParseValue(t, clause.Values[i])
		if err != nil {
			return nil, err
		}

		fieldVar, paramVar := fmt.Sprintf("f%d", i), fmt.Sprintf("p%d", i)
		p.fields = append(p.fields, name)
		p.types = append(p.types, t)
		p.params = append(p.params, field.Native(v))

		if i > 0 {
			if clause.Connectors[i-1] == "OR" {
				sb.WriteString(" || ")
			} else {
				sb.WriteString(" && ")
			}
		}
		// 缺失的字段不满足任何条件
		fmt.Fprintf(&sb, "(%s != nil && %s %s %s)", fieldVar, fieldVar, op, paramVar)
	}

	// 变量类型在运行时确定，文档中的字段可能缺失
	program, err := expr.Compile(sb.String(), expr.AsBool())
	if err != nil {
		return nil, errors.Wrapf(err, "expr.Compile failed. source: %s", sb.String())
	}
	p.program = program
	return p, nil
}

// Match 判断文档是否满足条件，文档中的值先转换成字段类型
func (p *Program) Match(doc map[string]any) (bool, error) {
	env := make(map[string]any, 2*len(p.fields))
	for i, name := range p.fields {
		v, err := field.FromAny(p.types[i], doc[name])
		if err != nil {
			return false, err
		}
		env[fmt.Sprintf("f%d", i)] = field.Native(v)
		env[fmt.Sprintf("p%d", i)] = p.params[i]
	}

	out, err := expr.Run(p.program, env)
	if err != nil {
		return false, errors.Wrap(err, "expr.Run failed")
	}
	matched, _ := out.(bool)
	return matched, nil
}
