package repo

import (
	"fmt"

	"crm/entity"
	"crm/pkg/goutil"
)

type LogicalOp string

const (
	And LogicalOp = "AND"
	Or  LogicalOp = "OR"
)

type Op string

const (
	OpEq     Op = "="
	OpNotEq  Op = "!="
	OpGt     Op = ">"
	OpGte    Op = ">="
	OpLt     Op = "<"
	OpLte    Op = "<="
	OpLike   Op = "LIKE"
	OpIn     Op = "IN"
	OpIsNull Op = "IS NULL"
)

type Condition struct {
	Field         string
	Op            Op
	Value         interface{}
	NextLogicalOp LogicalOp

	// Group nests conditions inside parentheses. When set, Field, Op and
	// Value are ignored.
	Group []*Condition
}

type Filter struct {
	Conditions []*Condition
	Pagination *entity.Pagination
}

func ToSqlWithArgs(f *Filter) (sql string, args []interface{}) {
	if f == nil {
		return
	}

	conditions := f.Conditions
	for i, condition := range conditions {
		if len(condition.Group) > 0 {
			groupSql, groupArgs := ToSqlWithArgs(&Filter{Conditions: condition.Group})
			sql += fmt.Sprintf("(%s)", groupSql)
			args = append(args, groupArgs...)
			if len(conditions) > 1 && i != len(conditions)-1 {
				logicalOp := condition.NextLogicalOp
				if logicalOp == "" {
					logicalOp = And
				}
				sql += fmt.Sprintf(" %s ", logicalOp)
			}
			continue
		}

		if condition.Op != OpIsNull && goutil.IsNil(condition.Value) {
			continue
		}

		switch condition.Op {
		case OpEq, OpNotEq, OpGt, OpGte, OpLt, OpLte, OpLike:
			sql += fmt.Sprintf("%s %s ?", condition.Field, condition.Op)
			args = append(args, condition.Value)
		case OpIn:
			sql += fmt.Sprintf("%s IN ?", condition.Field)
			args = append(args, condition.Value)
		case OpIsNull:
			sql += fmt.Sprintf("%s IS NULL", condition.Field)
		}

		if len(conditions) > 1 && i != len(conditions)-1 {
			logicalOp := condition.NextLogicalOp
			if logicalOp == "" {
				logicalOp = And
			}
			sql += fmt.Sprintf(" %s ", logicalOp)
		}
	}

	return
}
