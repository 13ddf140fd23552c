package api

import (
	"fmt"
	"strings"
)

// Field identifies one lazily resolved attribute of a cached node. Fields
// are bit flags so a node can track its resolved set in a single mask.
type Field uint16

const (
	FieldName Field = 1 << iota
	FieldDescription
	FieldRole
	FieldStates
	FieldChildCount
	FieldIndexInParent
	FieldRelations
	FieldInterfaces
	FieldParent
	FieldApplication
	FieldToolkit

	// FieldLabel is derived from FieldName and FieldRelations.
	FieldLabel
)

// AllFields lists every field in declaration order.
var AllFields = []Field{
	FieldName,
	FieldDescription,
	FieldRole,
	FieldStates,
	FieldChildCount,
	FieldIndexInParent,
	FieldRelations,
	FieldInterfaces,
	FieldParent,
	FieldApplication,
	FieldToolkit,
	FieldLabel,
}

var fieldNames = map[Field]string{
	FieldName:          "name",
	FieldDescription:   "description",
	FieldRole:          "role",
	FieldStates:        "states",
	FieldChildCount:    "child-count",
	FieldIndexInParent: "index-in-parent",
	FieldRelations:     "relations",
	FieldInterfaces:    "interfaces",
	FieldParent:        "parent",
	FieldApplication:   "application",
	FieldToolkit:       "toolkit",
	FieldLabel:         "label",
}

func (f Field) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return fmt.Sprintf("field(%d)", uint16(f))
}

// ParseField looks a field up by the name String returns.
func ParseField(s string) (Field, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, name := range fieldNames {
		if name == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown field %q", s)
}
