package querylanguage

// Attr references an attribute of the node the expression is attached to.
func Attr(name string) map[string]any {
	return map[string]any{KeyAttr: name}
}

// RefAttr references an attribute of the tree node tagged with #id tag.
func RefAttr(tag, name string) map[string]any {
	return map[string]any{KeyRefID: tag, KeyRefAttr: name}
}

// Fn builds an expression calling fn. A single operand is passed as is,
// several operands as a list.
func Fn(fn string, operands ...any) Expression {
	if len(operands) == 1 {
		return Expression{fn: operands[0]}
	}
	if operands == nil {
		operands = []any{}
	}
	return Expression{fn: operands}
}
