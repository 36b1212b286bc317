package tools

// Small JSON schema builders for tool parameters.

// Object builds an object schema.
func Object(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// String builds a string property.
func String(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// Number builds a number property.
func Number(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

// Integer builds an integer property.
func Integer(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

// StringArray builds an array-of-strings property.
func StringArray(desc string) map[string]any {
	return map[string]any{"type": "array", "description": desc, "items": map[string]any{"type": "string"}}
}
