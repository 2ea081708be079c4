package auth

// HasPermission reports whether the context may perform action on resource.
// Grants are OR-combined with no explicit deny: the first grant whose
// resource and action match wins. A grant with an empty constraint list
// applies to every table; otherwise tableName must be a member. An empty
// tableName matches any grant for the resource.
//
// Pure function over the context; no side effects.
func HasPermission(ctx *Context, resource, action, tableName string) bool {
	if ctx == nil {
		return false
	}
	for _, grant := range ctx.Permissions {
		if grant.Resource != resource {
			continue
		}
		if !containsString(grant.Actions, action) {
			continue
		}
		if tableName != "" && len(grant.TableNames) > 0 && !containsString(grant.TableNames, tableName) {
			continue
		}
		return true
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
