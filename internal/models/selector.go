package models

// Selector tokens understood by the recipient targeting expression. Any
// other token is treated as an explicit user id.
const (
	SelectorAll      = "all"
	SelectorStudents = "students"
	SelectorAdmins   = "admins"
)

// Selector is the normalized form of an announcement's recipient targeting
// expression. It is computed once at the API boundary; storage keeps the raw
// token list for query-time matching.
type Selector struct {
	All     bool
	Roles   []UserRole
	UserIDs []string
}

// ParseSelector normalizes raw recipient tokens. An empty input defaults to
// broadcast-to-all, matching the behaviour of the legacy service.
func ParseSelector(tokens []string) Selector {
	if len(tokens) == 0 {
		return Selector{All: true}
	}
	sel := Selector{}
	seenRoles := map[UserRole]struct{}{}
	seenIDs := map[string]struct{}{}
	for _, token := range tokens {
		switch token {
		case SelectorAll:
			sel.All = true
		case SelectorStudents:
			if _, ok := seenRoles[RoleStudent]; !ok {
				seenRoles[RoleStudent] = struct{}{}
				sel.Roles = append(sel.Roles, RoleStudent)
			}
		case SelectorAdmins:
			if _, ok := seenRoles[RoleAdmin]; !ok {
				seenRoles[RoleAdmin] = struct{}{}
				sel.Roles = append(sel.Roles, RoleAdmin)
			}
		default:
			if _, ok := seenIDs[token]; !ok {
				seenIDs[token] = struct{}{}
				sel.UserIDs = append(sel.UserIDs, token)
			}
		}
	}
	return sel
}

// SelectorTokensForUser lists every token that would make an announcement
// visible to the given user: the broadcast token, the user's role token, and
// the user's own id. Drives the SQL overlap predicate in visibility queries.
func SelectorTokensForUser(userID string, role UserRole) []string {
	tokens := []string{SelectorAll}
	switch role {
	case RoleStudent:
		tokens = append(tokens, SelectorStudents)
	case RoleAdmin:
		tokens = append(tokens, SelectorAdmins)
	}
	return append(tokens, userID)
}

// NeedsDirectory reports whether resolving this selector requires a user
// directory snapshot. Explicit ids resolve without one.
func (s Selector) NeedsDirectory() bool {
	return s.All || len(s.Roles) > 0
}

// Tokens renders the selector back into its stored token form.
func (s Selector) Tokens() []string {
	tokens := make([]string, 0, 1+len(s.Roles)+len(s.UserIDs))
	if s.All {
		tokens = append(tokens, SelectorAll)
	}
	for _, role := range s.Roles {
		switch role {
		case RoleStudent:
			tokens = append(tokens, SelectorStudents)
		case RoleAdmin:
			tokens = append(tokens, SelectorAdmins)
		}
	}
	tokens = append(tokens, s.UserIDs...)
	return tokens
}
