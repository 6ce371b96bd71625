package service

import (
	"sort"

	"github.com/traveltour/important-info-api/internal/directory"
	"github.com/traveltour/important-info-api/internal/models"
)

// ResolveRecipients expands a normalized selector against a directory
// snapshot into a deduplicated, sorted list of recipient user ids.
//
// "all" short-circuits the rest of the selector and yields every id in the
// snapshot. Role tokens select matching snapshot entries. Explicit ids are
// taken as-is without a directory lookup, so they resolve even when the
// snapshot is empty. An empty snapshot with only role/"all" tokens
// legitimately yields an empty result; the orchestrator decides what that
// means, not the resolver.
func ResolveRecipients(sel models.Selector, snapshot []directory.User) []string {
	ids := map[string]struct{}{}

	if sel.All {
		for _, user := range snapshot {
			ids[user.ID] = struct{}{}
		}
	} else {
		roles := map[models.UserRole]struct{}{}
		for _, role := range sel.Roles {
			roles[role] = struct{}{}
		}
		if len(roles) > 0 {
			for _, user := range snapshot {
				if _, ok := roles[user.Role]; ok {
					ids[user.ID] = struct{}{}
				}
			}
		}
		for _, id := range sel.UserIDs {
			ids[id] = struct{}{}
		}
	}

	result := make([]string, 0, len(ids))
	for id := range ids {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}
