// Package reaction implements the per-message emoji toggle.
package reaction

import (
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/vedran77/mailbox/internal/domain"
)

// Group is the aggregated view of one emoji, for display.
type Group struct {
	Emoji string      `json:"emoji"`
	Count int         `json:"count"`
	Users []uuid.UUID `json:"users"`
}

// Toggle flips userID's reaction with emoji and returns the new map. The
// input is left untouched. Removing the last user of an emoji deletes the
// key, and an empty result is returned as nil.
func Toggle(reactions domain.Reactions, emoji string, userID uuid.UUID) domain.Reactions {
	out := reactions.Clone()

	if users, ok := out[emoji]; ok {
		if _, reacted := users[userID]; reacted {
			delete(users, userID)
			if len(users) == 0 {
				delete(out, emoji)
			}
			if len(out) == 0 {
				return nil
			}
			return out
		}
	}

	if out == nil {
		out = make(domain.Reactions)
	}
	if out[emoji] == nil {
		out[emoji] = make(domain.UserSet)
	}
	out[emoji][userID] = struct{}{}
	return out
}

// Merge returns the union of a and b.
func Merge(a, b domain.Reactions) domain.Reactions {
	out := a.Clone()
	for emoji, users := range b {
		if len(users) == 0 {
			continue
		}
		if out == nil {
			out = make(domain.Reactions)
		}
		if out[emoji] == nil {
			out[emoji] = make(domain.UserSet, len(users))
		}
		for id := range users {
			out[emoji][id] = struct{}{}
		}
	}
	return out
}

// Users lists who reacted with emoji, sorted for stable output.
func Users(reactions domain.Reactions, emoji string) []uuid.UUID {
	users := make([]uuid.UUID, 0, len(reactions[emoji]))
	for id := range reactions[emoji] {
		users = append(users, id)
	}
	slices.SortFunc(users, func(a, b uuid.UUID) int {
		return strings.Compare(a.String(), b.String())
	})
	return users
}

// Summary groups reactions by emoji, most used first.
func Summary(reactions domain.Reactions) []Group {
	groups := make([]Group, 0, len(reactions))
	for emoji := range reactions {
		users := Users(reactions, emoji)
		groups = append(groups, Group{Emoji: emoji, Count: len(users), Users: users})
	}
	slices.SortFunc(groups, func(a, b Group) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.Emoji, b.Emoji)
	})
	return groups
}
