package domain

import "github.com/google/uuid"

// UserSet holds each user id at most once.
type UserSet map[uuid.UUID]struct{}

// Reactions maps an emoji to the users who reacted with it. An emoji key is
// never mapped to an empty set.
type Reactions map[string]UserSet

func (r Reactions) Clone() Reactions {
	if r == nil {
		return nil
	}
	out := make(Reactions, len(r))
	for emoji, users := range r {
		set := make(UserSet, len(users))
		for id := range users {
			set[id] = struct{}{}
		}
		out[emoji] = set
	}
	return out
}

func (r Reactions) Has(emoji string, userID uuid.UUID) bool {
	_, ok := r[emoji][userID]
	return ok
}
