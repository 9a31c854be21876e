package models

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// CanonicalMembers sorts and deduplicates ids and returns them together with
// the member key used to identify the chat. Any permutation of the same set
// produces the same key.
func CanonicalMembers(ids []uuid.UUID) (string, []uuid.UUID) {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	members := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].String() < members[j].String()
	})

	parts := make([]string, len(members))
	for i, m := range members {
		parts[i] = m.String()
	}
	return strings.Join(parts, ","), members
}

// ParseMemberKey is the inverse of CanonicalMembers.
func ParseMemberKey(key string) ([]uuid.UUID, error) {
	if key == "" {
		return []uuid.UUID{}, nil
	}
	parts := strings.Split(key, ",")
	members := make([]uuid.UUID, 0, len(parts))
	for _, p := range parts {
		id, err := uuid.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("parse member key: %w", err)
		}
		members = append(members, id)
	}
	return members, nil
}
