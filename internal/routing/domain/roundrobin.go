package domain

import (
	"errors"
	"sort"

	"github.com/google/uuid"
)

// ErrNoEligibleMember is returned when a queue has no active members.
// The caller must leave the lead unassigned and log nothing.
var ErrNoEligibleMember = errors.New("no eligible member")

// Strategy selects how the rotation walks the member list.
type Strategy string

const (
	// StrategySimple rotates over members ignoring weights.
	StrategySimple Strategy = "simple"
	// StrategyWeighted rotates over a virtual sequence where each member
	// appears Weight times in position order.
	StrategyWeighted Strategy = "weighted"
)

// Member is one recipient slot in a queue.
// Active is derived from the referenced user's active status.
type Member struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Position int
	Weight   int
	Active   bool
}

// Queue is a round-robin rotation over its members.
// Cursor is the index of the last assigned slot; it is mutated only through
// a guarded update keyed on the value read (see repository.AdvanceCursor).
type Queue struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
	Active         bool
	Strategy       Strategy
	Cursor         int
	Members        []Member
}

// Selection is the result of one rotation step.
type Selection struct {
	Member     Member
	NextCursor int
}

// SelectNext picks the next member after the queue's cursor and returns the
// cursor value to persist. The cursor is clamped by modulo against the
// current sequence length, so membership changes between calls never error.
func SelectNext(q Queue) (Selection, error) {
	seq := rotationSequence(q)
	if len(seq) == 0 {
		return Selection{}, ErrNoEligibleMember
	}

	modulus := len(seq)
	cursor := ((q.Cursor % modulus) + modulus) % modulus
	next := (cursor + 1) % modulus

	return Selection{
		Member:     seq[next],
		NextCursor: next,
	}, nil
}

// rotationSequence expands the active member list into the slot sequence the
// cursor indexes. Simple strategy: one slot per member. Weighted strategy:
// Weight slots per member, members kept in position order.
func rotationSequence(q Queue) []Member {
	active := make([]Member, 0, len(q.Members))
	for _, m := range q.Members {
		if m.Active {
			active = append(active, m)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Position < active[j].Position
	})

	if q.Strategy != StrategyWeighted {
		return active
	}

	seq := make([]Member, 0, len(active))
	for _, m := range active {
		weight := m.Weight
		if weight < 1 {
			weight = 1
		}
		for i := 0; i < weight; i++ {
			seq = append(seq, m)
		}
	}
	return seq
}
