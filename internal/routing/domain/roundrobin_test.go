package domain

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func member(position, weight int, active bool) Member {
	return Member{
		ID:       uuid.New(),
		UserID:   uuid.New(),
		Position: position,
		Weight:   weight,
		Active:   active,
	}
}

func TestSelectNextSimpleRotation(t *testing.T) {
	members := []Member{
		member(0, 1, true),
		member(1, 1, true),
		member(2, 1, true),
	}
	q := Queue{Strategy: StrategySimple, Cursor: -1, Members: members}

	var got []uuid.UUID
	for i := 0; i < 6; i++ {
		sel, err := SelectNext(q)
		if err != nil {
			t.Fatalf("SelectNext: %v", err)
		}
		got = append(got, sel.Member.UserID)
		q.Cursor = sel.NextCursor
	}

	for i := 0; i < 6; i++ {
		want := members[i%3].UserID
		if got[i] != want {
			t.Fatalf("selection %d: got %s, want %s", i, got[i], want)
		}
	}
}

func TestSelectNextSkipsInactiveMembers(t *testing.T) {
	inactive := member(1, 1, false)
	members := []Member{
		member(0, 1, true),
		inactive,
		member(2, 1, true),
	}
	q := Queue{Strategy: StrategySimple, Cursor: -1, Members: members}

	for i := 0; i < 4; i++ {
		sel, err := SelectNext(q)
		if err != nil {
			t.Fatalf("SelectNext: %v", err)
		}
		if sel.Member.UserID == inactive.UserID {
			t.Fatalf("selection %d picked an inactive member", i)
		}
		q.Cursor = sel.NextCursor
	}
}

func TestSelectNextWeightedDistribution(t *testing.T) {
	heavy := member(0, 3, true)
	light := member(1, 1, true)
	q := Queue{Strategy: StrategyWeighted, Cursor: -1, Members: []Member{heavy, light}}

	counts := make(map[uuid.UUID]int)
	// One full pass over the virtual sequence (3 + 1 slots).
	for i := 0; i < 4; i++ {
		sel, err := SelectNext(q)
		if err != nil {
			t.Fatalf("SelectNext: %v", err)
		}
		counts[sel.Member.UserID]++
		q.Cursor = sel.NextCursor
	}

	if counts[heavy.UserID] != 3 {
		t.Fatalf("heavy member got %d assignments, want 3", counts[heavy.UserID])
	}
	if counts[light.UserID] != 1 {
		t.Fatalf("light member got %d assignments, want 1", counts[light.UserID])
	}
}

func TestSelectNextClampsStaleCursor(t *testing.T) {
	// The queue shrank to two members while the cursor pointed at slot 2.
	members := []Member{
		member(0, 1, true),
		member(1, 1, true),
	}
	q := Queue{Strategy: StrategySimple, Cursor: 2, Members: members}

	sel, err := SelectNext(q)
	if err != nil {
		t.Fatalf("SelectNext: %v", err)
	}
	// Cursor 2 clamps to slot 0; the next slot is 1.
	if sel.Member.UserID != members[1].UserID {
		t.Fatalf("got member at position %d, want position 1", sel.Member.Position)
	}
	if sel.NextCursor != 1 {
		t.Fatalf("next cursor = %d, want 1", sel.NextCursor)
	}
}

func TestSelectNextNoEligibleMember(t *testing.T) {
	q := Queue{Strategy: StrategySimple, Cursor: -1, Members: []Member{member(0, 1, false)}}

	_, err := SelectNext(q)
	if !errors.Is(err, ErrNoEligibleMember) {
		t.Fatalf("got %v, want ErrNoEligibleMember", err)
	}
}

func TestSelectNextWeightedTreatsZeroWeightAsOne(t *testing.T) {
	zero := member(0, 0, true)
	q := Queue{Strategy: StrategyWeighted, Cursor: -1, Members: []Member{zero}}

	sel, err := SelectNext(q)
	if err != nil {
		t.Fatalf("SelectNext: %v", err)
	}
	if sel.Member.UserID != zero.UserID {
		t.Fatalf("unexpected member selected")
	}
}
