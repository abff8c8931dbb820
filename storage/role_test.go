package storage

import (
	"errors"
	"testing"

	"github.com/giantswarm/team-broker/apperrors"
)

var allRoles = []Role{RoleViewer, RoleMember, RoleAdmin, RoleOwner}

func TestRole_Rank(t *testing.T) {
	want := map[Role]int{RoleViewer: 1, RoleMember: 2, RoleAdmin: 3, RoleOwner: 4, Role("root"): 0}
	for r, rank := range want {
		if got := r.Rank(); got != rank {
			t.Errorf("%q.Rank() = %d, want %d", r, got, rank)
		}
	}
}

// A role satisfying a higher requirement satisfies every lower one.
func TestRole_AtLeastMonotonic(t *testing.T) {
	for _, held := range allRoles {
		for _, r1 := range allRoles {
			for _, r2 := range allRoles {
				if r1.Rank() <= r2.Rank() && held.AtLeast(r2) && !held.AtLeast(r1) {
					t.Errorf("%q satisfies %q but not lower %q", held, r2, r1)
				}
			}
		}
	}
}

func TestRole_AtLeastUnknown(t *testing.T) {
	if Role("superuser").AtLeast(RoleViewer) {
		t.Error("unknown role must not satisfy any requirement")
	}
	if RoleOwner.AtLeast(Role("")) {
		t.Error("an unknown requirement must not be satisfied")
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{in: "viewer", want: RoleViewer},
		{in: "Admin", want: RoleAdmin},
		{in: " member ", want: RoleMember},
		{in: "owner", want: RoleOwner},
		{in: "god", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				if !errors.Is(err, apperrors.ErrValidation) {
					t.Errorf("ParseRole(%q) error = %v, want ErrValidation", tt.in, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseRole(%q) = %q, %v, want %q", tt.in, got, err, tt.want)
			}
		})
	}
}
