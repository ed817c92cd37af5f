package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseSessionCode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want SessionCode
		err  error
	}{
		{"uppercases and trims", "  abcd12 ", "ABCD12", nil},
		{"too short", "ab1", "", ErrInvalidSessionCode},
		{"too long", strings.Repeat("A", MaxSessionCodeLen+1), "", ErrInvalidSessionCode},
		{"rejects separators", "AB-CD", "", ErrInvalidSessionCode},
		{"empty", "", "", ErrInvalidSessionCode},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseSessionCode(tc.in)
			if !errors.Is(err, tc.err) {
				t.Fatalf("err = %v, want %v", err, tc.err)
			}
			if got != tc.want {
				t.Errorf("code = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestGenerateSessionCode(t *testing.T) {
	seen := make(map[SessionCode]struct{})
	for n := 0; n < 100; n++ {
		c, err := GenerateSessionCode()
		if err != nil {
			t.Fatal(err)
		}
		if len(c) != SessionCodeLen {
			t.Fatalf("len(%q) = %d", c, len(c))
		}
		if !c.Valid() {
			t.Fatalf("generated code %q is not valid", c)
		}
		seen[c] = struct{}{}
	}
	if len(seen) < 90 {
		t.Errorf("too many collisions: %d unique of 100", len(seen))
	}
}

func TestNewParticipant(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tests := []struct {
		name string
		id   UserID
		user string
		role Role
		err  error
	}{
		{"ok", "m1", "Mentor", RoleMentor, nil},
		{"empty id", "", "Mentor", RoleMentor, ErrUserIDEmpty},
		{"long id", UserID(strings.Repeat("x", MaxUserIDLen+1)), "Mentor", RoleMentor, ErrUserIDTooLong},
		{"empty name", "c1", "   ", RoleChild, ErrUsernameEmpty},
		{"long name", "c1", strings.Repeat("n", MaxUsernameLen+1), RoleChild, ErrUsernameTooLong},
		{"bad role", "c1", "Kid", Role("admin"), ErrInvalidRole},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewParticipant(tc.id, tc.user, tc.role, now)
			if !errors.Is(err, tc.err) {
				t.Fatalf("err = %v, want %v", err, tc.err)
			}
			if err == nil && (!p.JoinedAt.Equal(now) || p.UserName != tc.user) {
				t.Errorf("unexpected participant %+v", p)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole(" Mentor "); err != nil || r != RoleMentor {
		t.Errorf("ParseRole(Mentor) = %q, %v", r, err)
	}
	if _, err := ParseRole("admin"); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("ParseRole(admin) err = %v", err)
	}
}
