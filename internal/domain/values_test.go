package domain

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNewUsername(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "valid", in: "streamer_01", want: "streamer_01"},
		{name: "trimmed", in: "  alice  ", want: "alice"},
		{name: "too short", in: "ab", wantErr: true},
		{name: "too long", in: strings.Repeat("a", 26), wantErr: true},
		{name: "bad chars", in: "bad-name", wantErr: true},
		{name: "empty", in: "   ", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NewUsername(tc.in)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidValue) {
					t.Fatalf("expected ErrInvalidValue, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestNewRoleAndPermissionNameUppercase(t *testing.T) {
	role, err := NewRoleName(" viewer ")
	if err != nil {
		t.Fatalf("role name: %v", err)
	}
	if role != "VIEWER" {
		t.Fatalf("expected VIEWER, got %q", role)
	}
	perm, err := NewPermissionName("watch_stream")
	if err != nil {
		t.Fatalf("permission name: %v", err)
	}
	if perm != "WATCH_STREAM" {
		t.Fatalf("expected WATCH_STREAM, got %q", perm)
	}
	if _, err := NewPermissionName("watch stream"); err == nil {
		t.Fatal("expected error for space in permission name")
	}
}

func TestNewEmail(t *testing.T) {
	got, err := NewEmail("  Alice@Example.COM ")
	if err != nil {
		t.Fatalf("email: %v", err)
	}
	if got != "alice@example.com" {
		t.Fatalf("expected lowercased email, got %q", got)
	}
	for _, bad := range []string{"", "not-an-email", "a@", "@b.com"} {
		if _, err := NewEmail(bad); !errors.Is(err, ErrInvalidValue) {
			t.Fatalf("expected invalid email for %q, got %v", bad, err)
		}
	}
}

func TestNewDescription(t *testing.T) {
	if _, err := NewDescription("   "); err == nil {
		t.Fatal("expected error for blank description")
	}
	if _, err := NewDescription(strings.Repeat("x", 161)); err == nil {
		t.Fatal("expected error for long description")
	}
	got, err := NewDescription(" hello chat ")
	if err != nil {
		t.Fatalf("description: %v", err)
	}
	if got != "hello chat" {
		t.Fatalf("unexpected description %q", got)
	}
}

func TestPasswordHashAndCheck(t *testing.T) {
	if _, err := NewPassword("short1"); err == nil {
		t.Fatal("expected error for short password")
	}
	if _, err := NewPassword("onlyletters"); err == nil {
		t.Fatal("expected error for password without digit")
	}
	pw, err := NewPassword("correct horse 9")
	if err != nil {
		t.Fatalf("password: %v", err)
	}
	hash, err := pw.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword(hash, "correct horse 9") {
		t.Fatal("expected hash to match")
	}
	if CheckPassword(hash, "wrong horse 9") {
		t.Fatal("expected mismatch for wrong password")
	}
}

func TestNewID(t *testing.T) {
	if _, err := NewID(0); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected invalid id, got %v", err)
	}
	if v, err := NewID(7); err != nil || v != 7 {
		t.Fatalf("unexpected id result %d %v", v, err)
	}
}

func FuzzNewUsernameRobustness(f *testing.F) {
	f.Add("alice")
	f.Add("  bob_2  ")
	f.Add("🔥🔥🔥")
	f.Add("")
	f.Fuzz(func(t *testing.T, in string) {
		got, err := NewUsername(in)
		if err != nil {
			return
		}
		n := utf8.RuneCountInString(got.String())
		if n < nameMinLen || n > nameMaxLen {
			t.Fatalf("accepted username with length %d", n)
		}
		if !namePattern.MatchString(got.String()) {
			t.Fatalf("accepted username %q outside charset", got)
		}
	})
}
