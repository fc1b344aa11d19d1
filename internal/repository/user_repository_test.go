package repository

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreateUserNormalizesEmailAndReturnsExisting(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	u, err := repo.CreateUser(ctx, NewUser{Email: "  Streamer@Example.COM ", Username: "streamer", PasswordHash: "h1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.ID == 0 || u.Email != "streamer@example.com" {
		t.Fatalf("unexpected user %+v", u)
	}
	again, err := repo.CreateUser(ctx, NewUser{Email: "streamer@example.com", Username: "other", PasswordHash: "h2"})
	if err != nil {
		t.Fatalf("create duplicate: %v", err)
	}
	if again.ID != u.ID || again.Username != "streamer" {
		t.Fatalf("expected the existing user, got %+v", again)
	}
	byEmail, err := repo.GetUserByEmail(ctx, "STREAMER@example.com")
	if err != nil || byEmail == nil || byEmail.ID != u.ID {
		t.Fatalf("get by email: %+v err=%v", byEmail, err)
	}
	if _, err := repo.CreateUser(ctx, NewUser{Email: "x@example.com"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestUnknownUserLookupsAndUpdatesReturnNil(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	if u, err := repo.GetUserByID(ctx, 77); err != nil || u != nil {
		t.Fatalf("get by id: %+v err=%v", u, err)
	}
	if u, err := repo.GetUserByEmail(ctx, "ghost@example.com"); err != nil || u != nil {
		t.Fatalf("get by email: %+v err=%v", u, err)
	}
	if u, err := repo.UpdateBio(ctx, 77, "hello"); err != nil || u != nil {
		t.Fatalf("update bio: %+v err=%v", u, err)
	}
	if u, err := repo.BanUser(ctx, 77, "spam", nil); err != nil || u != nil {
		t.Fatalf("ban: %+v err=%v", u, err)
	}
}

func TestBanAndUnbanUser(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	u := seedUser(t, db, "banme@example.com")

	until := time.Now().Add(time.Hour)
	banned, err := repo.BanUser(ctx, u.ID, "spam", &until)
	if err != nil || banned == nil {
		t.Fatalf("ban: %+v err=%v", banned, err)
	}
	if !banned.IsBanned || banned.BanReason == nil || *banned.BanReason != "spam" || banned.BanExpiresAt == nil {
		t.Fatalf("unexpected banned user %+v", banned)
	}
	if !banned.BannedAt(time.Now()) || banned.BannedAt(until.Add(time.Minute)) {
		t.Fatal("ban must hold until its expiry")
	}

	unbanned, err := repo.UnbanUser(ctx, u.ID)
	if err != nil || unbanned == nil {
		t.Fatalf("unban: %+v err=%v", unbanned, err)
	}
	if unbanned.IsBanned || unbanned.BanReason != nil || unbanned.BanExpiresAt != nil {
		t.Fatalf("unban must clear ban fields, got %+v", unbanned)
	}

	permanent, err := repo.BanUser(ctx, u.ID, "tos", nil)
	if err != nil || permanent == nil || !permanent.BannedAt(time.Now().Add(24*365*time.Hour)) {
		t.Fatalf("permanent ban: %+v err=%v", permanent, err)
	}
}

func TestUserProfileUpdates(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	u := seedUser(t, db, "profile@example.com")

	got, err := repo.UpdateProfilePicture(ctx, u.ID, "https://cdn.example.com/a.png")
	if err != nil || got.Avatar != "https://cdn.example.com/a.png" {
		t.Fatalf("avatar: %+v err=%v", got, err)
	}
	got, err = repo.UpdateProfileBanner(ctx, u.ID, "https://cdn.example.com/b.png")
	if err != nil || got.ProfileBanner != "https://cdn.example.com/b.png" {
		t.Fatalf("banner: %+v err=%v", got, err)
	}
	got, err = repo.UpdateBio(ctx, u.ID, "speedrunner")
	if err != nil || got.Description != "speedrunner" {
		t.Fatalf("bio: %+v err=%v", got, err)
	}
	got, err = repo.UpdateUsername(ctx, u.ID, " renamed ")
	if err != nil || got.Username != "renamed" {
		t.Fatalf("username: %+v err=%v", got, err)
	}
	got, err = repo.UpdateEmail(ctx, u.ID, "New@Example.com")
	if err != nil || got.Email != "new@example.com" {
		t.Fatalf("email: %+v err=%v", got, err)
	}
	got, err = repo.UpdatePassword(ctx, u.ID, "new-hash")
	if err != nil || got.PasswordHash != "new-hash" {
		t.Fatalf("password: %+v err=%v", got, err)
	}
	if _, err := repo.UpdatePassword(ctx, u.ID, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for empty hash, got %v", err)
	}
}

func TestUpdateEmailToTakenAddressIsUniqueViolation(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	seedUser(t, db, "taken@example.com")
	u := seedUser(t, db, "mover@example.com")

	_, err := repo.UpdateEmail(ctx, u.ID, "taken@example.com")
	if !errors.Is(err, ErrUniqueViolation) {
		t.Fatalf("expected unique violation, got %v", err)
	}
}

func TestUpdateStreamTokenRotates(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	u := seedUser(t, db, "stream@example.com")

	first, err := repo.UpdateStreamToken(ctx, u.ID)
	if err != nil || first == nil || first.StreamToken == nil {
		t.Fatalf("first token: %+v err=%v", first, err)
	}
	second, err := repo.UpdateStreamToken(ctx, u.ID)
	if err != nil || second == nil || second.StreamToken == nil {
		t.Fatalf("second token: %+v err=%v", second, err)
	}
	if *first.StreamToken == *second.StreamToken {
		t.Fatal("stream token must change on every update")
	}
}
