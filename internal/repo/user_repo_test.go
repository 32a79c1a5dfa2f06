package repo

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/go-lending-backend/internal/domain"
)

func newLendingDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := newTestDB(t)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, id string, quota int) *domain.User {
	t.Helper()
	u := &domain.User{ID: id, Name: id, RequestsLimit: quota}
	if err := CreateUser(context.Background(), db, u); err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
	return u
}

func TestGetUser_FoundAndMissing(t *testing.T) {
	db := newLendingDB(t)
	ctx := context.Background()

	if _, err := GetUser(ctx, db, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	seedUser(t, db, "u1", 3)
	u, err := GetUser(ctx, db, "u1")
	if err != nil || u.RequestsLimit != 3 || u.CreatedAt.IsZero() {
		t.Fatalf("unexpected user: %+v, %v", u, err)
	}
}

func TestConsumeQuota_StopsAtZero(t *testing.T) {
	db := newLendingDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1", 2)

	for i := 0; i < 2; i++ {
		ok, err := ConsumeQuota(ctx, db, "u1")
		if err != nil || !ok {
			t.Fatalf("consume #%d: ok=%v err=%v", i+1, ok, err)
		}
	}
	ok, err := ConsumeQuota(ctx, db, "u1")
	if err != nil || ok {
		t.Fatalf("expected exhausted quota, got ok=%v err=%v", ok, err)
	}
	u, _ := GetUser(ctx, db, "u1")
	if u.RequestsLimit != 0 {
		t.Fatalf("quota must never go negative, got %d", u.RequestsLimit)
	}

	if ok, _ := ConsumeQuota(ctx, db, "ghost"); ok {
		t.Fatalf("missing user has no quota")
	}
}

func TestAddQuota(t *testing.T) {
	db := newLendingDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1", 0)

	if err := AddQuota(ctx, db, "u1", 1); err != nil {
		t.Fatalf("AddQuota: %v", err)
	}
	u, _ := GetUser(ctx, db, "u1")
	if u.RequestsLimit != 1 {
		t.Fatalf("expected 1, got %d", u.RequestsLimit)
	}
	if err := AddQuota(ctx, db, "ghost", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateUserProfile(t *testing.T) {
	db := newLendingDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1", 3)

	if err := UpdateUserProfile(ctx, db, "u1", nil); err != nil {
		t.Fatalf("empty update should be a no-op: %v", err)
	}
	lat, lng := 38.7, -9.1
	if err := UpdateUserProfile(ctx, db, "u1", map[string]any{"course": "Physics", "lat": lat, "lng": lng}); err != nil {
		t.Fatalf("UpdateUserProfile: %v", err)
	}
	u, _ := GetUser(ctx, db, "u1")
	if u.Course != "Physics" || !u.HasLocation() || *u.Lat != lat {
		t.Fatalf("profile not applied: %+v", u)
	}
	if err := UpdateUserProfile(ctx, db, "ghost", map[string]any{"genre": "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestItemSets_AddRemoveIdempotent(t *testing.T) {
	db := newLendingDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1", 3)
	drill, _ := CreateItemIfAbsent(ctx, db, "Drill", "drill")
	saw, _ := CreateItemIfAbsent(ctx, db, "Saw", "saw")

	for i := 0; i < 2; i++ {
		if err := AddItemToSet(ctx, db, "u1", SetHas, drill); err != nil {
			t.Fatalf("AddItemToSet: %v", err)
		}
	}
	if err := AddItemToSet(ctx, db, "u1", SetHasNot, saw); err != nil {
		t.Fatalf("AddItemToSet hasNot: %v", err)
	}

	u, err := GetUserWithItems(ctx, db, "u1")
	if err != nil {
		t.Fatalf("GetUserWithItems: %v", err)
	}
	if len(u.Has) != 1 || u.Has[0].ID != drill.ID {
		t.Fatalf("expected has=[drill], got %+v", u.Has)
	}
	if len(u.HasNot) != 1 || u.HasNot[0].ID != saw.ID {
		t.Fatalf("expected hasNot=[saw], got %+v", u.HasNot)
	}

	if err := RemoveItemFromSet(ctx, db, "u1", SetHas, drill); err != nil {
		t.Fatalf("RemoveItemFromSet: %v", err)
	}
	// Removing an absent item is fine.
	if err := RemoveItemFromSet(ctx, db, "u1", SetHas, saw); err != nil {
		t.Fatalf("RemoveItemFromSet (absent): %v", err)
	}
	u, _ = GetUserWithItems(ctx, db, "u1")
	if len(u.Has) != 0 || len(u.HasNot) != 1 {
		t.Fatalf("unexpected sets after removal: has=%v hasNot=%v", u.Has, u.HasNot)
	}
}
