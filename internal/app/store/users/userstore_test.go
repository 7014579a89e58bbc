package userstore_test

import (
	"errors"
	"testing"

	userstore "github.com/dalemusser/ridechat/internal/app/store/users"
	"github.com/dalemusser/ridechat/internal/app/system/indexes"
	"github.com/dalemusser/ridechat/internal/domain/models"
	"github.com/dalemusser/ridechat/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestStore_Create_LowercasesUsername(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u, err := store.Create(ctx, models.User{Username: "  Jordan ", FullName: "Jordan Lee"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if u.Username != "jordan" {
		t.Errorf("username: got %q, want jordan", u.Username)
	}
	if u.Status != "active" {
		t.Errorf("status: got %q, want active", u.Status)
	}
}

func TestStore_Create_Duplicate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}
	if _, err := store.Create(ctx, models.User{Username: "sam"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.Create(ctx, models.User{Username: "SAM"}); !errors.Is(err, userstore.ErrDuplicateUsername) {
		t.Errorf("expected ErrDuplicateUsername, got %v", err)
	}
}

func TestStore_LookupByUsernameAndEmail(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	created, err := store.Create(ctx, models.User{Username: "riley", Email: " Riley@Campus.Test "})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	byName, err := store.GetByUsername(ctx, "RILEY")
	if err != nil || byName.ID != created.ID {
		t.Errorf("GetByUsername: got %v, %v", byName, err)
	}
	byEmail, err := store.GetByEmail(ctx, "riley@campus.test")
	if err != nil || byEmail.ID != created.ID {
		t.Errorf("GetByEmail: got %v, %v", byEmail, err)
	}
	if _, err := store.GetByUsername(ctx, "nobody"); !errors.Is(err, mongo.ErrNoDocuments) {
		t.Errorf("expected ErrNoDocuments, got %v", err)
	}
}

func TestStore_DisplayName(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u := fixtures.CreateUser(ctx, "riley")
	name, err := store.DisplayName(ctx, u.ID)
	if err != nil {
		t.Fatalf("DisplayName failed: %v", err)
	}
	if name != "riley" {
		t.Errorf("got %q, want riley", name)
	}

	if _, err := store.DisplayName(ctx, primitive.NewObjectID()); !errors.Is(err, mongo.ErrNoDocuments) {
		t.Errorf("unknown user: expected mongo.ErrNoDocuments, got %v", err)
	}
}

func TestFetcher_DisabledUser(t *testing.T) {
	db := testutil.SetupTestDB(t)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u := fixtures.CreateUser(ctx, "casey")
	f := userstore.NewFetcher(db)

	su := f.FetchUser(ctx, u.ID)
	if su == nil || su.ID != u.ID.Hex() || su.Username != "casey" {
		t.Fatalf("FetchUser: got %+v", su)
	}

	if _, err := db.Collection("users").UpdateOne(ctx, bson.M{"_id": u.ID}, bson.M{"$set": bson.M{"status": "disabled"}}); err != nil {
		t.Fatalf("disable failed: %v", err)
	}
	if su := f.FetchUser(ctx, u.ID); su != nil {
		t.Errorf("disabled user: expected nil, got %+v", su)
	}
}
