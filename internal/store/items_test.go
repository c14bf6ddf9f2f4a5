package store

import (
	"context"
	"testing"
	"time"

	"github.com/geethx/workshop/internal/db"
	"github.com/geethx/workshop/internal/model"
)

func createItem(t *testing.T, q Querier, code, name, category string) *model.Item {
	t.Helper()
	item, err := CreateItem(context.Background(), q, &model.Item{Code: code, Name: name, Category: category})
	if err != nil {
		t.Fatalf("CreateItem(%s): %v", code, err)
	}
	return item
}

func TestCreateAndGetItem(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	item := createItem(t, database, "DRL-01", "Drill", "Tools")
	if item.Status != model.StatusInside {
		t.Errorf("expected status Inside, got %q", item.Status)
	}
	if item.CheckoutPerson != "" || item.ProjectName != "" {
		t.Errorf("expected no checkout details, got %+v", item)
	}

	got, err := GetItemByCode(ctx, database, "DRL-01")
	if err != nil {
		t.Fatalf("GetItemByCode: %v", err)
	}
	if got == nil || got.ID != item.ID {
		t.Fatalf("expected item %d by code, got %+v", item.ID, got)
	}

	missing, err := GetItem(ctx, database, item.ID+100)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing item")
	}
}

func TestCreateItemDuplicateCode(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	createItem(t, database, "SAW-01", "Saw", "Tools")
	_, err := CreateItem(ctx, database, &model.Item{Code: "SAW-01", Name: "Other saw", Category: "Tools"})
	if !IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}
}

func TestListItemsFilter(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	drill := createItem(t, database, "DRL-01", "Drill", "Tools")
	createItem(t, database, "SAW-01", "Saw", "Tools")
	createItem(t, database, "CAB-10", "Cable 100%", "Electrical")

	ok, err := UpdateItemStatus(ctx, database, drill.ID, drill.Version, model.StatusOutside, "Alex", "Bench Build", Now())
	if err != nil || !ok {
		t.Fatalf("UpdateItemStatus: %v %v", ok, err)
	}

	tests := []struct {
		name   string
		filter model.ItemFilter
		want   int
	}{
		{"all", model.ItemFilter{}, 3},
		{"status", model.ItemFilter{Status: model.StatusOutside}, 1},
		{"category", model.ItemFilter{Category: "Tools"}, 2},
		{"search name", model.ItemFilter{Search: "sAw"}, 1},
		{"search person", model.ItemFilter{Search: "alex"}, 1},
		{"search project", model.ItemFilter{Search: "bench"}, 1},
		{"search literal percent", model.ItemFilter{Search: "100%"}, 1},
		{"search underscore is literal", model.ItemFilter{Search: "_"}, 0},
		{"combined", model.ItemFilter{Status: model.StatusInside, Category: "Tools"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := ListItems(ctx, database, tt.filter)
			if err != nil {
				t.Fatalf("ListItems: %v", err)
			}
			if len(items) != tt.want {
				t.Errorf("expected %d items, got %d", tt.want, len(items))
			}
		})
	}
}

func TestUpdateItemStatusVersionGuard(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	item := createItem(t, database, "DRL-01", "Drill", "Tools")
	at := Now().Add(time.Minute)

	ok, err := UpdateItemStatus(ctx, database, item.ID, item.Version, model.StatusOutside, "Alex", "Bench", at)
	if err != nil || !ok {
		t.Fatalf("first update: %v %v", ok, err)
	}

	ok, err = UpdateItemStatus(ctx, database, item.ID, item.Version, model.StatusInside, "", "", at)
	if err != nil {
		t.Fatalf("stale update: %v", err)
	}
	if ok {
		t.Error("expected stale version to be rejected")
	}

	got, _ := GetItem(ctx, database, item.ID)
	if got.Status != model.StatusOutside || got.CheckoutPerson != "Alex" {
		t.Errorf("unexpected item: %+v", got)
	}
	if !got.LastUpdated.Equal(at) {
		t.Errorf("expected lastUpdated %v, got %v", at, got.LastUpdated)
	}
	if got.Version != item.Version+1 {
		t.Errorf("expected version %d, got %d", item.Version+1, got.Version)
	}
}

func TestCheckInClearsCheckoutDetails(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	item := createItem(t, database, "DRL-01", "Drill", "Tools")
	UpdateItemStatus(ctx, database, item.ID, 0, model.StatusOutside, "Alex", "Bench", Now())
	UpdateItemStatus(ctx, database, item.ID, 1, model.StatusInside, "Alex", "Bench", Now())

	got, _ := GetItem(ctx, database, item.ID)
	if got.Status != model.StatusInside || got.CheckoutPerson != "" || got.ProjectName != "" {
		t.Errorf("expected cleared checkout details, got %+v", got)
	}
}

func TestUpdateItemDetails(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	item := createItem(t, database, "DRL-01", "Drill", "Tools")
	item.Name = "Cordless drill"
	item.Description = "18V"
	ok, err := UpdateItemDetails(ctx, database, item)
	if err != nil || !ok {
		t.Fatalf("UpdateItemDetails: %v %v", ok, err)
	}

	got, _ := GetItem(ctx, database, item.ID)
	if got.Name != "Cordless drill" || got.Description != "18V" || got.Code != "DRL-01" {
		t.Errorf("unexpected item after update: %+v", got)
	}
}

func TestDeleteItem(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	item := createItem(t, database, "DEL-01", "Delete Me", "Misc")
	if err := DeleteItem(ctx, database, item.ID); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}

	got, _ := GetItem(ctx, database, item.ID)
	if got != nil {
		t.Error("expected deleted item to be gone")
	}
}

func TestItemImage(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	item := createItem(t, database, "CAM-01", "Camera", "AV")
	SetItemImage(ctx, database, item.ID, []byte("fake image data"), "image/jpeg", "/api/items/1/image")

	data, mime, err := GetItemImage(ctx, database, item.ID)
	if err != nil {
		t.Fatalf("GetItemImage: %v", err)
	}
	if string(data) != "fake image data" {
		t.Errorf("expected image data, got %q", string(data))
	}
	if mime != "image/jpeg" {
		t.Errorf("expected mime 'image/jpeg', got %q", mime)
	}

	got, _ := GetItem(ctx, database, item.ID)
	if got.ImageRef != "/api/items/1/image" {
		t.Errorf("expected imageRef to be set, got %q", got.ImageRef)
	}
}

func TestCountItems(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	drill := createItem(t, database, "DRL-01", "Drill", "Tools")
	createItem(t, database, "SAW-01", "Saw", "Tools")
	createItem(t, database, "CAB-01", "Cable", "Electrical")
	UpdateItemStatus(ctx, database, drill.ID, drill.Version, model.StatusOutside, "Alex", "Bench", Now())

	c, err := CountItems(ctx, database)
	if err != nil {
		t.Fatalf("CountItems: %v", err)
	}
	if c.Total != 3 || c.Inside != 2 || c.Outside != 1 {
		t.Errorf("unexpected counts: %+v", c)
	}
	if c.Categories["Tools"] != 2 || c.Categories["Electrical"] != 1 {
		t.Errorf("unexpected category breakdown: %v", c.Categories)
	}
}
