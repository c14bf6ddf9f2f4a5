package inventory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/geethx/workshop/internal/apperr"
	"github.com/geethx/workshop/internal/auth"
	"github.com/geethx/workshop/internal/imaging"
	"github.com/geethx/workshop/internal/model"
	"github.com/geethx/workshop/internal/store"
	"github.com/geethx/workshop/internal/validation"
)

type CreateItemInput struct {
	Code        string `json:"code" validate:"required,max=64"`
	Name        string `json:"name" validate:"required,max=200"`
	Category    string `json:"category" validate:"required,max=100"`
	Description string `json:"description" validate:"max=2000"`
	ImageRef    string `json:"imageRef" validate:"omitempty,max=2048"`
}

// UpdateItemInput carries the fields to change. Code and Status are accepted
// only so that an attempt to change them can be rejected.
type UpdateItemInput struct {
	Code        *string `json:"code"`
	Status      *string `json:"status"`
	Name        *string `json:"name" validate:"omitnil,min=1,max=200"`
	Category    *string `json:"category" validate:"omitnil,min=1,max=100"`
	Description *string `json:"description" validate:"omitnil,max=2000"`
	ImageRef    *string `json:"imageRef" validate:"omitnil,max=2048"`
}

func (in *CreateItemInput) normalize() {
	in.Code = model.NormalizeCode(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	in.Category = strings.TrimSpace(in.Category)
	in.Description = strings.TrimSpace(in.Description)
	in.ImageRef = strings.TrimSpace(in.ImageRef)
}

func (in *UpdateItemInput) normalize() {
	for _, p := range []*string{in.Name, in.Category, in.Description, in.ImageRef} {
		if p != nil {
			*p = strings.TrimSpace(*p)
		}
	}
}

// CreateItem adds an item to the catalog with status Inside.
func (s *Service) CreateItem(ctx context.Context, actor *model.User, in CreateItemInput) (*model.Item, error) {
	if err := auth.Require(actor, auth.CapCatalogWrite); err != nil {
		return nil, err
	}
	in.normalize()
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "inventory.create_item",
		trace.WithAttributes(attribute.String("item.code", in.Code)))
	defer span.End()

	var created *model.Item
	err := s.withItemLock(ctx, in.Code, func() error {
		item, err := store.CreateItem(ctx, s.db, &model.Item{
			Code:        in.Code,
			Name:        in.Name,
			Category:    in.Category,
			Description: in.Description,
			ImageRef:    in.ImageRef,
		})
		if err != nil {
			if store.IsUniqueViolation(err) {
				return apperr.New(apperr.KindDuplicateCode, "item code %q already exists", in.Code)
			}
			return dbErr(err, "create item")
		}
		created = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateStats()
	slog.Info("item created", "user", actor.Name, "code", created.Code, "name", created.Name)
	return created, nil
}

// UpdateItem applies the non-nil descriptive fields of in to item id.
func (s *Service) UpdateItem(ctx context.Context, actor *model.User, id int64, in UpdateItemInput) (*model.Item, error) {
	if err := auth.Require(actor, auth.CapCatalogWrite); err != nil {
		return nil, err
	}
	in.normalize()
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	current, err := s.mustGetItem(ctx, id)
	if err != nil {
		return nil, err
	}

	var updated *model.Item
	err = s.withItemLock(ctx, current.Code, func() error {
		item, err := s.mustGetItem(ctx, id)
		if err != nil {
			return err
		}
		if in.Code != nil && model.NormalizeCode(*in.Code) != item.Code {
			return apperr.Validation("code", "immutable", "cannot be changed")
		}
		if in.Status != nil && *in.Status != item.Status {
			return apperr.Validation("status", "immutable", "changes only through check-out and check-in")
		}

		next := *item
		if in.Name != nil {
			next.Name = *in.Name
		}
		if in.Category != nil {
			next.Category = *in.Category
		}
		if in.Description != nil {
			next.Description = *in.Description
		}
		if in.ImageRef != nil {
			next.ImageRef = *in.ImageRef
		}
		if next == *item {
			updated = item
			return nil
		}

		ok, err := store.UpdateItemDetails(ctx, s.db, &next)
		if err != nil {
			return dbErr(err, "update item")
		}
		if !ok {
			return apperr.New(apperr.KindBusy, "%s changed concurrently, try again", item.Code)
		}
		updated, err = s.mustGetItem(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidateStats()
	slog.Info("item updated", "user", actor.Name, "code", updated.Code)
	return updated, nil
}

// DeleteItem removes item id. Its ledger entries are kept.
func (s *Service) DeleteItem(ctx context.Context, actor *model.User, id int64) error {
	if err := auth.Require(actor, auth.CapCatalogWrite); err != nil {
		return err
	}

	current, err := s.mustGetItem(ctx, id)
	if err != nil {
		return err
	}

	err = s.withItemLock(ctx, current.Code, func() error {
		if _, err := s.mustGetItem(ctx, id); err != nil {
			return err
		}
		return dbErr(store.DeleteItem(ctx, s.db, id), "delete item")
	})
	if err != nil {
		return err
	}

	s.invalidateStats()
	slog.Info("item deleted", "user", actor.Name, "code", current.Code)
	return nil
}

func (s *Service) GetItem(ctx context.Context, actor *model.User, id int64) (*model.Item, error) {
	if err := auth.Require(actor, auth.CapInventoryRead); err != nil {
		return nil, err
	}
	return s.mustGetItem(ctx, id)
}

// GetItemByCode looks an item up by code in any case.
func (s *Service) GetItemByCode(ctx context.Context, actor *model.User, code string) (*model.Item, error) {
	if err := auth.Require(actor, auth.CapInventoryRead); err != nil {
		return nil, err
	}
	code = model.NormalizeCode(code)
	item, err := store.GetItemByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, apperr.New(apperr.KindNotFound, "item %s not found", code)
	}
	return item, nil
}

// ListItems returns the items matching f, ordered by code.
func (s *Service) ListItems(ctx context.Context, actor *model.User, f model.ItemFilter) ([]model.Item, error) {
	if err := auth.Require(actor, auth.CapInventoryRead); err != nil {
		return nil, err
	}
	if f.Status != "" && f.Status != model.StatusInside && f.Status != model.StatusOutside {
		return nil, apperr.Validation("status", "oneof", "must be one of Inside, Outside")
	}
	return store.ListItems(ctx, s.db, f)
}

// SetImage stores a normalized photo for item id and points its imageRef
// at it.
func (s *Service) SetImage(ctx context.Context, actor *model.User, id int64, r io.Reader) (*model.Item, error) {
	if err := auth.Require(actor, auth.CapCatalogWrite); err != nil {
		return nil, err
	}

	current, err := s.mustGetItem(ctx, id)
	if err != nil {
		return nil, err
	}

	photo, err := imaging.Normalize(r, s.cfg.Imaging)
	if err != nil {
		if errors.Is(err, imaging.ErrUnsupported) {
			return nil, apperr.Validation("image", "format", "must be a JPEG or PNG image")
		}
		return nil, apperr.Wrap(apperr.KindValidation, err, "could not read image")
	}

	var updated *model.Item
	err = s.withItemLock(ctx, current.Code, func() error {
		if _, err := s.mustGetItem(ctx, id); err != nil {
			return err
		}
		ref := fmt.Sprintf("/api/images/%d", id)
		if err := store.SetItemImage(ctx, s.db, id, photo.Data, photo.MIME, ref); err != nil {
			return dbErr(err, "store image")
		}
		item, err := s.mustGetItem(ctx, id)
		updated = item
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("item image set", "user", actor.Name, "code", updated.Code, "bytes", len(photo.Data), "width", photo.Width, "height", photo.Height)
	return updated, nil
}

// Image returns the stored photo of item id and its MIME type.
func (s *Service) Image(ctx context.Context, actor *model.User, id int64) ([]byte, string, error) {
	if err := auth.Require(actor, auth.CapInventoryRead); err != nil {
		return nil, "", err
	}
	data, mime, err := store.GetItemImage(ctx, s.db, id)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", apperr.New(apperr.KindNotFound, "item %d has no image", id)
	}
	return data, mime, nil
}

func (s *Service) mustGetItem(ctx context.Context, id int64) (*model.Item, error) {
	item, err := store.GetItem(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, apperr.New(apperr.KindNotFound, "item %d not found", id)
	}
	return item, nil
}
