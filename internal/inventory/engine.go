package inventory

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/geethx/workshop/internal/apperr"
	"github.com/geethx/workshop/internal/auth"
	"github.com/geethx/workshop/internal/idx"
	"github.com/geethx/workshop/internal/model"
	"github.com/geethx/workshop/internal/store"
	"github.com/geethx/workshop/internal/validation"
)

// TransitionInput describes one check-out or check-in. CheckoutPerson and
// ProjectName are required for check-out and ignored for check-in.
type TransitionInput struct {
	Code           string `json:"code" validate:"required,max=64"`
	Notes          string `json:"notes" validate:"max=1000"`
	CheckoutPerson string `json:"checkoutPerson" validate:"max=200"`
	ProjectName    string `json:"projectName" validate:"max=200"`
}

// TransitionResult is the ledger entry written by a transition and the item
// as it stands afterwards.
type TransitionResult struct {
	Transaction *model.Transaction `json:"transaction"`
	Item        *model.Item        `json:"item"`
}

// CheckOut moves an Inside item to Outside.
func (s *Service) CheckOut(ctx context.Context, actor *model.User, in TransitionInput) (*TransitionResult, error) {
	return s.transition(ctx, actor, model.ActionCheckOut, in)
}

// CheckIn moves an Outside item back Inside.
func (s *Service) CheckIn(ctx context.Context, actor *model.User, in TransitionInput) (*TransitionResult, error) {
	return s.transition(ctx, actor, model.ActionCheckIn, in)
}

func (s *Service) transition(ctx context.Context, actor *model.User, action string, in TransitionInput) (*TransitionResult, error) {
	if err := auth.Require(actor, auth.CapInventoryTransition); err != nil {
		return nil, err
	}
	in.normalize(action)
	if err := in.validate(action); err != nil {
		return nil, err
	}
	return s.apply(ctx, actor, action, in)
}

func (in *TransitionInput) normalize(action string) {
	in.Code = model.NormalizeCode(in.Code)
	in.Notes = strings.TrimSpace(in.Notes)
	in.CheckoutPerson = strings.TrimSpace(in.CheckoutPerson)
	in.ProjectName = strings.TrimSpace(in.ProjectName)
	if action != model.ActionCheckOut {
		in.CheckoutPerson, in.ProjectName = "", ""
	}
}

func (in TransitionInput) validate(action string) error {
	if err := validation.Struct(in); err != nil {
		return err
	}
	if action == model.ActionCheckOut {
		return requireCheckoutDetails(in.CheckoutPerson, in.ProjectName)
	}
	return nil
}

func requireCheckoutDetails(person, project string) error {
	var fields []apperr.FieldError
	if person == "" {
		fields = append(fields, apperr.FieldError{Field: "checkoutPerson", Rule: "required", Message: "is required"})
	}
	if project == "" {
		fields = append(fields, apperr.FieldError{Field: "projectName", Rule: "required", Message: "is required"})
	}
	if len(fields) == 0 {
		return nil
	}
	return &apperr.Error{
		Kind:    apperr.KindValidation,
		Message: "checkout person and project name are required to check out",
		Fields:  fields,
	}
}

// apply performs one validated transition: under the item's lock and inside
// one database transaction it reads the item, checks the state machine,
// writes the new status and appends the ledger entry.
func (s *Service) apply(ctx context.Context, actor *model.User, action string, in TransitionInput) (*TransitionResult, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.transition", trace.WithAttributes(
		attribute.String("item.code", in.Code),
		attribute.String("inventory.action", action),
	))
	defer span.End()

	var res *TransitionResult
	err := s.withItemLock(ctx, in.Code, func() error {
		return s.inTx(ctx, "transition_commit", func(tx *sql.Tx) error {
			item, err := store.GetItemByCode(ctx, tx, in.Code)
			if err != nil {
				return dbErr(err, "read item")
			}
			if item == nil {
				return apperr.New(apperr.KindNotFound, "item %s not found", in.Code)
			}

			if err := checkTransition(item, action); err != nil {
				return err
			}

			now := store.Now()
			if now.Before(item.LastUpdated) {
				now = item.LastUpdated
			}

			target := model.TargetStatus(action)
			ok, err := store.UpdateItemStatus(ctx, tx, item.ID, item.Version, target, in.CheckoutPerson, in.ProjectName, now)
			if err != nil {
				return dbErr(err, "update item status")
			}
			if !ok {
				return apperr.New(apperr.KindBusy, "%s changed concurrently, try again", item.Code)
			}

			entry := &model.Transaction{
				ID:             idx.NewAt(now),
				ItemID:         item.ID,
				ItemCode:       item.Code,
				ItemName:       item.Name,
				Action:         action,
				UserID:         actor.ID,
				UserName:       actor.Name,
				CheckoutPerson: in.CheckoutPerson,
				ProjectName:    in.ProjectName,
				Notes:          in.Notes,
				Timestamp:      now,
			}
			if err := store.InsertTransaction(ctx, tx, entry); err != nil {
				return dbErr(err, "append ledger entry")
			}

			after := *item
			after.Status = target
			after.CheckoutPerson = in.CheckoutPerson
			after.ProjectName = in.ProjectName
			after.LastUpdated = now
			after.Version++

			res = &TransitionResult{Transaction: entry, Item: &after}
			return nil
		})
	})

	result := "ok"
	if err != nil {
		result = string(apperr.KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	}
	s.metrics.ObserveTransition(action, result)
	if err != nil {
		return nil, err
	}

	s.invalidateStats()
	slog.Info("item "+pastTense(action), "user", actor.Name, "code", in.Code,
		"checkout_person", in.CheckoutPerson, "project", in.ProjectName, "transaction", res.Transaction.ID)
	return res, nil
}

func checkTransition(item *model.Item, action string) error {
	switch {
	case action == model.ActionCheckOut && item.Status != model.StatusInside:
		msg := "is already checked out"
		if item.CheckoutPerson != "" {
			msg += " by " + item.CheckoutPerson
		}
		return apperr.InvalidTransition(item.Code, item.Status, msg)
	case action == model.ActionCheckIn && item.Status != model.StatusOutside:
		return apperr.InvalidTransition(item.Code, item.Status, "is already checked in")
	}
	return nil
}

func pastTense(action string) string {
	if action == model.ActionCheckOut {
		return "checked out"
	}
	return "checked in"
}
