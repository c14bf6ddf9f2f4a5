package inventory

import (
	"context"
	"log/slog"

	"github.com/geethx/workshop/internal/apperr"
	"github.com/geethx/workshop/internal/auth"
	"github.com/geethx/workshop/internal/model"
	"github.com/geethx/workshop/internal/validation"
)

// BatchInput applies one action to several items. Notes and checkout
// details are shared by every item.
type BatchInput struct {
	Action         string   `json:"action" validate:"required,oneof=CheckIn CheckOut"`
	Codes          []string `json:"codes" validate:"required,min=1,max=200,dive,required,max=64"`
	Notes          string   `json:"notes" validate:"max=1000"`
	CheckoutPerson string   `json:"checkoutPerson" validate:"max=200"`
	ProjectName    string   `json:"projectName" validate:"max=200"`
}

// ItemError is the failure reported for one item of a batch.
type ItemError struct {
	Code          apperr.Kind `json:"code"`
	Message       string      `json:"message"`
	CurrentStatus string      `json:"currentStatus,omitempty"`
}

// BatchItemResult is the outcome for one code, in submission order.
type BatchItemResult struct {
	Code        string             `json:"code"`
	OK          bool               `json:"ok"`
	Transaction *model.Transaction `json:"transaction,omitempty"`
	Item        *model.Item        `json:"item,omitempty"`
	Error       *ItemError         `json:"error,omitempty"`
}

type BatchResult struct {
	Results   []BatchItemResult `json:"results"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
}

// Batch applies in.Action to each code in order, each as its own atomic
// transition. A failed item does not undo or stop the others. Once ctx is
// done the remaining items are reported as canceled; committed transitions
// stay committed.
func (s *Service) Batch(ctx context.Context, actor *model.User, in BatchInput) (*BatchResult, error) {
	if err := auth.Require(actor, auth.CapInventoryTransition); err != nil {
		return nil, err
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	shared := TransitionInput{Notes: in.Notes, CheckoutPerson: in.CheckoutPerson, ProjectName: in.ProjectName}
	shared.normalize(in.Action)
	if in.Action == model.ActionCheckOut {
		if err := requireCheckoutDetails(shared.CheckoutPerson, shared.ProjectName); err != nil {
			return nil, err
		}
	}

	out := &BatchResult{Results: make([]BatchItemResult, 0, len(in.Codes))}
	for _, raw := range in.Codes {
		code := model.NormalizeCode(raw)
		r := BatchItemResult{Code: code}

		var err error
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = apperr.Wrap(apperr.KindCanceled, ctxErr, "%s was not processed", code)
		} else {
			item := shared
			item.Code = code
			var res *TransitionResult
			res, err = s.apply(ctx, actor, in.Action, item)
			if err == nil {
				r.OK = true
				r.Transaction = res.Transaction
				r.Item = res.Item
			}
		}

		if err != nil {
			r.Error = itemError(err)
			out.Failed++
		} else {
			out.Succeeded++
		}
		out.Results = append(out.Results, r)
	}

	slog.Info("batch processed", "user", actor.Name, "action", in.Action,
		"items", len(in.Codes), "succeeded", out.Succeeded, "failed", out.Failed)
	return out, nil
}

func itemError(err error) *ItemError {
	e, ok := apperr.As(err)
	if !ok {
		slog.Error("batch item failed", "error", err)
		return &ItemError{Code: apperr.KindInternal, Message: "internal error"}
	}
	return &ItemError{Code: e.Kind, Message: e.Message, CurrentStatus: e.CurrentStatus}
}
