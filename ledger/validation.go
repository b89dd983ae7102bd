package ledger

import (
	"fmt"
	"strings"
)

// Every entry point runs its input through these checks before touching the
// store. Each returns the normalized input or a *ValidationError naming the
// first offending field.

func validateCreate(kind Kind, in CreateInput) (CreateInput, error) {
	if !kind.Valid() {
		return CreateInput{}, &ValidationError{Code: CodeInvalidPayload, Field: "type", Message: "transaction type must be intake or outtake"}
	}
	if in.Date.IsZero() {
		return CreateInput{}, &ValidationError{Code: CodeDateRequired, Field: "date", Message: "date is required"}
	}
	if in.Status != nil && !in.Status.Valid() {
		return CreateInput{}, &ValidationError{Code: CodeInvalidPayload, Field: "status", Message: "status must be draft or locked"}
	}

	out := in
	out.Notes = strings.TrimSpace(in.Notes)
	out.Customer = strings.TrimSpace(in.Customer)
	if kind == KindIntake && out.Customer != "" {
		return CreateInput{}, &ValidationError{Code: CodeCustomerNotAllowed, Field: "customer", Message: "customer is only recorded on outtake"}
	}

	items, err := validateLineItems(kind, in.LineItems)
	if err != nil {
		return CreateInput{}, err
	}
	out.LineItems = items
	return out, nil
}

func validateUpdate(kind Kind, in UpdateInput) (UpdateInput, error) {
	if !kind.Valid() {
		return UpdateInput{}, &ValidationError{Code: CodeInvalidPayload, Field: "type", Message: "transaction type must be intake or outtake"}
	}
	if in.empty() {
		return UpdateInput{}, &ValidationError{Code: CodeInvalidPayload, Message: fmt.Sprintf("at least one %s field must be updated", kind)}
	}

	out := in
	if in.Date != nil && in.Date.IsZero() {
		return UpdateInput{}, &ValidationError{Code: CodeDateRequired, Field: "date", Message: "date must be a valid date"}
	}
	if in.Status != nil && !in.Status.Valid() {
		return UpdateInput{}, &ValidationError{Code: CodeInvalidPayload, Field: "status", Message: "status must be draft or locked"}
	}
	if in.Notes != nil {
		notes := strings.TrimSpace(*in.Notes)
		out.Notes = &notes
	}
	if in.Customer != nil {
		customer := strings.TrimSpace(*in.Customer)
		if kind == KindIntake && customer != "" {
			return UpdateInput{}, &ValidationError{Code: CodeCustomerNotAllowed, Field: "customer", Message: "customer is only recorded on outtake"}
		}
		out.Customer = &customer
	}
	if in.LineItems != nil {
		items, err := validateLineItems(kind, in.LineItems)
		if err != nil {
			return UpdateInput{}, err
		}
		out.LineItems = items
	}
	return out, nil
}

func validateLineItems(kind Kind, items []LineItemInput) ([]LineItemInput, error) {
	if len(items) == 0 {
		return nil, &ValidationError{
			Code:    CodeLineItemsRequired,
			Field:   "lineItems",
			Message: fmt.Sprintf("at least one %s line item is required", kind),
		}
	}

	out := make([]LineItemInput, len(items))
	for i, item := range items {
		field := fmt.Sprintf("lineItems[%d]", i)
		if item.Units <= 0 {
			return nil, &ValidationError{Code: CodeUnitsInvalid, Field: field + ".units", Message: "units must be a positive whole number"}
		}

		id := ProductID(strings.TrimSpace(string(item.ProductID)))
		if id != "" {
			out[i] = LineItemInput{ProductID: id, Units: item.Units}
			continue
		}

		if kind == KindOuttake || item.Identity == nil {
			msg := "each outtake line item requires productId"
			if kind == KindIntake {
				msg = "each intake line item requires productId or productName/productCategory/lotNumber"
			}
			return nil, &ValidationError{Code: CodeProductRequired, Field: field + ".productId", Message: msg}
		}

		identity, err := validateIdentity(*item.Identity, field)
		if err != nil {
			return nil, err
		}
		out[i] = LineItemInput{Identity: &identity, Units: item.Units}
	}
	return out, nil
}

func validateIdentity(identity ProductIdentity, field string) (ProductIdentity, error) {
	n := identity.normalized()
	if !n.complete() {
		return ProductIdentity{}, &ValidationError{
			Code:    CodeProductRequired,
			Field:   field,
			Message: "productName, productCategory and lotNumber are all required",
		}
	}
	return n, nil
}

