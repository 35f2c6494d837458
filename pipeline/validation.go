package pipeline

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/heromessaging/heromessaging/message"
	"github.com/heromessaging/heromessaging/serializer"
)

// ValidationResult is a single Validator's verdict.
type ValidationResult struct {
	IsValid bool
	Errors  []string
}

// Validator checks one aspect of a message before it reaches the inner
// processor. Validate never returns an error: a sizing or lookup failure is
// reported as a validation Error string instead, so one misbehaving
// validator cannot abort the whole chain with an unhandled error.
type Validator interface {
	Validate(msg *message.Message) ValidationResult
}

// RequiredFieldsValidator fails a message whose MessageId or Timestamp is
// the zero value, or whose Metadata is missing any of RequiredMetadataKeys
// (or holds only a null/empty/whitespace-only string for one).
type RequiredFieldsValidator struct {
	RequiredMetadataKeys []string
}

// Validate implements Validator.
func (v RequiredFieldsValidator) Validate(msg *message.Message) ValidationResult {
	var errs []string

	if msg.MessageId == uuid.Nil {
		errs = append(errs, "MessageId must not be the zero value")
	}
	if msg.Timestamp.IsZero() {
		errs = append(errs, "Timestamp must not be the zero value")
	}

	for _, key := range v.RequiredMetadataKeys {
		value, ok := msg.Metadata.Get(key)
		if !ok || isBlank(value) {
			errs = append(errs, fmt.Sprintf("required metadata key %q is missing or blank", key))
		}
	}

	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimFunc(t, unicode.IsSpace) == ""
	default:
		return false
	}
}

// MessageSizeValidator fails a message whose JSON-encoded size, per Sizer,
// exceeds MaxBytes. A sizing error is itself reported as a validation
// failure rather than propagated.
type MessageSizeValidator struct {
	MaxBytes int
	Sizer    serializer.JSONSizer
}

// Validate implements Validator.
func (v MessageSizeValidator) Validate(msg *message.Message) ValidationResult {
	sizer := v.Sizer
	if sizer == nil {
		sizer = serializer.Default{}
	}

	n, err := sizer.GetJSONByteCount(msg)
	if err != nil {
		return ValidationResult{IsValid: false, Errors: []string{fmt.Sprintf("failed to compute message size: %v", err)}}
	}
	if n > v.MaxBytes {
		return ValidationResult{IsValid: false, Errors: []string{fmt.Sprintf("message size %d bytes exceeds limit of %d bytes", n, v.MaxBytes)}}
	}
	return ValidationResult{IsValid: true}
}

// Validation is a Processor decorator that runs every Validator in order
// before forwarding to Inner; the first failing validator (and any after
// it) contribute to a single aggregated Failure result.
type Validation struct {
	Inner      Processor
	Validators []Validator
}

// Process implements Processor.
func (d Validation) Process(ctx context.Context, msg *message.Message, pctx message.ProcessingContext) (message.Result, error) {
	var errs []string
	for _, v := range d.Validators {
		if r := v.Validate(msg); !r.IsValid {
			errs = append(errs, r.Errors...)
		}
	}
	if len(errs) > 0 {
		return message.Failure(fmt.Errorf("%w: %s", message.ErrInvalidInput, strings.Join(errs, "; ")), msg), nil
	}
	return d.Inner.Process(ctx, msg, pctx)
}
