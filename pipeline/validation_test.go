package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heromessaging/heromessaging/message"
	"github.com/heromessaging/heromessaging/pipeline"
	"github.com/heromessaging/heromessaging/serializer"
)

func newValidMessage() *message.Message {
	base := message.NewBase(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return &message.Message{Base: base, Payload: "hello"}
}

func TestValidationForwardsWhenAllValidatorsPass(t *testing.T) {
	var invoked bool
	inner := pipeline.ProcessorFunc(func(ctx context.Context, msg *message.Message, pctx message.ProcessingContext) (message.Result, error) {
		invoked = true
		return message.Success(msg, nil), nil
	})

	v := pipeline.Validation{Inner: inner, Validators: []pipeline.Validator{pipeline.RequiredFieldsValidator{}}}

	r, err := v.Process(context.Background(), newValidMessage(), message.NewProcessingContext("test"))
	require.NoError(t, err)
	assert.True(t, r.IsSuccess())
	assert.True(t, invoked)
}

func TestValidationShortCircuitsOnFailure(t *testing.T) {
	inner := pipeline.ProcessorFunc(func(ctx context.Context, msg *message.Message, pctx message.ProcessingContext) (message.Result, error) {
		t.Fatal("inner must not be invoked when validation fails")
		return message.Result{}, nil
	})

	v := pipeline.Validation{Inner: inner, Validators: []pipeline.Validator{pipeline.RequiredFieldsValidator{}}}

	msg := &message.Message{Payload: "hello"} // zero MessageId and Timestamp
	r, err := v.Process(context.Background(), msg, message.NewProcessingContext("test"))
	require.NoError(t, err)
	assert.True(t, r.IsFailure())
	assert.True(t, errors.Is(r.Err(), message.ErrInvalidInput))
}

func TestRequiredFieldsValidatorChecksMetadataKeys(t *testing.T) {
	v := pipeline.RequiredFieldsValidator{RequiredMetadataKeys: []string{"tenant"}}

	msg := newValidMessage()
	result := v.Validate(msg)
	assert.False(t, result.IsValid)
	assert.Contains(t, result.Errors[0], "tenant")

	msg.Metadata = msg.Metadata.WithMetadata("tenant", "  ")
	result = v.Validate(msg)
	assert.False(t, result.IsValid, "whitespace-only value must fail")

	msg.Metadata = msg.Metadata.WithMetadata("tenant", "acme")
	result = v.Validate(msg)
	assert.True(t, result.IsValid)
}

func TestMessageSizeValidatorRejectsOversizedMessages(t *testing.T) {
	v := pipeline.MessageSizeValidator{MaxBytes: 1, Sizer: serializer.Default{}}
	result := v.Validate(newValidMessage())
	assert.False(t, result.IsValid)
}

func TestMessageSizeValidatorAllowsMessagesWithinLimit(t *testing.T) {
	v := pipeline.MessageSizeValidator{MaxBytes: 1 << 20, Sizer: serializer.Default{}}
	result := v.Validate(newValidMessage())
	assert.True(t, result.IsValid)
}

func TestRequiredFieldsValidatorMessageIdMustNotBeNil(t *testing.T) {
	v := pipeline.RequiredFieldsValidator{}
	msg := newValidMessage()
	msg.MessageId = uuid.Nil
	result := v.Validate(msg)
	assert.False(t, result.IsValid)
}
