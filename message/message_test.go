package message_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heromessaging/heromessaging/message"
)

func TestNewBaseIsValid(t *testing.T) {
	b := message.NewBase(time.Now())
	assert.True(t, b.Valid())
	assert.NotEqual(t, uuid.Nil, b.MessageId)
}

func TestBaseInvalidWhenZero(t *testing.T) {
	var b message.Base
	assert.False(t, b.Valid())

	b.MessageId = uuid.New()
	assert.False(t, b.Valid(), "zero timestamp still invalid")
}

func TestMetadataCopyOnWrite(t *testing.T) {
	m1 := message.NewMetadata()
	m2 := m1.WithMetadata("a", 1)
	m3 := m2.WithMetadata("b", 2)

	assert.Equal(t, 0, m1.Len())
	assert.Equal(t, 1, m2.Len())
	assert.Equal(t, 2, m3.Len())
	assert.Equal(t, []string{"a", "b"}, m3.Keys())

	v, ok := m3.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = m2.Get("b")
	assert.False(t, ok, "m2 must not see b added via m3")
}

func TestMetadataOverwritePreservesOrder(t *testing.T) {
	m := message.NewMetadata().WithMetadata("a", 1).WithMetadata("b", 2).WithMetadata("a", 3)
	assert.Equal(t, []string{"a", "b"}, m.Keys())
	v, _ := m.Get("a")
	assert.Equal(t, 3, v)
}

func TestProcessingContextWithMetadataIsCopyOnWrite(t *testing.T) {
	ctx := message.NewProcessingContext("validator")
	derived := ctx.WithMetadata("k", "v")

	assert.Equal(t, 0, ctx.Metadata.Len())
	v, ok := derived.Metadata.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestProcessingContextWithRetryCount(t *testing.T) {
	ctx := message.NewProcessingContext("retry")
	derived := ctx.WithRetryCount(3)
	assert.Equal(t, 0, ctx.RetryCount)
	assert.Equal(t, 3, derived.RetryCount)
}

func TestResultSuccessAndFailure(t *testing.T) {
	s := message.Success(nil, 42)
	assert.True(t, s.IsSuccess())
	assert.False(t, s.IsFailure())
	assert.Equal(t, 42, s.Data())
	assert.NoError(t, s.Err())

	cause := errors.New("boom")
	f := message.Failure(cause, nil)
	assert.True(t, f.IsFailure())
	assert.False(t, f.IsSuccess())
	assert.Equal(t, cause, f.Err())
}

func TestCompensationFailureUnwrap(t *testing.T) {
	e1 := &message.CompensationError{ActionName: "a", Err: errors.New("x")}
	e2 := &message.CompensationError{ActionName: "b", Err: errors.New("y")}
	agg := &message.CompensationFailure{Errors: []*message.CompensationError{e1, e2}}

	assert.True(t, errors.Is(agg, e1.Err))
	assert.True(t, errors.Is(agg, e2.Err))

	var target *message.CompensationError
	assert.True(t, errors.As(agg, &target))
}

func TestConcurrencyErrorWrapsSentinel(t *testing.T) {
	err := &message.ConcurrencyError{CorrelationID: uuid.New(), ExpectedVersion: 1, ActualVersion: 2}
	assert.True(t, errors.Is(err, message.ErrConcurrency))
}
