package shared

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, "", RequestID(context.Background()))
}

func TestTenantID(t *testing.T) {
	id := uuid.New()
	got, ok := TenantID(WithTenantID(context.Background(), id))
	assert.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = TenantID(context.Background())
	assert.False(t, ok)
}
