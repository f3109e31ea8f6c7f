package auth_test

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"

	auth "github.com/goliatone/go-tenant-auth"
)

type MockStatusWriter struct {
	mock.Mock
}

func (m *MockStatusWriter) UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, change auth.StatusChange) error {
	args := m.Called(ctx, tx, id, change)
	return args.Error(0)
}

type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event auth.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
