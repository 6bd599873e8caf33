package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/service/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestAdminDirectory_CachesList(t *testing.T) {
	// Подготовка
	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserRepository(ctrl)
	dir := NewAdminDirectory(users, time.Minute)
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	// Ожидания: источник опрашивается один раз
	users.EXPECT().ListAdminIDs(gomock.Any()).Return(ids, nil).Times(1)

	// Действие
	first, err := dir.AdminIDs(context.Background())
	require.NoError(t, err)
	first[0] = uuid.Nil
	second, err := dir.AdminIDs(context.Background())

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, ids[1], second[1])
	assert.NotEqual(t, uuid.Nil, second[0], "cached slice must not be shared with callers")
}

func TestAdminDirectory_ErrorNotCached(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserRepository(ctrl)
	dir := NewAdminDirectory(users, time.Minute)
	id := uuid.New()

	gomock.InOrder(
		users.EXPECT().ListAdminIDs(gomock.Any()).Return(nil, errors.New("db is down")),
		users.EXPECT().ListAdminIDs(gomock.Any()).Return([]uuid.UUID{id}, nil),
	)

	_, err := dir.AdminIDs(context.Background())
	require.Error(t, err)

	got, err := dir.AdminIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, got)
}
