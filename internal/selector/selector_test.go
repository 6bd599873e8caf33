package selector

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/internal/selector/mocks"
	"github.com/shenikar/emergency_dispatch_system/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var center = models.Point{Latitude: 10, Longitude: 20}

func candidate(spec models.Specialization, distance float64) models.Candidate {
	return models.Candidate{
		User: models.User{
			ID:             uuid.New(),
			Role:           models.RoleResponder,
			Specialization: spec,
			IsAvailable:    true,
		},
		DistanceMeters: distance,
	}
}

func ids(cs []models.Candidate) []uuid.UUID {
	out := make([]uuid.UUID, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func TestSelect_FewSpecialistsFilledWithOthers(t *testing.T) {
	ctrl := gomock.NewController(t)
	dir := mocks.NewMockDirectory(ctrl)
	s := New(dir, 3)
	ctx := context.Background()

	fire1 := candidate(models.SpecializationFire, 120)
	fire2 := candidate(models.SpecializationFire, 900)
	med := candidate(models.SpecializationMedical, 50)
	pol := candidate(models.SpecializationPolice, 300)
	none := candidate(models.SpecializationNone, 700)

	gomock.InOrder(
		dir.EXPECT().
			Nearby(ctx, models.NearbyQuery{
				Center:         center,
				RadiusMeters:   10000,
				Specialization: models.SpecializationFire,
				Limit:          5,
			}).
			Return([]models.Candidate{fire1, fire2}, nil),
		dir.EXPECT().
			Nearby(ctx, models.NearbyQuery{
				Center:       center,
				RadiusMeters: 10000,
				Exclude:      []uuid.UUID{fire1.ID, fire2.ID},
				Limit:        3,
			}).
			Return([]models.Candidate{med, pol, none}, nil),
	)

	got, err := s.Select(ctx, models.TypeFire, center, 10000, 5)

	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{fire1.ID, fire2.ID, med.ID, pol.ID, none.ID}, ids(got))
	assert.LessOrEqual(t, len(got), 5)
	for _, c := range got {
		assert.True(t, c.IsAvailable)
	}
}

func TestSelect_EnoughSpecialistsSkipsFallback(t *testing.T) {
	ctrl := gomock.NewController(t)
	dir := mocks.NewMockDirectory(ctrl)
	s := New(dir, 3)
	ctx := context.Background()

	specialists := []models.Candidate{
		candidate(models.SpecializationMedical, 10),
		candidate(models.SpecializationMedical, 20),
		candidate(models.SpecializationMedical, 30),
	}
	dir.EXPECT().
		Nearby(ctx, gomock.Any()).
		Return(specialists, nil).
		Times(1)

	got, err := s.Select(ctx, models.TypeMedical, center, 10000, 5)

	require.NoError(t, err)
	assert.Equal(t, ids(specialists), ids(got))
}

func TestSelect_OtherTypeRunsUnrestrictedQuery(t *testing.T) {
	ctrl := gomock.NewController(t)
	dir := mocks.NewMockDirectory(ctrl)
	s := New(dir, 3)
	ctx := context.Background()

	any1 := candidate(models.SpecializationPolice, 10)
	dir.EXPECT().
		Nearby(ctx, models.NearbyQuery{Center: center, RadiusMeters: 2500, Limit: 5}).
		Return([]models.Candidate{any1}, nil).
		Times(1)

	got, err := s.Select(ctx, models.TypeOther, center, 2500, 0)

	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{any1.ID}, ids(got))
}

func TestSelect_NoMatchesIsNotAnError(t *testing.T) {
	ctrl := gomock.NewController(t)
	dir := mocks.NewMockDirectory(ctrl)
	s := New(dir, 3)
	ctx := context.Background()

	dir.EXPECT().Nearby(ctx, gomock.Any()).Return(nil, nil).Times(2)

	got, err := s.Select(ctx, models.TypeDisaster, center, 10000, 5)

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSelect_DirectoryError(t *testing.T) {
	ctrl := gomock.NewController(t)
	dir := mocks.NewMockDirectory(ctrl)
	s := New(dir, 3)
	ctx := context.Background()
	storeErr := apperror.Wrap(apperror.KindUnavailable, errors.New("connection refused"), "nearby query")

	dir.EXPECT().Nearby(ctx, gomock.Any()).Return(nil, storeErr).Times(1)

	got, err := s.Select(ctx, models.TypeFire, center, 10000, 5)

	require.Error(t, err)
	assert.Nil(t, got)
	assert.True(t, apperror.Retryable(err))
}

func TestSelect_InvalidRadius(t *testing.T) {
	ctrl := gomock.NewController(t)
	dir := mocks.NewMockDirectory(ctrl)
	s := New(dir, 3)

	_, err := s.Select(context.Background(), models.TypeFire, center, 0, 5)

	assert.True(t, errors.Is(err, apperror.ErrValidation))
}
