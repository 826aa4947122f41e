package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/apperrors"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/models"
)

type registryFixture struct {
	svc       RegistryService
	users     *mockUserRepo
	campaigns *mockCampaignRepo
	bindings  *mockBindingRepo
	stats     *mockStatsRepo
	sources   *mockDataSourceRepo
}

func newRegistryFixture() *registryFixture {
	f := &registryFixture{
		users:     newMockUserRepo(),
		campaigns: newMockCampaignRepo(),
		bindings:  newMockBindingRepo(),
		stats:     newMockStatsRepo(),
		sources:   newMockDataSourceRepo(),
	}
	f.svc = NewRegistryService(f.campaigns, f.bindings, f.users, f.sources, f.stats, zap.NewNop())
	return f
}

func (f *registryFixture) addUser(t *testing.T, username string) int64 {
	t.Helper()
	u := &models.User{Username: username, PasswordHash: "x"}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u.ID
}

func (f *registryFixture) addCampaign(t *testing.T, creatorID int64, endOffset time.Duration) *models.Campaign {
	t.Helper()
	now := time.Now().UnixMilli()
	c := &models.Campaign{
		Name:           "field study",
		StartTimestamp: now - 1000,
		EndTimestamp:   now + endOffset.Milliseconds(),
	}
	got, err := f.svc.RegisterOrUpdateCampaign(context.Background(), creatorID, c)
	require.NoError(t, err)
	return got
}

func TestRegistryService_RegisterCampaign_Validation(t *testing.T) {
	f := newRegistryFixture()
	creator := f.addUser(t, "creator")

	_, err := f.svc.RegisterOrUpdateCampaign(context.Background(), creator, &models.Campaign{
		Name:           "bad",
		StartTimestamp: 2000,
		EndTimestamp:   1000,
	})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestRegistryService_UpdateCampaign_CreatorOnly(t *testing.T) {
	f := newRegistryFixture()
	creator := f.addUser(t, "creator")
	other := f.addUser(t, "other-user")
	c := f.addCampaign(t, creator, time.Hour)

	c.Notes = "changed"
	_, err := f.svc.RegisterOrUpdateCampaign(context.Background(), other, c)
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)

	_, err = f.svc.RegisterOrUpdateCampaign(context.Background(), creator, c)
	require.NoError(t, err)
}

func TestRegistryService_RegisterCampaign_UnknownDataSource(t *testing.T) {
	f := newRegistryFixture()
	creator := f.addUser(t, "creator")

	now := time.Now().UnixMilli()
	_, err := f.svc.RegisterOrUpdateCampaign(context.Background(), creator, &models.Campaign{
		Name:              "study",
		StartTimestamp:    now,
		EndTimestamp:      now + 1000,
		DataSourceConfigs: []models.DataSourceConfigEntry{{DataSourceID: 42}},
	})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestRegistryService_Bind_Idempotent(t *testing.T) {
	f := newRegistryFixture()
	creator := f.addUser(t, "creator")
	participant := f.addUser(t, "participant")
	c := f.addCampaign(t, creator, time.Hour)

	first, err := f.svc.Bind(context.Background(), c.ID, participant)
	require.NoError(t, err)
	assert.True(t, first.IsNewBinding)
	assert.Equal(t, c.StartTimestamp, first.CampaignStartTimestamp)

	second, err := f.svc.Bind(context.Background(), c.ID, participant)
	require.NoError(t, err)
	assert.False(t, second.IsNewBinding)
	assert.Equal(t, c.StartTimestamp, second.CampaignStartTimestamp)
}

func TestRegistryService_Bind_EndedCampaign(t *testing.T) {
	f := newRegistryFixture()
	creator := f.addUser(t, "creator")
	participant := f.addUser(t, "participant")

	// End timestamp in the past.
	now := time.Now().UnixMilli()
	c := &models.Campaign{CreatorID: creator, Name: "done", StartTimestamp: now - 2000, EndTimestamp: now - 1000}
	require.NoError(t, f.campaigns.Create(context.Background(), c))

	_, err := f.svc.Bind(context.Background(), c.ID, participant)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestRegistryService_Bind_UnknownCampaign(t *testing.T) {
	f := newRegistryFixture()
	participant := f.addUser(t, "participant")

	_, err := f.svc.Bind(context.Background(), 999, participant)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRegistryService_GetCampaign_AccessControl(t *testing.T) {
	f := newRegistryFixture()
	creator := f.addUser(t, "creator")
	participant := f.addUser(t, "participant")
	researcher := f.addUser(t, "researcher")
	stranger := f.addUser(t, "stranger")
	c := f.addCampaign(t, creator, time.Hour)

	_, err := f.svc.Bind(context.Background(), c.ID, participant)
	require.NoError(t, err)
	require.NoError(t, f.svc.GrantResearcher(context.Background(), creator, c.ID, "researcher"))

	for _, caller := range []int64{creator, participant, researcher} {
		_, err := f.svc.GetCampaign(context.Background(), caller, c.ID)
		assert.NoError(t, err)
	}

	_, err = f.svc.GetCampaign(context.Background(), stranger, c.ID)
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
}

func TestRegistryService_DeleteCampaign_LeavesBindings(t *testing.T) {
	f := newRegistryFixture()
	creator := f.addUser(t, "creator")
	participant := f.addUser(t, "participant")
	c := f.addCampaign(t, creator, time.Hour)

	_, err := f.svc.Bind(context.Background(), c.ID, participant)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteCampaign(context.Background(), creator, c.ID))

	_, err = f.campaigns.GetByID(context.Background(), c.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// The binding survives the campaign row.
	bound, err := f.bindings.IsBound(context.Background(), c.ID, participant)
	require.NoError(t, err)
	assert.True(t, bound)
}

func TestRegistryService_ListCampaigns_IncludesGrants(t *testing.T) {
	f := newRegistryFixture()
	creator := f.addUser(t, "creator")
	researcher := f.addUser(t, "researcher")

	own := f.addCampaign(t, researcher, time.Hour)
	granted := f.addCampaign(t, creator, time.Hour)
	f.addCampaign(t, creator, time.Hour) // not granted

	require.NoError(t, f.svc.GrantResearcher(context.Background(), creator, granted.ID, "researcher"))

	campaigns, err := f.svc.ListCampaigns(context.Background(), researcher, false)
	require.NoError(t, err)
	require.Len(t, campaigns, 2)
	ids := []int64{campaigns[0].ID, campaigns[1].ID}
	assert.Contains(t, ids, own.ID)
	assert.Contains(t, ids, granted.ID)
}

func TestRegistryService_ListParticipants_PrunesOrphans(t *testing.T) {
	f := newRegistryFixture()
	creator := f.addUser(t, "creator")
	alive := f.addUser(t, "alive-user")
	c := f.addCampaign(t, creator, time.Hour)

	_, err := f.svc.Bind(context.Background(), c.ID, alive)
	require.NoError(t, err)

	// A binding whose account no longer exists.
	_, err = f.bindings.Bind(context.Background(), c.ID, 777, time.Now().UnixMilli())
	require.NoError(t, err)

	ids, err := f.svc.ListParticipants(context.Background(), creator, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{alive}, ids)

	// The orphaned binding is gone.
	bound, err := f.bindings.IsBound(context.Background(), c.ID, 777)
	require.NoError(t, err)
	assert.False(t, bound)
}

func TestRegistryService_GetParticipantStats_Aggregates(t *testing.T) {
	f := newRegistryFixture()
	creator := f.addUser(t, "creator")
	participant := f.addUser(t, "participant")
	c := f.addCampaign(t, creator, time.Hour)

	_, err := f.svc.Bind(context.Background(), c.ID, participant)
	require.NoError(t, err)
	require.NoError(t, f.svc.SubmitHeartbeat(context.Background(), c.ID, participant, 5000))

	require.NoError(t, f.stats.Upsert(context.Background(), &models.PerSourceStat{
		CampaignID: c.ID, UserID: participant, DataSourceID: 1, AmountOfSamples: 10, SyncTimestamp: 100,
	}))
	require.NoError(t, f.stats.Upsert(context.Background(), &models.PerSourceStat{
		CampaignID: c.ID, UserID: participant, DataSourceID: 2, AmountOfSamples: 5, SyncTimestamp: 300,
	}))

	stats, err := f.svc.GetParticipantStats(context.Background(), creator, c.ID, participant)
	require.NoError(t, err)
	assert.Equal(t, int64(15), stats.AmountOfSamples)
	assert.Equal(t, int64(300), stats.LastSyncTimestamp)
	assert.Equal(t, int64(5000), stats.LastHeartbeatTimestamp)
	assert.Len(t, stats.PerSource, 2)

	// The participant can read their own stats, a stranger cannot.
	_, err = f.svc.GetParticipantStats(context.Background(), participant, c.ID, participant)
	assert.NoError(t, err)

	stranger := f.addUser(t, "stranger")
	_, err = f.svc.GetParticipantStats(context.Background(), stranger, c.ID, participant)
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
}

func TestRegistryService_Heartbeat_RequiresBinding(t *testing.T) {
	f := newRegistryFixture()
	creator := f.addUser(t, "creator")
	participant := f.addUser(t, "participant")
	c := f.addCampaign(t, creator, time.Hour)

	err := f.svc.SubmitHeartbeat(context.Background(), c.ID, participant, 1000)
	assert.ErrorIs(t, err, apperrors.ErrNotBound)
}

func TestRegistryService_GetOrCreateDataSource_ReusesExisting(t *testing.T) {
	f := newRegistryFixture()
	creator := f.addUser(t, "creator")

	first, err := f.svc.GetOrCreateDataSource(context.Background(), creator, "accelerometer", "motion")
	require.NoError(t, err)

	second, err := f.svc.GetOrCreateDataSource(context.Background(), creator, "accelerometer", "other-icon")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = f.svc.GetOrCreateDataSource(context.Background(), creator, "", "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
