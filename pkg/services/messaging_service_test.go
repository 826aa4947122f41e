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

type messagingFixture struct {
	svc       MessagingService
	users     *mockUserRepo
	campaigns *mockCampaignRepo
	bindings  *mockBindingRepo
}

func newMessagingFixture() *messagingFixture {
	f := &messagingFixture{
		users:     newMockUserRepo(),
		campaigns: newMockCampaignRepo(),
		bindings:  newMockBindingRepo(),
	}
	f.svc = NewMessagingService(newMockMessageRepo(), f.users, f.campaigns, f.bindings, zap.NewNop())
	return f
}

func (f *messagingFixture) addUser(t *testing.T, username string) int64 {
	t.Helper()
	u := &models.User{Username: username, PasswordHash: "x"}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u.ID
}

func TestMessagingService_DirectMessage_DrainOnce(t *testing.T) {
	f := newMessagingFixture()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bobby")

	require.NoError(t, f.svc.SendDirectMessage(context.Background(), alice, "bobby", "hi", "hello bob"))

	msgs, err := f.svc.TakeDirectMessages(context.Background(), bob)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, alice, msgs[0].SrcUserID)
	assert.Equal(t, "hello bob", msgs[0].Content)

	// A second take yields nothing; delivery is exactly once.
	msgs, err = f.svc.TakeDirectMessages(context.Background(), bob)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMessagingService_DirectMessage_UnknownRecipient(t *testing.T) {
	f := newMessagingFixture()
	alice := f.addUser(t, "alice")

	err := f.svc.SendDirectMessage(context.Background(), alice, "nobody", "hi", "x")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMessagingService_DirectMessage_EmptyBody(t *testing.T) {
	f := newMessagingFixture()
	alice := f.addUser(t, "alice")
	f.addUser(t, "bobby")

	err := f.svc.SendDirectMessage(context.Background(), alice, "bobby", "", "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestMessagingService_NotifyCampaign_FansOutToParticipants(t *testing.T) {
	f := newMessagingFixture()
	creator := f.addUser(t, "creator")
	p1 := f.addUser(t, "participant-1")
	p2 := f.addUser(t, "participant-2")

	now := time.Now().UnixMilli()
	c := &models.Campaign{CreatorID: creator, Name: "study", StartTimestamp: now, EndTimestamp: now + 10000}
	require.NoError(t, f.campaigns.Create(context.Background(), c))
	for _, uid := range []int64{p1, p2} {
		_, err := f.bindings.Bind(context.Background(), c.ID, uid, now)
		require.NoError(t, err)
	}

	n, err := f.svc.NotifyCampaign(context.Background(), creator, c.ID, "update", "new protocol")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	notifs, err := f.svc.TakeNotifications(context.Background(), p1)
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	assert.Equal(t, "update", notifs[0].Subject)
	assert.Equal(t, c.ID, notifs[0].CampaignID)

	// Drained.
	notifs, err = f.svc.TakeNotifications(context.Background(), p1)
	require.NoError(t, err)
	assert.Empty(t, notifs)
}

func TestMessagingService_NotifyCampaign_CreatorOnly(t *testing.T) {
	f := newMessagingFixture()
	creator := f.addUser(t, "creator")
	other := f.addUser(t, "other-user")

	now := time.Now().UnixMilli()
	c := &models.Campaign{CreatorID: creator, Name: "study", StartTimestamp: now, EndTimestamp: now + 10000}
	require.NoError(t, f.campaigns.Create(context.Background(), c))

	_, err := f.svc.NotifyCampaign(context.Background(), other, c.ID, "s", "c")
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
}
