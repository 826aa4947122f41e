package handlers

import (
	"context"
	"io"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/models"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/services"
)

// mockIdentityService implements services.IdentityService with overridable
// function fields; unset fields panic, which is fine for focused tests.
type mockIdentityService struct {
	registerFn func(ctx context.Context, username, password, displayName string) (*models.User, string, error)
	loginFn    func(ctx context.Context, username, password string) (*models.User, string, error)
	logoutFn   func(ctx context.Context, token string) error
	getUserFn  func(ctx context.Context, id int64) (*models.User, error)
	setTagFn   func(ctx context.Context, userID int64, tag string) error
}

func (m *mockIdentityService) Register(ctx context.Context, username, password, displayName string) (*models.User, string, error) {
	return m.registerFn(ctx, username, password, displayName)
}

func (m *mockIdentityService) Login(ctx context.Context, username, password string) (*models.User, string, error) {
	return m.loginFn(ctx, username, password)
}

func (m *mockIdentityService) Logout(ctx context.Context, token string) error {
	return m.logoutFn(ctx, token)
}

func (m *mockIdentityService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return m.getUserFn(ctx, id)
}

func (m *mockIdentityService) SetTag(ctx context.Context, userID int64, tag string) error {
	return m.setTagFn(ctx, userID, tag)
}

var _ services.IdentityService = (*mockIdentityService)(nil)

// mockIngestionService implements services.IngestionService.
type mockIngestionService struct {
	submitFn      func(ctx context.Context, campaignID, userID int64, rec models.Record) error
	submitBatchFn func(ctx context.Context, campaignID, userID int64, recs []models.Record) (int, error)
}

func (m *mockIngestionService) SubmitRecord(ctx context.Context, campaignID, userID int64, rec models.Record) error {
	return m.submitFn(ctx, campaignID, userID, rec)
}

func (m *mockIngestionService) SubmitRecords(ctx context.Context, campaignID, userID int64, recs []models.Record) (int, error) {
	return m.submitBatchFn(ctx, campaignID, userID, recs)
}

var _ services.IngestionService = (*mockIngestionService)(nil)

// mockQueryService implements services.QueryService.
type mockQueryService struct {
	fetchNextFn  func(ctx context.Context, callerID, campaignID, userID, dataSourceID, fromTS int64, k int) ([]models.Record, error)
	fetchRangeFn func(ctx context.Context, callerID, campaignID, userID, dataSourceID int64, from, till *int64, truncate bool) ([]models.Record, error)
	dumpFn       func(ctx context.Context, callerID, campaignID, userID int64, w io.Writer) (int64, error)
}

func (m *mockQueryService) FetchNextK(ctx context.Context, callerID, campaignID, userID, dataSourceID, fromTS int64, k int) ([]models.Record, error) {
	return m.fetchNextFn(ctx, callerID, campaignID, userID, dataSourceID, fromTS, k)
}

func (m *mockQueryService) FetchRange(ctx context.Context, callerID, campaignID, userID, dataSourceID int64, from, till *int64, truncate bool) ([]models.Record, error) {
	return m.fetchRangeFn(ctx, callerID, campaignID, userID, dataSourceID, from, till, truncate)
}

func (m *mockQueryService) DumpShard(ctx context.Context, callerID, campaignID, userID int64, w io.Writer) (int64, error) {
	return m.dumpFn(ctx, callerID, campaignID, userID, w)
}

var _ services.QueryService = (*mockQueryService)(nil)
