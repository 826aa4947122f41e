package services

import (
	"context"
	"sort"
	"sync"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/apperrors"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/models"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/repositories"
)

// mockUserRepo is an in-memory UserRepository.
type mockUserRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*models.User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{nextID: 1, users: make(map[int64]*models.User)}
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == user.Username {
			return apperrors.ErrConflict
		}
	}
	user.ID = m.nextID
	m.nextID++
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *mockUserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockUserRepo) SetTag(ctx context.Context, id int64, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	u.Tag = tag
	return nil
}

func (m *mockUserRepo) Exists(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[id]
	return ok, nil
}

var _ repositories.UserRepository = (*mockUserRepo)(nil)

// mockCampaignRepo is an in-memory CampaignRepository.
type mockCampaignRepo struct {
	mu          sync.Mutex
	nextID      int64
	campaigns   map[int64]*models.Campaign
	researchers map[int64]map[int64]bool
}

func newMockCampaignRepo() *mockCampaignRepo {
	return &mockCampaignRepo{
		nextID:      1,
		campaigns:   make(map[int64]*models.Campaign),
		researchers: make(map[int64]map[int64]bool),
	}
}

func (m *mockCampaignRepo) Create(ctx context.Context, c *models.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.nextID
	m.nextID++
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *mockCampaignRepo) Update(ctx context.Context, c *models.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[c.ID]; !ok {
		return apperrors.ErrNotFound
	}
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *mockCampaignRepo) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCampaignRepo) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.campaigns, id)
	return nil
}

func (m *mockCampaignRepo) List(ctx context.Context, creatorID *int64, activeOnlyAfterMS int64) ([]*models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Campaign
	for _, c := range m.campaigns {
		if creatorID != nil && c.CreatorID != *creatorID {
			continue
		}
		if activeOnlyAfterMS > 0 && c.EndTimestamp <= activeOnlyAfterMS {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockCampaignRepo) GrantResearcher(ctx context.Context, campaignID, researcherID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.researchers[campaignID] == nil {
		m.researchers[campaignID] = make(map[int64]bool)
	}
	m.researchers[campaignID][researcherID] = true
	return nil
}

func (m *mockCampaignRepo) RevokeResearcher(ctx context.Context, campaignID, researcherID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.researchers[campaignID], researcherID)
	return nil
}

func (m *mockCampaignRepo) IsResearcher(ctx context.Context, campaignID, researcherID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.researchers[campaignID][researcherID], nil
}

func (m *mockCampaignRepo) ListResearcherCampaignIDs(ctx context.Context, researcherID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int64
	for cid, grants := range m.researchers {
		if grants[researcherID] {
			out = append(out, cid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

var _ repositories.CampaignRepository = (*mockCampaignRepo)(nil)

// mockBindingRepo is an in-memory BindingRepository.
type mockBindingRepo struct {
	mu       sync.Mutex
	bindings map[[2]int64]*models.Binding
}

func newMockBindingRepo() *mockBindingRepo {
	return &mockBindingRepo{bindings: make(map[[2]int64]*models.Binding)}
}

func (m *mockBindingRepo) Bind(ctx context.Context, campaignID, userID, joinTS int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int64{campaignID, userID}
	if _, ok := m.bindings[key]; ok {
		return false, nil
	}
	m.bindings[key] = &models.Binding{
		CampaignID:    campaignID,
		UserID:        userID,
		JoinTimestamp: joinTS,
	}
	return true, nil
}

func (m *mockBindingRepo) IsBound(ctx context.Context, campaignID, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.bindings[[2]int64{campaignID, userID}]
	return ok, nil
}

func (m *mockBindingRepo) Get(ctx context.Context, campaignID, userID int64) (*models.Binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[[2]int64{campaignID, userID}]
	if !ok {
		return nil, apperrors.ErrNotBound
	}
	cp := *b
	return &cp, nil
}

func (m *mockBindingRepo) ListParticipantIDs(ctx context.Context, campaignID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int64
	for key := range m.bindings {
		if key[0] == campaignID {
			out = append(out, key[1])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *mockBindingRepo) CountParticipants(ctx context.Context, campaignID int64) (int, error) {
	ids, _ := m.ListParticipantIDs(ctx, campaignID)
	return len(ids), nil
}

func (m *mockBindingRepo) UpdateHeartbeat(ctx context.Context, campaignID, userID, ts int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[[2]int64{campaignID, userID}]
	if !ok {
		return apperrors.ErrNotBound
	}
	b.LastHeartbeatTimestamp = ts
	return nil
}

func (m *mockBindingRepo) Remove(ctx context.Context, campaignID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bindings, [2]int64{campaignID, userID})
	return nil
}

var _ repositories.BindingRepository = (*mockBindingRepo)(nil)

// mockShardStore is an in-memory ShardStore. writeErr and failAfter inject
// storage failures for partial-batch tests.
type mockShardStore struct {
	mu        sync.Mutex
	records   map[repositories.ShardHandle]map[[2]int64][]byte
	writeErr  error
	failAfter int // fail writes once this many records are stored; 0 = never
}

func newMockShardStore() *mockShardStore {
	return &mockShardStore{records: make(map[repositories.ShardHandle]map[[2]int64][]byte)}
}

func (m *mockShardStore) size() int {
	n := 0
	for _, shard := range m.records {
		n += len(shard)
	}
	return n
}

func (m *mockShardStore) CreateShard(ctx context.Context, h repositories.ShardHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[h] == nil {
		m.records[h] = make(map[[2]int64][]byte)
	}
	return nil
}

func (m *mockShardStore) WriteRecord(ctx context.Context, h repositories.ShardHandle, rec models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if m.records[h] == nil {
		m.records[h] = make(map[[2]int64][]byte)
	}
	m.records[h][[2]int64{rec.DataSourceID, rec.Timestamp}] = rec.Value
	return nil
}

func (m *mockShardStore) WriteBatch(ctx context.Context, h repositories.ShardHandle, recs []models.Record, payloadLimit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[h] == nil {
		m.records[h] = make(map[[2]int64][]byte)
	}
	for i, rec := range recs {
		if m.writeErr != nil && m.failAfter > 0 && len(m.records[h]) >= m.failAfter {
			return i, m.writeErr
		}
		m.records[h][[2]int64{rec.DataSourceID, rec.Timestamp}] = rec.Value
	}
	return len(recs), nil
}

func (m *mockShardStore) sorted(h repositories.ShardHandle) []models.Record {
	var out []models.Record
	for key, val := range m.records[h] {
		out = append(out, models.Record{DataSourceID: key[0], Timestamp: key[1], Value: val})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DataSourceID != out[j].DataSourceID {
			return out[i].DataSourceID < out[j].DataSourceID
		}
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

func (m *mockShardStore) ReadKNext(ctx context.Context, h repositories.ShardHandle, dataSourceID, fromTS int64, k int) ([]models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Record
	for _, rec := range m.sorted(h) {
		if rec.DataSourceID != dataSourceID || rec.Timestamp < fromTS {
			continue
		}
		out = append(out, rec)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (m *mockShardStore) ReadRange(ctx context.Context, h repositories.ShardHandle, dataSourceID int64, from, till *int64, defaultLimit int) ([]models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Record
	for _, rec := range m.sorted(h) {
		if rec.DataSourceID != dataSourceID {
			continue
		}
		if from != nil && rec.Timestamp < *from {
			continue
		}
		if till != nil && rec.Timestamp >= *till {
			continue
		}
		out = append(out, rec)
		if from == nil && till == nil && len(out) == defaultLimit {
			break
		}
	}
	return out, nil
}

func (m *mockShardStore) CountAndMaxTS(ctx context.Context, h repositories.ShardHandle, dataSourceID int64) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count, maxTS int64
	for key := range m.records[h] {
		if key[0] != dataSourceID {
			continue
		}
		count++
		if key[1] > maxTS {
			maxTS = key[1]
		}
	}
	return count, maxTS, nil
}

func (m *mockShardStore) StreamShard(ctx context.Context, h repositories.ShardHandle, fn func(models.Record) error) error {
	m.mu.Lock()
	recs := m.sorted(h)
	m.mu.Unlock()
	for _, rec := range recs {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

var _ repositories.ShardStore = (*mockShardStore)(nil)

// mockDataSourceRepo is an in-memory DataSourceRepository.
type mockDataSourceRepo struct {
	mu      sync.Mutex
	nextID  int64
	sources map[int64]*models.DataSource
}

func newMockDataSourceRepo() *mockDataSourceRepo {
	return &mockDataSourceRepo{nextID: 1, sources: make(map[int64]*models.DataSource)}
}

func (m *mockDataSourceRepo) GetOrCreate(ctx context.Context, creatorID int64, name, iconName string) (*models.DataSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ds := range m.sources {
		if ds.Name == name {
			cp := *ds
			return &cp, nil
		}
	}
	ds := &models.DataSource{ID: m.nextID, CreatorID: creatorID, Name: name, IconName: iconName}
	m.nextID++
	m.sources[ds.ID] = ds
	cp := *ds
	return &cp, nil
}

func (m *mockDataSourceRepo) GetByID(ctx context.Context, id int64) (*models.DataSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.sources[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *ds
	return &cp, nil
}

func (m *mockDataSourceRepo) GetByName(ctx context.Context, name string) (*models.DataSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ds := range m.sources {
		if ds.Name == name {
			cp := *ds
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockDataSourceRepo) List(ctx context.Context) ([]*models.DataSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.DataSource
	for _, ds := range m.sources {
		cp := *ds
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var _ repositories.DataSourceRepository = (*mockDataSourceRepo)(nil)

// mockStatsRepo is an in-memory StatsRepository.
type mockStatsRepo struct {
	mu    sync.Mutex
	stats map[[3]int64]*models.PerSourceStat
}

func newMockStatsRepo() *mockStatsRepo {
	return &mockStatsRepo{stats: make(map[[3]int64]*models.PerSourceStat)}
}

func (m *mockStatsRepo) Upsert(ctx context.Context, stat *models.PerSourceStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *stat
	m.stats[[3]int64{stat.CampaignID, stat.UserID, stat.DataSourceID}] = &cp
	return nil
}

func (m *mockStatsRepo) ListForParticipant(ctx context.Context, campaignID, userID int64) ([]models.PerSourceStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PerSourceStat
	for key, stat := range m.stats {
		if key[0] == campaignID && key[1] == userID {
			out = append(out, *stat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DataSourceID < out[j].DataSourceID })
	return out, nil
}

var _ repositories.StatsRepository = (*mockStatsRepo)(nil)

// mockMessageRepo is an in-memory MessageRepository.
type mockMessageRepo struct {
	mu            sync.Mutex
	nextID        int64
	messages      []*models.DirectMessage
	notifications []*models.Notification
}

func newMockMessageRepo() *mockMessageRepo {
	return &mockMessageRepo{nextID: 1}
}

func (m *mockMessageRepo) CreateDirectMessage(ctx context.Context, msg *models.DirectMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = m.nextID
	m.nextID++
	cp := *msg
	m.messages = append(m.messages, &cp)
	return nil
}

func (m *mockMessageRepo) TakeUnreadDirectMessages(ctx context.Context, dstUserID int64) ([]models.DirectMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DirectMessage
	for _, msg := range m.messages {
		if msg.DstUserID == dstUserID && !msg.Read {
			msg.Read = true
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (m *mockMessageRepo) CreateNotifications(ctx context.Context, campaignID int64, dstUserIDs []int64, ts int64, subject, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, uid := range dstUserIDs {
		m.notifications = append(m.notifications, &models.Notification{
			ID:         m.nextID,
			CampaignID: campaignID,
			DstUserID:  uid,
			Timestamp:  ts,
			Subject:    subject,
			Content:    content,
		})
		m.nextID++
	}
	return nil
}

func (m *mockMessageRepo) TakeUnreadNotifications(ctx context.Context, dstUserID int64) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for _, n := range m.notifications {
		if n.DstUserID == dstUserID && !n.Read {
			n.Read = true
			out = append(out, *n)
		}
	}
	return out, nil
}

var _ repositories.MessageRepository = (*mockMessageRepo)(nil)
