package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/starlight-labs/starshop/internal/config"
	"github.com/starlight-labs/starshop/internal/models"
	"github.com/starlight-labs/starshop/internal/panel"
)

type AccountRepoMock struct{ mock.Mock }

func (m *AccountRepoMock) ListActiveAccounts(ctx context.Context) ([]*models.Account, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Account), args.Error(1)
}
func (m *AccountRepoMock) SetAccountStatus(ctx context.Context, id string,
	status models.AccountStatus, reason, actor, detail string) error {
	args := m.Called(ctx, id, status, reason, actor, detail)
	return args.Error(0)
}

type WhitelistRepoMock struct{ mock.Mock }

func (m *WhitelistRepoMock) GetWhitelist(ctx context.Context, accountID string) (*models.WhitelistEntry, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WhitelistEntry), args.Error(1)
}
func (m *WhitelistRepoMock) AddWhitelist(ctx context.Context, e models.WhitelistEntry) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}
func (m *WhitelistRepoMock) RemoveWhitelist(ctx context.Context, accountID string) (int, error) {
	args := m.Called(ctx, accountID)
	return args.Int(0), args.Error(1)
}

type EventRepoMock struct{ mock.Mock }

func (m *EventRepoMock) CreateAnomalyEvent(ctx context.Context, e models.AnomalyEvent) (int64, error) {
	args := m.Called(ctx, e)
	return args.Get(0).(int64), args.Error(1)
}

type AuditRepoMock struct{ mock.Mock }

func (m *AuditRepoMock) AppendAudit(ctx context.Context, e models.AuditEntry) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

type PanelMock struct{ mock.Mock }

func (m *PanelMock) GetUserRequestHistory(ctx context.Context, uuid string) ([]panel.RequestLogItem, error) {
	args := m.Called(ctx, uuid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]panel.RequestLogItem), args.Error(1)
}
func (m *PanelMock) UpdateUser(ctx context.Context, req panel.UpdateUserRequest) (*panel.User, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*panel.User), args.Error(1)
}

type PublisherMock struct{ mock.Mock }

func (m *PublisherMock) Publish(routingKey string, message any) error {
	args := m.Called(routingKey, message)
	return args.Error(0)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Anomaly {
	return config.Anomaly{
		ScanInterval:   time.Minute,
		Window:         10 * time.Minute,
		IPThreshold:    5,
		ScoreThreshold: 10,
		IPWeight:       2,
		UAWeight:       1,
		DensityDivisor: 3,
	}
}

// history строит журнал: по одному запросу с каждого из n IP,
// все в пределах окна.
func history(n int, now time.Time) []panel.RequestLogItem {
	items := make([]panel.RequestLogItem, 0, n)
	for i := range n {
		items = append(items, panel.RequestLogItem{
			Timestamp: panel.Time{Time: now.Add(-time.Duration(i+1) * time.Second)},
			IP:        fmt.Sprintf("10.0.0.%d", i+1),
			UserAgent: "app/1.0",
		})
	}
	return items
}

func TestEvaluate_Deterministic(t *testing.T) {
	svc := NewAnomalyService(nil, nil, nil, nil, nil, nil, nil, discardLogger(), testConfig())
	now := time.Now().UTC()
	items := history(7, now)

	first := svc.Evaluate(items, now)
	second := svc.Evaluate(items, now)

	assert.Equal(t, first, second)
	assert.Equal(t, 7, first.IPCount)
	assert.Equal(t, 1, first.UADiversity)
	assert.Equal(t, 7, first.Density)
	// 7*2 + 1*1 + 7/3 = 17
	assert.Equal(t, 17, first.Score)
	assert.True(t, first.Suspicious)
	assert.Len(t, first.Evidence, 7)
}

func TestEvaluate_BelowThreshold(t *testing.T) {
	svc := NewAnomalyService(nil, nil, nil, nil, nil, nil, nil, discardLogger(), testConfig())
	now := time.Now().UTC()

	verdict := svc.Evaluate(history(3, now), now)

	assert.False(t, verdict.Suspicious)
	assert.Equal(t, 3, verdict.IPCount)
}

func TestEvaluate_IgnoresRequestsOutsideWindow(t *testing.T) {
	svc := NewAnomalyService(nil, nil, nil, nil, nil, nil, nil, discardLogger(), testConfig())
	now := time.Now().UTC()

	items := history(7, now)
	for i := range items {
		items[i].Timestamp = panel.Time{Time: now.Add(-time.Hour)}
	}
	verdict := svc.Evaluate(items, now)

	assert.Equal(t, 0, verdict.IPCount)
	assert.False(t, verdict.Suspicious)
}

func TestScan_DisablesSuspiciousAccount(t *testing.T) {
	accounts := new(AccountRepoMock)
	whitelist := new(WhitelistRepoMock)
	events := new(EventRepoMock)
	panelMock := new(PanelMock)
	pub := new(PublisherMock)

	account := &models.Account{ID: "a1", PanelUUID: "u1", Status: models.AccountActive}
	accounts.On("ListActiveAccounts", mock.Anything).Return([]*models.Account{account}, nil)
	panelMock.On("GetUserRequestHistory", mock.Anything, "u1").
		Return(history(7, time.Now().UTC()), nil)
	whitelist.On("GetWhitelist", mock.Anything, "a1").Return(nil, nil)
	panelMock.On("UpdateUser", mock.Anything, mock.MatchedBy(func(req panel.UpdateUserRequest) bool {
		return req.UUID == "u1" && req.Status == panel.StatusDisabled
	})).Return(&panel.User{UUID: "u1"}, nil)
	accounts.On("SetAccountStatus", mock.Anything, "a1",
		models.AccountDisabled, "anomaly", "anomaly", mock.Anything).Return(nil)
	events.On("CreateAnomalyEvent", mock.Anything, mock.MatchedBy(func(e models.AnomalyEvent) bool {
		return e.AccountID == "a1" && e.ActionTaken == models.AnomalyActionDisabled && len(e.Evidence) == 7
	})).Return(int64(1), nil)
	pub.On("Publish", "anomaly.alert", mock.Anything).Return(nil)

	svc := NewAnomalyService(accounts, whitelist, events, nil, panelMock, pub, nil,
		discardLogger(), testConfig())
	svc.Scan(context.Background())

	accounts.AssertExpectations(t)
	events.AssertExpectations(t)
	pub.AssertExpectations(t)
}

// Whitelist ограничивает действие алертом: аккаунт не отключается,
// но событие с вердиктом всё равно сохраняется.
func TestScan_WhitelistedOnlyAlerts(t *testing.T) {
	accounts := new(AccountRepoMock)
	whitelist := new(WhitelistRepoMock)
	events := new(EventRepoMock)
	panelMock := new(PanelMock)

	account := &models.Account{ID: "a1", PanelUUID: "u1", Status: models.AccountActive}
	accounts.On("ListActiveAccounts", mock.Anything).Return([]*models.Account{account}, nil)
	panelMock.On("GetUserRequestHistory", mock.Anything, "u1").
		Return(history(7, time.Now().UTC()), nil)
	whitelist.On("GetWhitelist", mock.Anything, "a1").
		Return(&models.WhitelistEntry{AccountID: "a1", Reason: "family plan"}, nil)
	events.On("CreateAnomalyEvent", mock.Anything, mock.MatchedBy(func(e models.AnomalyEvent) bool {
		return e.ActionTaken == models.AnomalyActionWhitelisted
	})).Return(int64(1), nil)

	svc := NewAnomalyService(accounts, whitelist, events, nil, panelMock, nil, nil,
		discardLogger(), testConfig())
	svc.Scan(context.Background())

	panelMock.AssertNotCalled(t, "UpdateUser", mock.Anything, mock.Anything)
	accounts.AssertNotCalled(t, "SetAccountStatus",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	events.AssertExpectations(t)
}

// Просроченная запись whitelist не защищает аккаунт.
func TestScan_ExpiredWhitelistDisables(t *testing.T) {
	accounts := new(AccountRepoMock)
	whitelist := new(WhitelistRepoMock)
	events := new(EventRepoMock)
	panelMock := new(PanelMock)

	expired := time.Now().UTC().Add(-time.Hour)
	account := &models.Account{ID: "a1", PanelUUID: "u1", Status: models.AccountActive}
	accounts.On("ListActiveAccounts", mock.Anything).Return([]*models.Account{account}, nil)
	panelMock.On("GetUserRequestHistory", mock.Anything, "u1").
		Return(history(7, time.Now().UTC()), nil)
	whitelist.On("GetWhitelist", mock.Anything, "a1").
		Return(&models.WhitelistEntry{AccountID: "a1", ExpiresAt: &expired}, nil)
	panelMock.On("UpdateUser", mock.Anything, mock.Anything).Return(&panel.User{UUID: "u1"}, nil)
	accounts.On("SetAccountStatus", mock.Anything, "a1",
		models.AccountDisabled, "anomaly", "anomaly", mock.Anything).Return(nil)
	events.On("CreateAnomalyEvent", mock.Anything, mock.Anything).Return(int64(1), nil)

	svc := NewAnomalyService(accounts, whitelist, events, nil, panelMock, nil, nil,
		discardLogger(), testConfig())
	svc.Scan(context.Background())

	accounts.AssertExpectations(t)
}

func TestAddToWhitelist_ParsesExpiry(t *testing.T) {
	whitelist := new(WhitelistRepoMock)
	whitelist.On("AddWhitelist", mock.Anything, mock.MatchedBy(func(e models.WhitelistEntry) bool {
		return e.AccountID == "a1" && e.ExpiresAt != nil
	})).Return(nil)
	audit := new(AuditRepoMock)
	audit.On("AppendAudit", mock.Anything, mock.MatchedBy(func(e models.AuditEntry) bool {
		return e.EntityType == models.EntityAccount && e.EntityID == "a1" && e.ToState == "whitelisted"
	})).Return(nil)

	svc := NewAnomalyService(nil, whitelist, nil, audit, nil, nil, nil, discardLogger(), testConfig())
	entry, err := svc.AddToWhitelist(context.Background(), models.AddWhitelistRequest{
		AccountID: "a1",
		Reason:    "shared household",
		Actor:     "operator",
		ExpiresAt: "2026-12-31T00:00:00Z",
	})

	require.NoError(t, err)
	require.NotNil(t, entry.ExpiresAt)
	assert.Equal(t, 2026, entry.ExpiresAt.Year())
	audit.AssertExpectations(t)
}

func TestRemoveFromWhitelist_Audited(t *testing.T) {
	whitelist := new(WhitelistRepoMock)
	whitelist.On("RemoveWhitelist", mock.Anything, "a1").Return(1, nil)
	audit := new(AuditRepoMock)
	audit.On("AppendAudit", mock.Anything, mock.MatchedBy(func(e models.AuditEntry) bool {
		return e.EntityID == "a1" && e.ToState == "unwhitelisted" && e.Actor == "admin"
	})).Return(nil)

	svc := NewAnomalyService(nil, whitelist, nil, audit, nil, nil, nil, discardLogger(), testConfig())
	removed, err := svc.RemoveFromWhitelist(context.Background(), "a1", "admin")

	require.NoError(t, err)
	assert.True(t, removed)
	audit.AssertExpectations(t)
}

func TestRemoveFromWhitelist_ReportsMissing(t *testing.T) {
	whitelist := new(WhitelistRepoMock)
	whitelist.On("RemoveWhitelist", mock.Anything, "a1").Return(0, nil)

	svc := NewAnomalyService(nil, whitelist, nil, nil, nil, nil, nil, discardLogger(), testConfig())
	removed, err := svc.RemoveFromWhitelist(context.Background(), "a1", "admin")

	require.NoError(t, err)
	assert.False(t, removed)
}
