package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/starlight-labs/starshop/internal/config"
	"github.com/starlight-labs/starshop/internal/lib/keylock"
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
func (m *AccountRepoMock) SelectAccounts(ctx context.Context, sel models.BulkSelector) ([]*models.Account, error) {
	args := m.Called(ctx, sel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Account), args.Error(1)
}
func (m *AccountRepoMock) SetLastRemindedDays(ctx context.Context, id string, days int) error {
	args := m.Called(ctx, id, days)
	return args.Error(0)
}
func (m *AccountRepoMock) SetAccountStatus(ctx context.Context, id string,
	status models.AccountStatus, reason, actor, detail string) error {
	args := m.Called(ctx, id, status, reason, actor, detail)
	return args.Error(0)
}

type SettingsRepoMock struct{ mock.Mock }

func (m *SettingsRepoMock) GetIntSetting(ctx context.Context, key string, def int) (int, error) {
	args := m.Called(ctx, key, def)
	return args.Int(0), args.Error(1)
}

type PanelMock struct{ mock.Mock }

func (m *PanelMock) DeleteUser(ctx context.Context, uuid string) error {
	args := m.Called(ctx, uuid)
	return args.Error(0)
}

type PublisherMock struct{ mock.Mock }

func (m *PublisherMock) Publish(routingKey string, message any) error {
	args := m.Called(routingKey, message)
	return args.Error(0)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Reminders {
	return config.Reminders{RemindDays: 3, CleanupDays: 3, ScanInterval: time.Hour}
}

func defaultSettings() *SettingsRepoMock {
	settings := new(SettingsRepoMock)
	settings.On("GetIntSetting", mock.Anything, SettingRemindDays, 3).Return(3, nil)
	settings.On("GetIntSetting", mock.Anything, SettingCleanupDays, 3).Return(3, nil)
	return settings
}

func TestDaysLeft(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 2, DaysLeft(now.AddDate(0, 0, 2), now))
	assert.Equal(t, 0, DaysLeft(now.Add(6*time.Hour), now))
	assert.Equal(t, -1, DaysLeft(now.Add(-6*time.Hour), now))
	assert.Equal(t, -3, DaysLeft(now.AddDate(0, 0, -3), now))
}

func TestRemindExpiring_SendsWithinThreshold(t *testing.T) {
	accounts := new(AccountRepoMock)
	pub := new(PublisherMock)

	soon := &models.Account{
		ID:         "a1",
		CustomerID: 42,
		Status:     models.AccountActive,
		ExpiresAt:  time.Now().UTC().AddDate(0, 0, 2),
	}
	far := &models.Account{
		ID:        "a2",
		Status:    models.AccountActive,
		ExpiresAt: time.Now().UTC().AddDate(0, 0, 20),
	}
	accounts.On("ListActiveAccounts", mock.Anything).Return([]*models.Account{soon, far}, nil)
	pub.On("Publish", "account.reminder", mock.MatchedBy(func(e models.ReminderEvent) bool {
		return e.AccountID == "a1" && e.DaysLeft == 1
	})).Return(nil)
	accounts.On("SetLastRemindedDays", mock.Anything, "a1", 1).Return(nil)

	svc := NewExpiryService(accounts, defaultSettings(), new(PanelMock), pub, keylock.New(),
		discardLogger(), testConfig())
	svc.RemindExpiring(context.Background())

	pub.AssertNumberOfCalls(t, "Publish", 1)
	accounts.AssertExpectations(t)
}

// Два прохода подряд при неизменном остатке дней дают одно напоминание:
// маркер last_reminded_days подавляет дубль.
func TestRemindExpiring_DeduplicatesAcrossTicks(t *testing.T) {
	accounts := new(AccountRepoMock)
	pub := new(PublisherMock)

	expiresAt := time.Now().UTC().AddDate(0, 0, 2)
	fresh := &models.Account{ID: "a1", Status: models.AccountActive, ExpiresAt: expiresAt}
	reminded := 1
	seen := &models.Account{
		ID: "a1", Status: models.AccountActive, ExpiresAt: expiresAt,
		LastRemindedDays: &reminded,
	}

	accounts.On("ListActiveAccounts", mock.Anything).Return([]*models.Account{fresh}, nil).Once()
	accounts.On("ListActiveAccounts", mock.Anything).Return([]*models.Account{seen}, nil).Once()
	pub.On("Publish", "account.reminder", mock.Anything).Return(nil)
	accounts.On("SetLastRemindedDays", mock.Anything, "a1", 1).Return(nil)

	svc := NewExpiryService(accounts, defaultSettings(), new(PanelMock), pub, keylock.New(),
		discardLogger(), testConfig())
	svc.RemindExpiring(context.Background())
	svc.RemindExpiring(context.Background())

	pub.AssertNumberOfCalls(t, "Publish", 1)
}

// Когда до истечения становится ближе, чем в момент последнего напоминания,
// клиент получает новое напоминание.
func TestRemindExpiring_RemindsAgainWhenCloser(t *testing.T) {
	accounts := new(AccountRepoMock)
	pub := new(PublisherMock)

	reminded := 3
	account := &models.Account{
		ID: "a1", Status: models.AccountActive,
		ExpiresAt:        time.Now().UTC().Add(12 * time.Hour),
		LastRemindedDays: &reminded,
	}
	accounts.On("ListActiveAccounts", mock.Anything).Return([]*models.Account{account}, nil)
	pub.On("Publish", "account.reminder", mock.MatchedBy(func(e models.ReminderEvent) bool {
		return e.DaysLeft == 0
	})).Return(nil)
	accounts.On("SetLastRemindedDays", mock.Anything, "a1", 0).Return(nil)

	svc := NewExpiryService(accounts, defaultSettings(), new(PanelMock), pub, keylock.New(),
		discardLogger(), testConfig())
	svc.RemindExpiring(context.Background())

	pub.AssertExpectations(t)
}

func TestCleanupExpired_DeletesAfterGrace(t *testing.T) {
	accounts := new(AccountRepoMock)
	panelMock := new(PanelMock)

	stale := &models.Account{
		ID:        "a1",
		PanelUUID: "u1",
		Status:    models.AccountDisabled,
		ExpiresAt: time.Now().UTC().AddDate(0, 0, -10),
	}
	accounts.On("SelectAccounts", mock.Anything, mock.MatchedBy(func(sel models.BulkSelector) bool {
		return sel.ExpiredBefore != nil
	})).Return([]*models.Account{stale}, nil)
	panelMock.On("DeleteUser", mock.Anything, "u1").Return(nil)
	accounts.On("SetAccountStatus", mock.Anything, "a1",
		models.AccountDeleted, "expired", "scheduler", mock.Anything).Return(nil)

	svc := NewExpiryService(accounts, defaultSettings(), panelMock, nil, keylock.New(),
		discardLogger(), testConfig())
	svc.CleanupExpired(context.Background())

	accounts.AssertExpectations(t)
	panelMock.AssertExpectations(t)
}

// Отсутствие пользователя на панели не мешает локальной очистке.
func TestCleanupExpired_ToleratesMissingPanelUser(t *testing.T) {
	accounts := new(AccountRepoMock)
	panelMock := new(PanelMock)

	stale := &models.Account{
		ID:        "a1",
		PanelUUID: "u1",
		Status:    models.AccountActive,
		ExpiresAt: time.Now().UTC().AddDate(0, 0, -10),
	}
	accounts.On("SelectAccounts", mock.Anything, mock.Anything).
		Return([]*models.Account{stale}, nil)
	panelMock.On("DeleteUser", mock.Anything, "u1").Return(panel.ErrNotFound)
	accounts.On("SetAccountStatus", mock.Anything, "a1",
		models.AccountDeleted, "expired", "scheduler", mock.Anything).Return(nil)

	svc := NewExpiryService(accounts, defaultSettings(), panelMock, nil, keylock.New(),
		discardLogger(), testConfig())
	svc.CleanupExpired(context.Background())

	accounts.AssertExpectations(t)
}
