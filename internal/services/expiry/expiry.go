// Package services содержит планировщик жизненного цикла подписок:
// напоминания о приближающемся истечении и очистку давно истёкших аккаунтов.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starlight-labs/starshop/internal/config"
	"github.com/starlight-labs/starshop/internal/lib/keylock"
	"github.com/starlight-labs/starshop/internal/lib/rabbitmq"
	"github.com/starlight-labs/starshop/internal/lib/sl"
	"github.com/starlight-labs/starshop/internal/models"
	"github.com/starlight-labs/starshop/internal/panel"
)

// Ключи переопределений в таблице настроек. Позволяют менять пороги
// на лету, без перезапуска процесса.
const (
	SettingRemindDays  = "remind_days"
	SettingCleanupDays = "cleanup_days"
)

// AccountRepository определяет методы хранилища для планировщика.
type AccountRepository interface {
	ListActiveAccounts(ctx context.Context) ([]*models.Account, error)
	SelectAccounts(ctx context.Context, sel models.BulkSelector) ([]*models.Account, error)
	SetLastRemindedDays(ctx context.Context, id string, days int) error
	SetAccountStatus(ctx context.Context, id string, status models.AccountStatus, reason, actor, detail string) error
}

// SettingsRepository читает переопределения порогов.
type SettingsRepository interface {
	GetIntSetting(ctx context.Context, key string, def int) (int, error)
}

// PanelClient определяет операции панели, нужные планировщику.
type PanelClient interface {
	DeleteUser(ctx context.Context, uuid string) error
}

// Publisher публикует напоминания.
type Publisher interface {
	Publish(routingKey string, message any) error
}

// ExpiryService рассылает напоминания и удаляет истёкшие аккаунты
// после льготного периода.
type ExpiryService struct {
	accounts AccountRepository
	settings SettingsRepository
	panel    PanelClient
	pub      Publisher
	locks    *keylock.KeyLock
	log      *slog.Logger
	cfg      config.Reminders
}

// NewExpiryService создает новый экземпляр ExpiryService. Замки по
// аккаунтам общие с массовыми операциями.
func NewExpiryService(accounts AccountRepository, settings SettingsRepository,
	panelClient PanelClient, pub Publisher, locks *keylock.KeyLock,
	log *slog.Logger, cfg config.Reminders) *ExpiryService {
	return &ExpiryService{
		accounts: accounts,
		settings: settings,
		panel:    panelClient,
		pub:      pub,
		locks:    locks,
		log:      log,
		cfg:      cfg,
	}
}

// Run запускает периодические проходы до отмены контекста.
func (s *ExpiryService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RemindExpiring(ctx)
			s.CleanupExpired(ctx)
		}
	}
}

// DaysLeft считает целые дни до истечения. Истёкшие дают отрицательное
// значение, "сегодня" — ноль.
func DaysLeft(expiresAt, now time.Time) int {
	diff := expiresAt.Sub(now)
	days := int(diff / (24 * time.Hour))
	if diff < 0 && diff%(24*time.Hour) != 0 {
		days--
	}
	return days
}

// RemindExpiring рассылает напоминания по аккаунтам, истекающим в ближайшие
// дни. Повторное напоминание в том же дневном интервале подавляется:
// маркер хранит, за сколько дней до истечения клиента уже предупредили.
func (s *ExpiryService) RemindExpiring(ctx context.Context) {
	remindDays, err := s.settings.GetIntSetting(ctx, SettingRemindDays, s.cfg.RemindDays)
	if err != nil {
		s.log.Error("failed to read remind_days setting", sl.Err(err))
		remindDays = s.cfg.RemindDays
	}

	accounts, err := s.accounts.ListActiveAccounts(ctx)
	if err != nil {
		s.log.Error("failed to list accounts for reminders", sl.Err(err))
		return
	}

	now := time.Now().UTC()
	sent := 0
	for _, account := range accounts {
		daysLeft := DaysLeft(account.ExpiresAt, now)
		if daysLeft < 0 || daysLeft > remindDays {
			continue
		}
		if account.LastRemindedDays != nil && *account.LastRemindedDays <= daysLeft {
			continue
		}
		if err := s.remind(ctx, account, daysLeft); err != nil {
			s.log.Error("failed to send reminder", "account_id", account.ID, sl.Err(err))
			continue
		}
		sent++
	}
	if sent > 0 {
		s.log.Info("expiry reminders sent", "count", sent)
	}
}

func (s *ExpiryService) remind(ctx context.Context, account *models.Account, daysLeft int) error {
	const op = "expiry.remind"

	if s.pub != nil {
		event := models.ReminderEvent{
			AccountID:  account.ID,
			CustomerID: account.CustomerID,
			DaysLeft:   daysLeft,
			ExpiresAt:  account.ExpiresAt,
		}
		if err := s.pub.Publish(rabbitmq.RouteReminder, event); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := s.accounts.SetLastRemindedDays(ctx, account.ID, daysLeft); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CleanupExpired удаляет аккаунты, истёкшие дольше льготного периода назад:
// сначала на панели, затем локально. Ошибка по одному аккаунту
// не останавливает проход.
func (s *ExpiryService) CleanupExpired(ctx context.Context) {
	cleanupDays, err := s.settings.GetIntSetting(ctx, SettingCleanupDays, s.cfg.CleanupDays)
	if err != nil {
		s.log.Error("failed to read cleanup_days setting", sl.Err(err))
		cleanupDays = s.cfg.CleanupDays
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -cleanupDays)
	expired, err := s.accounts.SelectAccounts(ctx, models.BulkSelector{ExpiredBefore: &cutoff})
	if err != nil {
		s.log.Error("failed to list expired accounts", sl.Err(err))
		return
	}

	removed := 0
	for _, account := range expired {
		if account.Status == models.AccountDeleted {
			continue
		}
		if err := s.cleanup(ctx, account); err != nil {
			s.log.Error("failed to cleanup expired account",
				"account_id", account.ID, sl.Err(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("expired accounts cleaned up", "count", removed)
	}
}

func (s *ExpiryService) cleanup(ctx context.Context, account *models.Account) error {
	const op = "expiry.cleanup"

	s.locks.Lock(account.ID)
	defer s.locks.Unlock(account.ID)

	err := s.panel.DeleteUser(ctx, account.PanelUUID)
	if err != nil && !errors.Is(err, panel.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.accounts.SetAccountStatus(ctx, account.ID,
		models.AccountDeleted, "expired", "scheduler", "grace period passed"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
