// Package services содержит детектор аномалий совместного использования
// аккаунтов. Детектор оценивает журнал обращений к подписке за окно времени
// и выносит объяснимый вердикт: численный score плюс сигналы, из которых
// он сложился.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starlight-labs/starshop/internal/config"
	"github.com/starlight-labs/starshop/internal/lib/rabbitmq"
	"github.com/starlight-labs/starshop/internal/lib/sl"
	"github.com/starlight-labs/starshop/internal/models"
	"github.com/starlight-labs/starshop/internal/panel"
)

// AccountRepository определяет методы хранилища для детектора.
type AccountRepository interface {
	ListActiveAccounts(ctx context.Context) ([]*models.Account, error)
	SetAccountStatus(ctx context.Context, id string, status models.AccountStatus, reason, actor, detail string) error
}

// WhitelistRepository — доступ к исключениям автоотключения.
type WhitelistRepository interface {
	// GetWhitelist возвращает nil без ошибки, если записи нет.
	GetWhitelist(ctx context.Context, accountID string) (*models.WhitelistEntry, error)
	AddWhitelist(ctx context.Context, e models.WhitelistEntry) error
	RemoveWhitelist(ctx context.Context, accountID string) (int, error)
}

// EventRepository сохраняет вынесенные вердикты.
type EventRepository interface {
	CreateAnomalyEvent(ctx context.Context, e models.AnomalyEvent) (int64, error)
}

// AuditRepository фиксирует ручные действия оператора над whitelist.
type AuditRepository interface {
	AppendAudit(ctx context.Context, e models.AuditEntry) error
}

// PanelClient определяет операции панели, нужные детектору.
type PanelClient interface {
	GetUserRequestHistory(ctx context.Context, uuid string) ([]panel.RequestLogItem, error)
	UpdateUser(ctx context.Context, req panel.UpdateUserRequest) (*panel.User, error)
}

// Publisher публикует алерты оператору.
type Publisher interface {
	Publish(routingKey string, message any) error
}

// Cache хранит отметку последнего прохода детектора.
type Cache interface {
	Set(key string, value any, expiration time.Duration) error
}

const lastScanKey = "anomaly:last_scan"

// Verdict — результат оценки одного аккаунта.
type Verdict struct {
	Score       int
	IPCount     int
	UADiversity int
	Density     int
	Suspicious  bool
	Evidence    []models.AnomalyEvidence
	WindowFrom  time.Time
	WindowTo    time.Time
}

// AnomalyService периодически сканирует активные аккаунты
// и отключает подозрительные, кроме внесённых в whitelist.
type AnomalyService struct {
	accounts  AccountRepository
	whitelist WhitelistRepository
	events    EventRepository
	audit     AuditRepository
	panel     PanelClient
	pub       Publisher
	cache     Cache
	log       *slog.Logger
	cfg       config.Anomaly
}

// NewAnomalyService создает новый экземпляр AnomalyService.
func NewAnomalyService(accounts AccountRepository, whitelist WhitelistRepository,
	events EventRepository, audit AuditRepository, panelClient PanelClient,
	pub Publisher, cache Cache, log *slog.Logger, cfg config.Anomaly) *AnomalyService {
	return &AnomalyService{
		accounts:  accounts,
		whitelist: whitelist,
		events:    events,
		audit:     audit,
		panel:     panelClient,
		pub:       pub,
		cache:     cache,
		log:       log,
		cfg:       cfg,
	}
}

// Run запускает периодическое сканирование до отмены контекста.
func (s *AnomalyService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan выполняет один проход по всем активным аккаунтам.
func (s *AnomalyService) Scan(ctx context.Context) {
	accounts, err := s.accounts.ListActiveAccounts(ctx)
	if err != nil {
		s.log.Error("failed to list accounts for anomaly scan", sl.Err(err))
		return
	}

	flagged := 0
	for _, account := range accounts {
		suspicious, err := s.scanAccount(ctx, account)
		if err != nil {
			s.log.Error("anomaly scan failed for account",
				"account_id", account.ID, sl.Err(err))
			continue
		}
		if suspicious {
			flagged++
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(lastScanKey, time.Now().Unix(), 0); err != nil {
			s.log.Warn("failed to record scan mark", sl.Err(err))
		}
	}
	s.log.Info("anomaly scan finished", "accounts", len(accounts), "flagged", flagged)
}

func (s *AnomalyService) scanAccount(ctx context.Context, account *models.Account) (bool, error) {
	const op = "anomaly.scanAccount"

	history, err := s.panel.GetUserRequestHistory(ctx, account.PanelUUID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()
	verdict := s.Evaluate(history, now)
	if !verdict.Suspicious {
		return false, nil
	}

	action, err := s.act(ctx, account, verdict)
	if err != nil {
		return true, fmt.Errorf("%s: %w", op, err)
	}

	event := models.AnomalyEvent{
		AccountID:   account.ID,
		Score:       verdict.Score,
		IPCount:     verdict.IPCount,
		IPThreshold: s.cfg.IPThreshold,
		UADiversity: verdict.UADiversity,
		Density:     verdict.Density,
		WindowFrom:  verdict.WindowFrom,
		WindowTo:    verdict.WindowTo,
		ActionTaken: action,
		Evidence:    verdict.Evidence,
		CreatedAt:   now,
	}
	if _, err := s.events.CreateAnomalyEvent(ctx, event); err != nil {
		return true, fmt.Errorf("%s: %w", op, err)
	}

	s.publishAlert(account.ID, event)
	s.log.Warn("anomaly detected",
		"account_id", account.ID, "score", verdict.Score,
		"ip_count", verdict.IPCount, "action", action)
	return true, nil
}

// Evaluate оценивает журнал обращений за окно, оканчивающееся в now.
// Формула score настраивается конфигом, сигналы считаются детерминированно:
// один и тот же журнал всегда даёт один и тот же вердикт.
func (s *AnomalyService) Evaluate(history []panel.RequestLogItem, now time.Time) Verdict {
	from := now.Add(-s.cfg.Window)
	verdict := Verdict{WindowFrom: from, WindowTo: now}

	ips := map[string]struct{}{}
	agents := map[string]struct{}{}
	requests := 0
	for _, item := range history {
		ts := item.Timestamp.Time
		if ts.Before(from) || ts.After(now) {
			continue
		}
		requests++
		if item.IP != "" {
			if _, seen := ips[item.IP]; !seen {
				ips[item.IP] = struct{}{}
				verdict.Evidence = append(verdict.Evidence, models.AnomalyEvidence{
					Time:      ts,
					IP:        item.IP,
					UserAgent: item.UserAgent,
				})
			}
		}
		if item.UserAgent != "" {
			agents[item.UserAgent] = struct{}{}
		}
	}

	verdict.IPCount = len(ips)
	verdict.UADiversity = len(agents)
	verdict.Density = requests

	if s.cfg.DensityDivisor > 0 {
		verdict.Score = verdict.IPCount*s.cfg.IPWeight +
			verdict.UADiversity*s.cfg.UAWeight +
			verdict.Density/s.cfg.DensityDivisor
	} else {
		verdict.Score = verdict.IPCount*s.cfg.IPWeight + verdict.UADiversity*s.cfg.UAWeight
	}

	verdict.Suspicious = verdict.IPCount > s.cfg.IPThreshold && verdict.Score >= s.cfg.ScoreThreshold
	return verdict
}

// act отключает аккаунт или, если он в whitelist, ограничивается алертом.
func (s *AnomalyService) act(ctx context.Context, account *models.Account, verdict Verdict) (string, error) {
	entry, err := s.whitelist.GetWhitelist(ctx, account.ID)
	if err != nil {
		return "", err
	}
	if entry != nil && entry.Active(time.Now().UTC()) {
		return models.AnomalyActionWhitelisted, nil
	}

	if _, err := s.panel.UpdateUser(ctx, panel.UpdateUserRequest{
		UUID:   account.PanelUUID,
		Status: panel.StatusDisabled,
	}); err != nil {
		return "", err
	}
	detail := fmt.Sprintf("score %d, %d ips in window", verdict.Score, verdict.IPCount)
	if err := s.accounts.SetAccountStatus(ctx, account.ID,
		models.AccountDisabled, "anomaly", "anomaly", detail); err != nil {
		return "", err
	}
	return models.AnomalyActionDisabled, nil
}

func (s *AnomalyService) publishAlert(accountID string, event models.AnomalyEvent) {
	if s.pub == nil {
		return
	}
	alert := models.AnomalyAlertEvent{
		AccountID:   accountID,
		Score:       event.Score,
		IPCount:     event.IPCount,
		IPThreshold: event.IPThreshold,
		UADiversity: event.UADiversity,
		Density:     event.Density,
		ActionTaken: event.ActionTaken,
		Evidence:    event.Evidence,
	}
	if err := s.pub.Publish(rabbitmq.RouteAnomaly, alert); err != nil {
		s.log.Error("failed to publish anomaly alert", "account_id", accountID, sl.Err(err))
	}
}

// AddToWhitelist вносит аккаунт в исключения автоотключения.
func (s *AnomalyService) AddToWhitelist(ctx context.Context, req models.AddWhitelistRequest) (*models.WhitelistEntry, error) {
	const op = "anomaly.AddToWhitelist"

	entry := models.WhitelistEntry{
		AccountID: req.AccountID,
		Reason:    req.Reason,
		AddedBy:   req.Actor,
		CreatedAt: time.Now().UTC(),
	}
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid expires_at: %w", op, err)
		}
		utc := t.UTC()
		entry.ExpiresAt = &utc
	}
	if err := s.whitelist.AddWhitelist(ctx, entry); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.audit.AppendAudit(ctx, models.AuditEntry{
		EntityType: models.EntityAccount,
		EntityID:   entry.AccountID,
		ToState:    "whitelisted",
		Actor:      entry.AddedBy,
		Detail:     entry.Reason,
	}); err != nil {
		s.log.Error("failed to audit whitelist add", "account_id", entry.AccountID, sl.Err(err))
	}
	s.log.Info("account whitelisted", "account_id", entry.AccountID, "by", entry.AddedBy)
	return &entry, nil
}

// RemoveFromWhitelist убирает аккаунт из исключений.
// Возвращает false, если записи не было.
func (s *AnomalyService) RemoveFromWhitelist(ctx context.Context, accountID, actor string) (bool, error) {
	const op = "anomaly.RemoveFromWhitelist"

	n, err := s.whitelist.RemoveWhitelist(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if n > 0 {
		if err := s.audit.AppendAudit(ctx, models.AuditEntry{
			EntityType: models.EntityAccount,
			EntityID:   accountID,
			FromState:  "whitelisted",
			ToState:    "unwhitelisted",
			Actor:      actor,
		}); err != nil {
			s.log.Error("failed to audit whitelist remove", "account_id", accountID, sl.Err(err))
		}
	}
	return n > 0, nil
}
