// Package services содержит исполнитель массовых операций над аккаунтами.
// Batch обрабатывается пулом воркеров, каждый аккаунт получает собственный
// итог: частичный провал не прерывает остальных.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starlight-labs/starshop/internal/lib/keylock"
	"github.com/starlight-labs/starshop/internal/lib/sl"
	"github.com/starlight-labs/starshop/internal/models"
	"github.com/starlight-labs/starshop/internal/panel"
)

// ErrUnknownOperation возвращается для операции вне поддерживаемого множества.
var ErrUnknownOperation = errors.New("unknown bulk operation")

// ErrEmptySelection возвращается, когда селектор не выбрал ни одного аккаунта.
var ErrEmptySelection = errors.New("selector matched no accounts")

// AccountRepository определяет методы хранилища для массовых операций.
type AccountRepository interface {
	SelectAccounts(ctx context.Context, sel models.BulkSelector) ([]*models.Account, error)
	SetAccountStatus(ctx context.Context, id string, status models.AccountStatus, reason, actor, detail string) error
	UpdateAccountProvisioning(ctx context.Context, id, planID string, expiresAt time.Time,
		trafficLimit int64, resetPolicy models.ResetPolicy, actor, detail string) error
	UpdateAccountUsage(ctx context.Context, id string, usedBytes int64) error
}

// PlanRepository определяет доступ к справочнику тарифов.
type PlanRepository interface {
	GetPlan(ctx context.Context, id string) (*models.Plan, error)
}

// JobRepository сохраняет запуски массовых операций.
type JobRepository interface {
	CreateBulkJob(ctx context.Context, j models.BulkJob) error
	FinishBulkJob(ctx context.Context, jobID, result string) error
}

// AuditRepository фиксирует итог операции по каждому аккаунту.
type AuditRepository interface {
	AppendAudit(ctx context.Context, e models.AuditEntry) error
}

// PanelClient определяет операции панели, нужные исполнителю.
type PanelClient interface {
	UpdateUser(ctx context.Context, req panel.UpdateUserRequest) (*panel.User, error)
	DeleteUser(ctx context.Context, uuid string) error
	ResetUserTraffic(ctx context.Context, uuid string) error
}

// BulkService выполняет массовые операции над аккаунтами.
type BulkService struct {
	accounts AccountRepository
	plans    PlanRepository
	jobs     JobRepository
	audit    AuditRepository
	panel    PanelClient
	locks    *keylock.KeyLock
	log      *slog.Logger

	concurrency     int
	forcePlanResend bool
}

// NewBulkService создает новый экземпляр BulkService. Замки по аккаунтам
// общие с планировщиком: массовая операция и cleanup не трогают один
// аккаунт одновременно.
func NewBulkService(accounts AccountRepository, plans PlanRepository, jobs JobRepository,
	audit AuditRepository, panelClient PanelClient, locks *keylock.KeyLock, log *slog.Logger,
	concurrency int, forcePlanResend bool) *BulkService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BulkService{
		accounts:        accounts,
		plans:           plans,
		jobs:            jobs,
		audit:           audit,
		panel:           panelClient,
		locks:           locks,
		log:             log,
		concurrency:     concurrency,
		forcePlanResend: forcePlanResend,
	}
}

// Run выполняет массовую операцию и возвращает сводку с итогом
// по каждому выбранному аккаунту.
func (s *BulkService) Run(ctx context.Context, req models.RunBulkRequest) (*models.BulkSummary, error) {
	const op = "bulk.Run"

	operation := models.BulkOperation(req.Operation)
	if !operation.Valid() {
		return nil, fmt.Errorf("%s: %w: %q", op, ErrUnknownOperation, req.Operation)
	}

	params, err := s.parseParams(ctx, operation, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	selected, err := s.accounts.SelectAccounts(ctx, req.Selector)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	missing := missingIDs(req.Selector.AccountIDs, selected)
	if len(selected) == 0 && len(missing) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptySelection)
	}

	payload, _ := json.Marshal(req)
	job := models.BulkJob{
		ID:        uuid.NewString(),
		Operation: operation,
		Payload:   string(payload),
		Status:    "running",
		CreatedBy: req.Actor,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.jobs.CreateBulkJob(ctx, job); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("bulk operation started",
		"job_id", job.ID, "operation", operation,
		"accounts", len(selected), "missing", len(missing))

	outcomes := s.runWorkers(ctx, operation, params, req.Actor, selected)

	// Явно запрошенные, но не найденные аккаунты получают собственный
	// итог: оператор видит каждый ID из селектора в сводке.
	for _, id := range missing {
		outcome := models.BulkOutcome{
			AccountID: id,
			Status:    models.OutcomeSkipped,
			Reason:    "account not found",
		}
		s.auditOutcome(ctx, operation, req.Actor, outcome)
		outcomes = append(outcomes, outcome)
	}

	summary := &models.BulkSummary{
		Operation: operation,
		Total:     len(selected) + len(missing),
		Outcomes:  outcomes,
	}
	for _, o := range outcomes {
		switch o.Status {
		case models.OutcomeSucceeded:
			summary.Succeeded++
		case models.OutcomeFailed:
			summary.Failed++
		case models.OutcomeSkipped:
			summary.Skipped++
		}
	}

	result, _ := json.Marshal(summary)
	if err := s.jobs.FinishBulkJob(ctx, job.ID, string(result)); err != nil {
		s.log.Error("failed to finish bulk job", "job_id", job.ID, sl.Err(err))
	}

	s.log.Info("bulk operation finished", "job_id", job.ID,
		"succeeded", summary.Succeeded, "failed", summary.Failed, "skipped", summary.Skipped)
	return summary, nil
}

// bulkParams — разобранные параметры операции.
type bulkParams struct {
	expiresAt time.Time
	plan      *models.Plan
}

func (s *BulkService) parseParams(ctx context.Context, operation models.BulkOperation,
	req models.RunBulkRequest) (bulkParams, error) {
	var params bulkParams
	switch operation {
	case models.BulkChangeExpiry:
		if req.ExpiresAt == "" {
			return params, errors.New("change-expiry requires expires_at")
		}
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			return params, fmt.Errorf("invalid expires_at: %w", err)
		}
		params.expiresAt = t.UTC()
	case models.BulkChangePlan:
		if req.PlanID == "" {
			return params, errors.New("change-plan requires plan_id")
		}
		plan, err := s.plans.GetPlan(ctx, req.PlanID)
		if err != nil {
			return params, err
		}
		params.plan = plan
	}
	return params, nil
}

func (s *BulkService) runWorkers(ctx context.Context, operation models.BulkOperation,
	params bulkParams, actor string, accounts []*models.Account) []models.BulkOutcome {
	jobs := make(chan int)
	outcomes := make([]models.BulkOutcome, len(accounts))

	var wg sync.WaitGroup
	for range s.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = s.applyOne(ctx, operation, params, actor, accounts[i])
			}
		}()
	}
	for i := range accounts {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return outcomes
}

// applyOne выполняет операцию над одним аккаунтом. Пропуски определяются
// по состоянию сервера, а не по локальным догадкам: повторный запуск
// того же batch даёт skipped вместо повторных изменений.
func (s *BulkService) applyOne(ctx context.Context, operation models.BulkOperation,
	params bulkParams, actor string, account *models.Account) models.BulkOutcome {
	s.locks.Lock(account.ID)
	defer s.locks.Unlock(account.ID)

	outcome := models.BulkOutcome{AccountID: account.ID}

	var skipReason string
	var err error
	switch operation {
	case models.BulkResetTraffic:
		skipReason, err = s.applyResetTraffic(ctx, account)
	case models.BulkDisable:
		skipReason, err = s.applyDisable(ctx, account, actor)
	case models.BulkDelete:
		skipReason, err = s.applyDelete(ctx, account, actor)
	case models.BulkChangeExpiry:
		skipReason, err = s.applyChangeExpiry(ctx, account, params.expiresAt, actor)
	case models.BulkChangePlan:
		skipReason, err = s.applyChangePlan(ctx, account, params.plan, actor)
	}

	switch {
	case err != nil && errors.Is(err, panel.ErrNotFound):
		// Аккаунт есть локально, но на панели пользователя нет:
		// это не провал операции, а расхождение состояния.
		outcome.Status = models.OutcomeSkipped
		outcome.Reason = "panel user not found"
	case err != nil:
		outcome.Status = models.OutcomeFailed
		outcome.Reason = err.Error()
		s.log.Error("bulk operation failed for account",
			"account_id", account.ID, "operation", operation, sl.Err(err))
	case skipReason != "":
		outcome.Status = models.OutcomeSkipped
		outcome.Reason = skipReason
	default:
		outcome.Status = models.OutcomeSucceeded
	}

	s.auditOutcome(ctx, operation, actor, outcome)
	return outcome
}

// auditOutcome пишет запись аудита с итогом операции по одному аккаунту.
// Ошибка записи не меняет итог: сводка первична, журнал вторичен.
func (s *BulkService) auditOutcome(ctx context.Context, operation models.BulkOperation,
	actor string, outcome models.BulkOutcome) {
	detail := "bulk " + string(operation)
	if outcome.Reason != "" {
		detail += ": " + outcome.Reason
	}
	if err := s.audit.AppendAudit(ctx, models.AuditEntry{
		EntityType: models.EntityAccount,
		EntityID:   outcome.AccountID,
		ToState:    string(outcome.Status),
		Actor:      actor,
		Detail:     detail,
	}); err != nil {
		s.log.Error("failed to audit bulk outcome",
			"account_id", outcome.AccountID, sl.Err(err))
	}
}

// missingIDs возвращает явно запрошенные ID, которых нет среди выбранных.
func missingIDs(requested []string, selected []*models.Account) []string {
	if len(requested) == 0 {
		return nil
	}
	found := make(map[string]struct{}, len(selected))
	for _, a := range selected {
		found[a.ID] = struct{}{}
	}
	var missing []string
	for _, id := range requested {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func (s *BulkService) applyResetTraffic(ctx context.Context, account *models.Account) (string, error) {
	if account.Status == models.AccountDeleted {
		return "account deleted", nil
	}
	if err := s.panel.ResetUserTraffic(ctx, account.PanelUUID); err != nil {
		return "", err
	}
	if err := s.accounts.UpdateAccountUsage(ctx, account.ID, 0); err != nil {
		return "", err
	}
	return "", nil
}

func (s *BulkService) applyDisable(ctx context.Context, account *models.Account, actor string) (string, error) {
	if account.Status == models.AccountDisabled {
		return "already disabled", nil
	}
	if account.Status == models.AccountDeleted {
		return "account deleted", nil
	}
	if _, err := s.panel.UpdateUser(ctx, panel.UpdateUserRequest{
		UUID:   account.PanelUUID,
		Status: panel.StatusDisabled,
	}); err != nil {
		return "", err
	}
	if err := s.accounts.SetAccountStatus(ctx, account.ID,
		models.AccountDisabled, "manual", actor, "bulk disable"); err != nil {
		return "", err
	}
	return "", nil
}

func (s *BulkService) applyDelete(ctx context.Context, account *models.Account, actor string) (string, error) {
	if account.Status == models.AccountDeleted {
		return "already deleted", nil
	}
	err := s.panel.DeleteUser(ctx, account.PanelUUID)
	if err != nil && !errors.Is(err, panel.ErrNotFound) {
		return "", err
	}
	if err := s.accounts.SetAccountStatus(ctx, account.ID,
		models.AccountDeleted, "manual", actor, "bulk delete"); err != nil {
		return "", err
	}
	return "", nil
}

func (s *BulkService) applyChangeExpiry(ctx context.Context, account *models.Account,
	expiresAt time.Time, actor string) (string, error) {
	if account.Status == models.AccountDeleted {
		return "account deleted", nil
	}
	if account.ExpiresAt.Equal(expiresAt) {
		return "expiry already matches", nil
	}
	if _, err := s.panel.UpdateUser(ctx, panel.UpdateUserRequest{
		UUID:     account.PanelUUID,
		ExpireAt: expiresAt.Format(panel.ExpireAtFormat),
	}); err != nil {
		return "", err
	}
	if err := s.accounts.UpdateAccountProvisioning(ctx, account.ID, account.PlanID,
		expiresAt, account.TrafficLimitBytes, account.ResetPolicy, actor, "bulk change-expiry"); err != nil {
		return "", err
	}
	return "", nil
}

func (s *BulkService) applyChangePlan(ctx context.Context, account *models.Account,
	plan *models.Plan, actor string) (string, error) {
	if account.Status == models.AccountDeleted {
		return "account deleted", nil
	}
	if account.PlanID == plan.ID && !s.forcePlanResend {
		return "plan already matches", nil
	}
	limit := plan.TrafficLimitBytes
	if _, err := s.panel.UpdateUser(ctx, panel.UpdateUserRequest{
		UUID:                 account.PanelUUID,
		TrafficLimitBytes:    &limit,
		TrafficLimitStrategy: panel.ResetStrategy(plan.ResetPolicy),
	}); err != nil {
		return "", err
	}
	if err := s.accounts.UpdateAccountProvisioning(ctx, account.ID, plan.ID,
		account.ExpiresAt, plan.TrafficLimitBytes, plan.ResetPolicy, actor, "bulk change-plan"); err != nil {
		return "", err
	}
	return "", nil
}
