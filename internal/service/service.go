// Package service содержит бизнес-логику выдачи и проверки талонов.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmeshcher/coopdesk-system/internal/model"
	"github.com/mmeshcher/coopdesk-system/internal/repository"
	"github.com/mmeshcher/coopdesk-system/internal/token"
	"github.com/mmeshcher/coopdesk-system/internal/validation"
)

// ErrInvalidQuery возвращается для поискового запроса недопустимой длины.
var (
	ErrInvalidQuery = errors.New("invalid search query")
	// ErrAlreadyIssued возвращается при повторной выдаче талона.
	ErrAlreadyIssued = errors.New("token already issued")
	// ErrOperatorNumberMissing возвращается, когда номер оператора неизвестен.
	ErrOperatorNumberMissing = errors.New("operator phone number missing")
	// ErrSaveAfterPrint возвращается, если чек напечатан, но выдача не зафиксирована.
	ErrSaveAfterPrint = errors.New("print succeeded but issue was not saved")
)

const (
	operatorNumberKey = "operator_phone_number"
	timestampLayout   = "2006-01-02 15:04:05"
)

// Repository описывает хранилище записей и настроек.
type Repository interface {
	Close() error
	FindByIdentifier(ctx context.Context, identifier string) (*model.MemberRecord, error)
	UpdateIssueFields(ctx context.Context, memberNumber, issueDate, issuerNumber string) error
	UpdateScanFields(ctx context.Context, memberNumber, scannerNumber, scanDate string) error
	ListAllAttendanceRows(ctx context.Context) ([]model.MemberRecord, error)
	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error
}

// ReceiptPrinter печатает чек с подписанным талоном.
type ReceiptPrinter interface {
	PrintReceipt(ctx context.Context, member *model.MemberRecord) error
}

// Service реализует операции поиска, выдачи, сканирования и отчётности.
type Service struct {
	repo          Repository
	printer       ReceiptPrinter
	verifier      *token.Signer
	fallbackPhone string

	scanMu        sync.Mutex
	scanState     model.ScanState
	scanMessage   string
	scannedMember *model.MemberRecord
}

// NewService создаёт сервис. Подписант талонов общий с печатью:
// проверка скана принимает только талоны, подписанные этим же секретом.
func NewService(repo Repository, printer ReceiptPrinter, verifier *token.Signer, fallbackPhone string) *Service {
	return &Service{
		repo:          repo,
		printer:       printer,
		verifier:      verifier,
		fallbackPhone: fallbackPhone,
		scanState:     model.ScanStateIdle,
	}
}

// Close освобождает ресурсы сервиса.
func (s *Service) Close() error {
	return s.repo.Close()
}

// SearchMember ищет запись по номеру члена общества (1-4 символа)
// либо табельному номеру (ровно 8 символов).
func (s *Service) SearchMember(ctx context.Context, query string) (*model.MemberRecord, error) {
	query = strings.TrimSpace(query)
	if !validation.IsValidSearchQuery(query) {
		return nil, ErrInvalidQuery
	}
	return s.repo.FindByIdentifier(ctx, query)
}

// OperatorNumber возвращает сохранённый номер оператора. Если номер ещё
// не сохранён, берётся резервный номер из конфигурации и запоминается.
func (s *Service) OperatorNumber(ctx context.Context) (string, error) {
	return s.loadOperatorNumber(ctx)
}

func (s *Service) loadOperatorNumber(ctx context.Context) (string, error) {
	number, err := s.repo.GetSetting(ctx, operatorNumberKey)
	if err == nil && number != "" {
		return number, nil
	}
	if err != nil && !errors.Is(err, repository.ErrSettingNotFound) {
		return "", fmt.Errorf("load operator number: %w", err)
	}

	fallback := validation.CleanPhoneNumber(s.fallbackPhone)
	if fallback == "" {
		return "", ErrOperatorNumberMissing
	}
	if err := s.repo.PutSetting(ctx, operatorNumberKey, fallback); err != nil {
		return "", fmt.Errorf("save operator number: %w", err)
	}
	return fallback, nil
}

// SetOperatorNumber сохраняет номер оператора для последующих операций.
func (s *Service) SetOperatorNumber(ctx context.Context, number string) (string, error) {
	cleaned := validation.CleanPhoneNumber(number)
	if cleaned == "" {
		return "", ErrOperatorNumberMissing
	}
	if err := s.repo.PutSetting(ctx, operatorNumberKey, cleaned); err != nil {
		return "", fmt.Errorf("save operator number: %w", err)
	}
	return cleaned, nil
}

// IssueToken печатает чек с талоном и фиксирует выдачу в хранилище.
// Выдача сохраняется строго после успешной печати: неудачная печать
// не оставляет следов в хранилище.
func (s *Service) IssueToken(ctx context.Context, query string) (*model.MemberRecord, error) {
	member, err := s.SearchMember(ctx, query)
	if err != nil {
		return nil, err
	}
	if member.IsIssued() {
		return member, ErrAlreadyIssued
	}

	operator, err := s.OperatorNumber(ctx)
	if err != nil {
		return nil, err
	}

	issued := *member
	issued.IssueDate = time.Now().Format(timestampLayout)
	issued.IssuerNumber = operator

	if err := s.printer.PrintReceipt(ctx, &issued); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateIssueFields(ctx, issued.MemberNumber, issued.IssueDate, issued.IssuerNumber); err != nil {
		// Чек уже в руках у члена общества, выдачу придётся зафиксировать вручную.
		return &issued, fmt.Errorf("%w: %s", ErrSaveAfterPrint, err)
	}

	return &issued, nil
}

// BuildReport агрегирует выдачи и сканы по номерам операторов.
// Каждый член общества учитывается один раз независимо от числа строк истории.
func (s *Service) BuildReport(ctx context.Context) ([]model.ReportItem, error) {
	rows, err := s.repo.ListAllAttendanceRows(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	counts := make(map[string]*model.ReportItem)

	bucket := func(number string) *model.ReportItem {
		number = strings.TrimSpace(number)
		if number == "" {
			number = "Unknown"
		}
		item, ok := counts[number]
		if !ok {
			item = &model.ReportItem{Number: number}
			counts[number] = item
		}
		return item
	}

	for _, row := range rows {
		if seen[row.MemberNumber] {
			continue
		}
		seen[row.MemberNumber] = true

		if hasValidScanDate(row.IssueDate) {
			bucket(row.IssuerNumber).IssueCount++
		}
		if hasValidScanDate(row.ScanDate) {
			bucket(row.ScannerNumber).ScanCount++
		}
	}

	report := make([]model.ReportItem, 0, len(counts))
	for _, item := range counts {
		report = append(report, *item)
	}
	sort.Slice(report, func(i, j int) bool {
		return report[i].IssueCount+report[i].ScanCount > report[j].IssueCount+report[j].ScanCount
	})

	return report, nil
}
