package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmeshcher/coopdesk-system/internal/model"
	"github.com/mmeshcher/coopdesk-system/internal/repository"
	"github.com/mmeshcher/coopdesk-system/internal/validation"
)

// ScanOutcome описывает результат обработки отсканированного талона.
type ScanOutcome struct {
	State   model.ScanState     `json:"state"`
	Message string              `json:"message,omitempty"`
	Member  *model.MemberRecord `json:"-"`
}

// HandleScan проверяет сырую строку талона и фиксирует посещение.
// Повторные сканы в терминальном состоянии игнорируются до явного сброса:
// автомат принимает новый талон только из состояния IDLE.
func (s *Service) HandleScan(ctx context.Context, raw string) ScanOutcome {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	if s.scanState != model.ScanStateIdle {
		return s.outcomeLocked()
	}
	s.scanState = model.ScanStateScanning

	// Неверная подпись — это ошибка безопасности, а не "талон не найден".
	identifier, err := s.verifier.Verify(strings.TrimSpace(raw))
	if err != nil {
		return s.failLocked(model.ScanStateError, "Security Alert: Invalid or Tampered QR Code.")
	}

	member, err := s.repo.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			return s.failLocked(model.ScanStateInvalid, "Member not found: "+identifier)
		}
		return s.failLocked(model.ScanStateError, "Lookup failed: "+err.Error())
	}

	if hasValidScanDate(member.ScanDate) {
		s.scannedMember = member
		return s.failLocked(model.ScanStateAlreadyScanned, "Token already scanned on "+member.ScanDate)
	}

	return s.recordScanLocked(ctx, member)
}

// recordScanLocked фиксирует скан найденной записи. Вызывается под scanMu.
func (s *Service) recordScanLocked(ctx context.Context, member *model.MemberRecord) ScanOutcome {
	if strings.TrimSpace(member.MemberNumber) == "" {
		return s.failLocked(model.ScanStateError, "Invalid member data: Member number is missing")
	}

	operator, err := s.loadOperatorNumber(ctx)
	if err != nil {
		s.scannedMember = member
		return s.failLocked(model.ScanStateError, "Unable to detect scanner phone number")
	}

	now := time.Now().Format(timestampLayout)
	if err := s.repo.UpdateScanFields(ctx, member.MemberNumber, operator, now); err != nil {
		s.scannedMember = member
		return s.failLocked(model.ScanStateError, "Failed to record scan: "+err.Error())
	}

	updated := *member
	updated.ScanDate = now
	updated.ScannerNumber = operator

	s.scanState = model.ScanStateVerified
	s.scanMessage = ""
	s.scannedMember = &updated
	return s.outcomeLocked()
}

// RetryWithOperator сохраняет введённый вручную номер оператора и
// повторяет фиксацию последнего неудачного скана.
func (s *Service) RetryWithOperator(ctx context.Context, number string) (ScanOutcome, error) {
	cleaned := validation.CleanPhoneNumber(number)
	if cleaned == "" {
		return ScanOutcome{}, ErrOperatorNumberMissing
	}
	if err := s.repo.PutSetting(ctx, operatorNumberKey, cleaned); err != nil {
		return ScanOutcome{}, err
	}

	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	if s.scanState != model.ScanStateError || s.scannedMember == nil {
		return s.outcomeLocked(), nil
	}

	member := s.scannedMember
	s.scanState = model.ScanStateScanning
	return s.recordScanLocked(ctx, member), nil
}

// ResetScan возвращает автомат сканирования в исходное состояние.
func (s *Service) ResetScan() {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	s.scanState = model.ScanStateIdle
	s.scanMessage = ""
	s.scannedMember = nil
}

// CurrentScan возвращает текущее состояние автомата сканирования.
func (s *Service) CurrentScan() ScanOutcome {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	return s.outcomeLocked()
}

func (s *Service) failLocked(state model.ScanState, message string) ScanOutcome {
	s.scanState = state
	s.scanMessage = message
	return s.outcomeLocked()
}

func (s *Service) outcomeLocked() ScanOutcome {
	return ScanOutcome{
		State:   s.scanState,
		Message: s.scanMessage,
		Member:  s.scannedMember,
	}
}

// hasValidScanDate отличает реальную дату от пустых и сигнальных значений,
// которыми выгрузки помечают отсутствующие даты.
func hasValidScanDate(date string) bool {
	date = strings.TrimSpace(date)
	if date == "" || strings.EqualFold(date, "null") {
		return false
	}
	return !strings.HasPrefix(date, "0000-00-00")
}
