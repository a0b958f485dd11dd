// Package model содержит доменные сущности сервиса coopdesk.
package model

import (
	"strconv"
	"strings"
)

// закрытый счёт помечается в числовой колонке sno строковым литералом.
const closedSentinel = "A/C Closed"

// Serial представляет порядковый номер записи либо признак закрытого счёта.
type Serial struct {
	Number int
	Closed bool
}

// ParseSerial разбирает значение колонки sno, включая сигнальное значение "A/C Closed".
func ParseSerial(raw string) Serial {
	s := strings.TrimSpace(raw)
	if strings.EqualFold(s, closedSentinel) {
		return Serial{Closed: true}
	}
	n, _ := strconv.Atoi(s)
	return Serial{Number: n}
}

// MemberRecord описывает финансовую запись члена общества вместе со статусом выдачи и скана.
type MemberRecord struct {
	FinancialYear  string
	Serial         Serial
	MemberNumber   string
	EmployeeNumber string
	Name           string
	Station        string
	AccountNumber  string
	Mobile         string

	ShareCapital  *float64
	ThriftDeposit *float64
	FamilyDeposit *float64
	LoanDate      string
	LoanAmount    *float64
	LoanBalance   *float64
	Insurance     *float64
	NEFT          *float64

	IssueDate     string
	IssuerNumber  string
	ScanDate      string
	ScannerNumber string

	// Строки истории в том порядке, в котором их вернуло хранилище.
	Dividend []DividendEntry
}

// IsIssued сообщает, выдан ли талон. Признак привязан к дате скана, а не выдачи.
func (m *MemberRecord) IsIssued() bool {
	return m.ScanDate != ""
}

// AccountClosed сообщает, закрыт ли счёт члена общества.
func (m *MemberRecord) AccountClosed() bool {
	if m.Serial.Closed {
		return true
	}
	return len(m.Dividend) > 0 && m.Dividend[0].Serial.Closed
}

// DividendEntry описывает одну строку расчёта дивидендов.
type DividendEntry struct {
	Serial  Serial
	From    string
	To      string
	Days    *int
	Balance *float64
	Amount  *float64
}

// ReportItem содержит количество выдач и сканов, привязанных к номеру оператора.
type ReportItem struct {
	Number     string `json:"number"`
	IssueCount int    `json:"issue_count"`
	ScanCount  int    `json:"scan_count"`
}

// ScanState описывает состояние автомата проверки отсканированных талонов.
type ScanState string

const (
	ScanStateIdle           ScanState = "IDLE"
	ScanStateScanning       ScanState = "SCANNING"
	ScanStateVerified       ScanState = "VERIFIED"
	// Объявлено в контракте состояний, но переходами не достигается.
	ScanStateAlreadyIssued  ScanState = "ALREADY_ISSUED"
	ScanStateAlreadyScanned ScanState = "ALREADY_SCANNED"
	ScanStateInvalid        ScanState = "INVALID"
	ScanStateError          ScanState = "ERROR"
)
