// Package handler содержит HTTP-обработчики API сервиса coopdesk.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/coopdesk-system/internal/model"
	"github.com/mmeshcher/coopdesk-system/internal/printer"
	"github.com/mmeshcher/coopdesk-system/internal/repository"
	"github.com/mmeshcher/coopdesk-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	SearchMember(ctx context.Context, query string) (*model.MemberRecord, error)
	IssueToken(ctx context.Context, query string) (*model.MemberRecord, error)
	HandleScan(ctx context.Context, raw string) service.ScanOutcome
	RetryWithOperator(ctx context.Context, number string) (service.ScanOutcome, error)
	ResetScan()
	CurrentScan() service.ScanOutcome
	BuildReport(ctx context.Context) ([]model.ReportItem, error)
	OperatorNumber(ctx context.Context) (string, error)
	SetOperatorNumber(ctx context.Context, number string) (string, error)
}

// Handler реализует HTTP-обработчики API сервиса coopdesk.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
	}
}

type searchRequest struct {
	Query string `json:"query"`
}

type dividendResponse struct {
	Serial  string   `json:"serial"`
	From    string   `json:"from,omitempty"`
	To      string   `json:"to,omitempty"`
	Days    *int     `json:"days,omitempty"`
	Balance *float64 `json:"balance,omitempty"`
	Amount  *float64 `json:"amount,omitempty"`
}

type memberResponse struct {
	FinancialYear  string `json:"financial_year,omitempty"`
	MemberNumber   string `json:"member_number"`
	EmployeeNumber string `json:"employee_number,omitempty"`
	Name           string `json:"name"`
	Station        string `json:"station,omitempty"`
	AccountNumber  string `json:"account_number,omitempty"`
	Mobile         string `json:"mobile,omitempty"`
	AccountClosed  bool   `json:"account_closed"`

	ShareCapital  *float64 `json:"share_capital,omitempty"`
	ThriftDeposit *float64 `json:"thrift_deposit,omitempty"`
	FamilyDeposit *float64 `json:"family_deposit,omitempty"`
	LoanDate      string   `json:"loan_date,omitempty"`
	LoanAmount    *float64 `json:"loan_amount,omitempty"`
	LoanBalance   *float64 `json:"loan_balance,omitempty"`
	Insurance     *float64 `json:"insurance,omitempty"`
	NEFT          *float64 `json:"neft,omitempty"`

	IssueDate     string `json:"issue_date,omitempty"`
	IssuerNumber  string `json:"issuer_number,omitempty"`
	ScanDate      string `json:"scan_date,omitempty"`
	ScannerNumber string `json:"scanner_number,omitempty"`

	Dividend []dividendResponse `json:"dividend,omitempty"`
}

func toMemberResponse(m *model.MemberRecord) *memberResponse {
	if m == nil {
		return nil
	}

	resp := &memberResponse{
		FinancialYear:  m.FinancialYear,
		MemberNumber:   m.MemberNumber,
		EmployeeNumber: m.EmployeeNumber,
		Name:           m.Name,
		Station:        m.Station,
		AccountNumber:  m.AccountNumber,
		Mobile:         m.Mobile,
		AccountClosed:  m.AccountClosed(),
		ShareCapital:   m.ShareCapital,
		ThriftDeposit:  m.ThriftDeposit,
		FamilyDeposit:  m.FamilyDeposit,
		LoanDate:       m.LoanDate,
		LoanAmount:     m.LoanAmount,
		LoanBalance:    m.LoanBalance,
		Insurance:      m.Insurance,
		NEFT:           m.NEFT,
		IssueDate:      m.IssueDate,
		IssuerNumber:   m.IssuerNumber,
		ScanDate:       m.ScanDate,
		ScannerNumber:  m.ScannerNumber,
	}

	for _, d := range m.Dividend {
		resp.Dividend = append(resp.Dividend, dividendResponse{
			Serial:  serialLabel(d.Serial),
			From:    d.From,
			To:      d.To,
			Days:    d.Days,
			Balance: d.Balance,
			Amount:  d.Amount,
		})
	}

	return resp
}

func serialLabel(s model.Serial) string {
	if s.Closed {
		return "A/C Closed"
	}
	if s.Number == 0 {
		return ""
	}
	return strconv.Itoa(s.Number)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// SearchMember ищет запись по номеру члена общества либо табельному номеру.
func (h *Handler) SearchMember(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	member, err := h.service.SearchMember(r.Context(), req.Query)
	if err != nil {
		if errors.Is(err, service.ErrInvalidQuery) {
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
			return
		}
		if errors.Is(err, repository.ErrMemberNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("search member error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, toMemberResponse(member))
}

// IssueToken печатает чек с талоном и фиксирует выдачу.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	member, err := h.service.IssueToken(r.Context(), req.Query)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidQuery):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		case errors.Is(err, repository.ErrMemberNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrAlreadyIssued):
			http.Error(w, "token already issued", http.StatusConflict)
		case errors.Is(err, service.ErrOperatorNumberMissing):
			http.Error(w, "operator phone number missing", http.StatusBadRequest)
		case errors.Is(err, printer.ErrNoPairedPrinter),
			errors.Is(err, printer.ErrConnectFailed),
			errors.Is(err, printer.ErrTextWriteFailed),
			errors.Is(err, printer.ErrImageWriteFailed):
			h.logger.Error("issue token print error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		case errors.Is(err, service.ErrSaveAfterPrint):
			// Чек напечатан, но выдача не записана: отдаём данные для ручной фиксации.
			h.logger.Error("issue token save error", zap.Error(err))
			h.writeJSON(w, http.StatusInternalServerError, toMemberResponse(member))
		default:
			h.logger.Error("issue token error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, toMemberResponse(member))
}

type scanResponse struct {
	State   model.ScanState `json:"state"`
	Message string          `json:"message,omitempty"`
	Member  *memberResponse `json:"member,omitempty"`
}

func toScanResponse(outcome service.ScanOutcome) scanResponse {
	return scanResponse{
		State:   outcome.State,
		Message: outcome.Message,
		Member:  toMemberResponse(outcome.Member),
	}
}

// Scan принимает сырую строку отсканированного QR-кода.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	raw := strings.TrimSpace(string(body))
	if raw == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	outcome := h.service.HandleScan(r.Context(), raw)
	h.writeJSON(w, http.StatusOK, toScanResponse(outcome))
}

type operatorRequest struct {
	Number string `json:"number"`
}

// RetryScan сохраняет введённый вручную номер оператора и повторяет фиксацию скана.
func (h *Handler) RetryScan(w http.ResponseWriter, r *http.Request) {
	var req operatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	outcome, err := h.service.RetryWithOperator(r.Context(), req.Number)
	if err != nil {
		if errors.Is(err, service.ErrOperatorNumberMissing) {
			http.Error(w, "operator phone number missing", http.StatusBadRequest)
			return
		}
		h.logger.Error("retry scan error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, toScanResponse(outcome))
}

// ResetScan возвращает автомат сканирования в исходное состояние.
func (h *Handler) ResetScan(w http.ResponseWriter, r *http.Request) {
	h.service.ResetScan()
	h.writeJSON(w, http.StatusOK, toScanResponse(h.service.CurrentScan()))
}

// ScanState возвращает текущее состояние автомата сканирования.
func (h *Handler) ScanState(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, toScanResponse(h.service.CurrentScan()))
}

type reportResponse struct {
	Operators    []model.ReportItem `json:"operators"`
	TotalIssued  int                `json:"total_issued"`
	TotalScanned int                `json:"total_scanned"`
}

// Report возвращает сводку выдач и сканов по операторам.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.BuildReport(r.Context())
	if err != nil {
		h.logger.Error("build report error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := reportResponse{Operators: items}
	if resp.Operators == nil {
		resp.Operators = []model.ReportItem{}
	}
	for _, item := range items {
		resp.TotalIssued += item.IssueCount
		resp.TotalScanned += item.ScanCount
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type operatorResponse struct {
	Number string `json:"number"`
}

// GetOperator возвращает сохранённый номер оператора.
func (h *Handler) GetOperator(w http.ResponseWriter, r *http.Request) {
	number, err := h.service.OperatorNumber(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrOperatorNumberMissing) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get operator error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, operatorResponse{Number: number})
}

// SetOperator сохраняет номер оператора.
func (h *Handler) SetOperator(w http.ResponseWriter, r *http.Request) {
	var req operatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	number, err := h.service.SetOperatorNumber(r.Context(), req.Number)
	if err != nil {
		if errors.Is(err, service.ErrOperatorNumberMissing) {
			http.Error(w, "operator phone number missing", http.StatusBadRequest)
			return
		}
		h.logger.Error("set operator error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, operatorResponse{Number: number})
}
