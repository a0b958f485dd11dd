package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mmeshcher/coopdesk-system/internal/model"
	"github.com/mmeshcher/coopdesk-system/internal/repository"
	"github.com/mmeshcher/coopdesk-system/internal/token"
)

type scanCall struct {
	memberNumber  string
	scannerNumber string
	scanDate      string
}

type stubRepo struct {
	member   *model.MemberRecord
	findErr  error
	findHits int

	issueErr   error
	issueCalls []scanCall

	scanErr   error
	scanCalls []scanCall

	rows []model.MemberRecord

	settings map[string]string
}

func newStubRepo(member *model.MemberRecord) *stubRepo {
	return &stubRepo{member: member, settings: map[string]string{}}
}

func (r *stubRepo) Close() error { return nil }

func (r *stubRepo) FindByIdentifier(_ context.Context, identifier string) (*model.MemberRecord, error) {
	r.findHits++
	if r.findErr != nil {
		return nil, r.findErr
	}
	if r.member == nil {
		return nil, repository.ErrMemberNotFound
	}
	m := *r.member
	return &m, nil
}

func (r *stubRepo) UpdateIssueFields(_ context.Context, memberNumber, issueDate, issuerNumber string) error {
	if r.issueErr != nil {
		return r.issueErr
	}
	r.issueCalls = append(r.issueCalls, scanCall{memberNumber: memberNumber, scanDate: issueDate, scannerNumber: issuerNumber})
	return nil
}

func (r *stubRepo) UpdateScanFields(_ context.Context, memberNumber, scannerNumber, scanDate string) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	r.scanCalls = append(r.scanCalls, scanCall{memberNumber: memberNumber, scannerNumber: scannerNumber, scanDate: scanDate})
	return nil
}

func (r *stubRepo) ListAllAttendanceRows(_ context.Context) ([]model.MemberRecord, error) {
	return r.rows, nil
}

func (r *stubRepo) GetSetting(_ context.Context, key string) (string, error) {
	v, ok := r.settings[key]
	if !ok {
		return "", repository.ErrSettingNotFound
	}
	return v, nil
}

func (r *stubRepo) PutSetting(_ context.Context, key, value string) error {
	r.settings[key] = value
	return nil
}

type stubPrinter struct {
	printErr error
	printed  []*model.MemberRecord
}

func (p *stubPrinter) PrintReceipt(_ context.Context, member *model.MemberRecord) error {
	if p.printErr != nil {
		return p.printErr
	}
	m := *member
	p.printed = append(p.printed, &m)
	return nil
}

var testSigner = token.NewSigner("test-secret")

func newTestService(repo *stubRepo, printer *stubPrinter) *Service {
	return NewService(repo, printer, testSigner, "")
}

func testMember() *model.MemberRecord {
	return &model.MemberRecord{
		Serial:       model.Serial{Number: 1},
		MemberNumber: "1234",
		Name:         "R. KUMAR",
	}
}

func TestSearchMemberInvalidQuery(t *testing.T) {
	svc := newTestService(newStubRepo(testMember()), &stubPrinter{})

	for _, query := range []string{"", "12345", "1234567", "123456789"} {
		if _, err := svc.SearchMember(context.Background(), query); !errors.Is(err, ErrInvalidQuery) {
			t.Fatalf("query %q: got %v, want ErrInvalidQuery", query, err)
		}
	}
}

func TestHandleScanVerified(t *testing.T) {
	repo := newStubRepo(testMember())
	repo.settings[operatorNumberKey] = "9876543210"
	svc := newTestService(repo, &stubPrinter{})

	outcome := svc.HandleScan(context.Background(), testSigner.Sign("1234"))

	if outcome.State != model.ScanStateVerified {
		t.Fatalf("state = %s, want VERIFIED (%s)", outcome.State, outcome.Message)
	}
	if len(repo.scanCalls) != 1 {
		t.Fatalf("got %d scan updates, want 1", len(repo.scanCalls))
	}
	call := repo.scanCalls[0]
	if call.memberNumber != "1234" || call.scannerNumber != "9876543210" {
		t.Fatalf("unexpected scan update: %+v", call)
	}
	if call.scanDate == "" {
		t.Fatalf("scan date must be recorded")
	}
	if outcome.Member == nil || outcome.Member.ScanDate != call.scanDate {
		t.Fatalf("outcome member must carry the recorded scan date")
	}
}

func TestHandleScanAlreadyScanned(t *testing.T) {
	member := testMember()
	member.ScanDate = "2024-06-01 10:15:00"
	repo := newStubRepo(member)
	repo.settings[operatorNumberKey] = "9876543210"
	svc := newTestService(repo, &stubPrinter{})

	outcome := svc.HandleScan(context.Background(), testSigner.Sign("1234"))

	if outcome.State != model.ScanStateAlreadyScanned {
		t.Fatalf("state = %s, want ALREADY_SCANNED", outcome.State)
	}
	if len(repo.scanCalls) != 0 {
		t.Fatalf("repeat scan must not update the record")
	}
	if !strings.Contains(outcome.Message, member.ScanDate) {
		t.Fatalf("message %q must name the original scan date", outcome.Message)
	}
}

func TestHandleScanTamperedToken(t *testing.T) {
	repo := newStubRepo(testMember())
	svc := newTestService(repo, &stubPrinter{})

	signed := testSigner.Sign("1234")
	tampered := "9999" + signed[4:]

	outcome := svc.HandleScan(context.Background(), tampered)

	if outcome.State != model.ScanStateError {
		t.Fatalf("state = %s, want ERROR", outcome.State)
	}
	if !strings.Contains(outcome.Message, "Security Alert") {
		t.Fatalf("message %q must flag the security failure", outcome.Message)
	}
	if repo.findHits != 0 {
		t.Fatalf("tampered token must be rejected before the lookup")
	}
}

func TestHandleScanMalformedToken(t *testing.T) {
	repo := newStubRepo(testMember())
	svc := newTestService(repo, &stubPrinter{})

	outcome := svc.HandleScan(context.Background(), "1234")

	if outcome.State != model.ScanStateError {
		t.Fatalf("state = %s, want ERROR", outcome.State)
	}
	if repo.findHits != 0 {
		t.Fatalf("unsigned identifier must never reach the store")
	}
}

func TestHandleScanMemberNotFound(t *testing.T) {
	repo := newStubRepo(nil)
	svc := newTestService(repo, &stubPrinter{})

	outcome := svc.HandleScan(context.Background(), testSigner.Sign("1234"))

	if outcome.State != model.ScanStateInvalid {
		t.Fatalf("state = %s, want INVALID", outcome.State)
	}
}

func TestHandleScanTerminalStateIgnoresNewTokens(t *testing.T) {
	repo := newStubRepo(testMember())
	repo.settings[operatorNumberKey] = "9876543210"
	svc := newTestService(repo, &stubPrinter{})

	first := svc.HandleScan(context.Background(), testSigner.Sign("1234"))
	if first.State != model.ScanStateVerified {
		t.Fatalf("state = %s, want VERIFIED", first.State)
	}

	second := svc.HandleScan(context.Background(), testSigner.Sign("1234"))
	if second.State != model.ScanStateVerified {
		t.Fatalf("terminal state must persist, got %s", second.State)
	}
	if repo.findHits != 1 || len(repo.scanCalls) != 1 {
		t.Fatalf("scan in a terminal state must be ignored: finds=%d updates=%d", repo.findHits, len(repo.scanCalls))
	}

	svc.ResetScan()
	if got := svc.CurrentScan().State; got != model.ScanStateIdle {
		t.Fatalf("state after reset = %s, want IDLE", got)
	}
}

func TestHandleScanOperatorMissingThenRetry(t *testing.T) {
	repo := newStubRepo(testMember())
	svc := newTestService(repo, &stubPrinter{})

	outcome := svc.HandleScan(context.Background(), testSigner.Sign("1234"))

	if outcome.State != model.ScanStateError {
		t.Fatalf("state = %s, want ERROR", outcome.State)
	}
	if len(repo.scanCalls) != 0 {
		t.Fatalf("scan must not be recorded without an operator number")
	}

	retried, err := svc.RetryWithOperator(context.Background(), "+91 98765 43210")
	if err != nil {
		t.Fatalf("RetryWithOperator error: %v", err)
	}
	if retried.State != model.ScanStateVerified {
		t.Fatalf("state after retry = %s, want VERIFIED (%s)", retried.State, retried.Message)
	}
	if got := repo.settings[operatorNumberKey]; got != "9876543210" {
		t.Fatalf("operator number = %q, want cleaned 9876543210", got)
	}
	if len(repo.scanCalls) != 1 || repo.scanCalls[0].scannerNumber != "9876543210" {
		t.Fatalf("unexpected scan updates after retry: %+v", repo.scanCalls)
	}
}

func TestIssueTokenAlreadyIssued(t *testing.T) {
	member := testMember()
	member.ScanDate = "2024-06-01 10:15:00"
	repo := newStubRepo(member)
	printer := &stubPrinter{}
	svc := newTestService(repo, printer)

	_, err := svc.IssueToken(context.Background(), "1234")

	if !errors.Is(err, ErrAlreadyIssued) {
		t.Fatalf("got %v, want ErrAlreadyIssued", err)
	}
	if len(printer.printed) != 0 {
		t.Fatalf("issued token must not be printed again")
	}
}

func TestIssueTokenPrintFailureLeavesNoTrace(t *testing.T) {
	repo := newStubRepo(testMember())
	repo.settings[operatorNumberKey] = "9876543210"
	printer := &stubPrinter{printErr: errors.New("printer offline")}
	svc := newTestService(repo, printer)

	_, err := svc.IssueToken(context.Background(), "1234")

	if err == nil {
		t.Fatalf("expected print error")
	}
	if len(repo.issueCalls) != 0 {
		t.Fatalf("failed print must not persist the issue")
	}
}

func TestIssueTokenSuccess(t *testing.T) {
	repo := newStubRepo(testMember())
	repo.settings[operatorNumberKey] = "9876543210"
	printer := &stubPrinter{}
	svc := newTestService(repo, printer)

	issued, err := svc.IssueToken(context.Background(), "1234")
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}

	if len(printer.printed) != 1 {
		t.Fatalf("got %d prints, want 1", len(printer.printed))
	}
	if printer.printed[0].IssueDate == "" || printer.printed[0].IssuerNumber != "9876543210" {
		t.Fatalf("printed receipt must carry the issue fields: %+v", printer.printed[0])
	}

	if len(repo.issueCalls) != 1 {
		t.Fatalf("got %d issue updates, want 1", len(repo.issueCalls))
	}
	call := repo.issueCalls[0]
	if call.memberNumber != "1234" || call.scanDate != issued.IssueDate || call.scannerNumber != "9876543210" {
		t.Fatalf("unexpected issue update: %+v", call)
	}
}

func TestIssueTokenSaveFailureAfterPrint(t *testing.T) {
	repo := newStubRepo(testMember())
	repo.settings[operatorNumberKey] = "9876543210"
	repo.issueErr = errors.New("connection refused")
	printer := &stubPrinter{}
	svc := newTestService(repo, printer)

	issued, err := svc.IssueToken(context.Background(), "1234")

	if !errors.Is(err, ErrSaveAfterPrint) {
		t.Fatalf("got %v, want ErrSaveAfterPrint", err)
	}
	if issued == nil || issued.IssueDate == "" {
		t.Fatalf("printed member must be returned with its issue fields")
	}
}

func TestBuildReport(t *testing.T) {
	repo := newStubRepo(nil)
	repo.rows = []model.MemberRecord{
		{MemberNumber: "1001", IssueDate: "2024-06-01 09:00:00", IssuerNumber: "9876543210", ScanDate: "2024-06-01 12:00:00", ScannerNumber: "9876543210"},
		{MemberNumber: "1001", IssueDate: "2024-06-01 09:00:00", IssuerNumber: "9876543210", ScanDate: "2024-06-01 12:00:00", ScannerNumber: "9876543210"},
		{MemberNumber: "1002", IssueDate: "2024-06-01 09:05:00", IssuerNumber: "9876543210"},
		{MemberNumber: "1003", IssueDate: "2024-06-01 09:10:00"},
		{MemberNumber: "1004", IssueDate: "0000-00-00 00:00:00", ScanDate: "2024-06-01 12:30:00", ScannerNumber: "9123456780"},
	}
	svc := newTestService(repo, &stubPrinter{})

	report, err := svc.BuildReport(context.Background())
	if err != nil {
		t.Fatalf("BuildReport error: %v", err)
	}

	if len(report) != 3 {
		t.Fatalf("got %d report rows, want 3: %+v", len(report), report)
	}

	// Повторные строки одного номера не удваивают счётчики.
	if report[0].Number != "9876543210" || report[0].IssueCount != 2 || report[0].ScanCount != 1 {
		t.Fatalf("unexpected top operator: %+v", report[0])
	}

	byNumber := map[string]model.ReportItem{}
	for _, item := range report {
		byNumber[item.Number] = item
	}
	if got := byNumber["Unknown"]; got.IssueCount != 1 || got.ScanCount != 0 {
		t.Fatalf("unexpected Unknown bucket: %+v", got)
	}
	if got := byNumber["9123456780"]; got.IssueCount != 0 || got.ScanCount != 1 {
		t.Fatalf("unexpected second operator: %+v", got)
	}
}
