// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mmeshcher/coopdesk-system/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrMemberNotFound возвращается, если член общества не найден по номеру.
var (
	ErrMemberNotFound = errors.New("member not found")
	// ErrSettingNotFound возвращается, если значение настройки не сохранено.
	ErrSettingNotFound = errors.New("setting not found")
)

// Табельный номер состоит ровно из 8 символов, номер члена общества короче.
const employeeNumberLength = 8

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure или Deadlocks.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		// Если это не pg-ошибка, но сетевая
		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// searchField определяет колонку поиска по длине идентификатора.
func searchField(identifier string) string {
	if len(identifier) == employeeNumberLength {
		return "edpno"
	}
	return "mno"
}

// FindByIdentifier возвращает запись члена общества со всеми строками истории
// в порядке их следования в таблице.
func (r *PostgresRepository) FindByIdentifier(ctx context.Context, identifier string) (*model.MemberRecord, error) {
	query := fmt.Sprintf(
		`SELECT fy, sno, mno, edpno, name, station, acno, mobile,
		        sc, td, fbf, sldt, slamt, slbal, ins, neft,
		        fdate, tdate, days, cb, ic,
		        issue_date, token_issuer, scan_date, sweet_issuer_mobile
		 FROM financial_records
		 WHERE %s = $1
		 ORDER BY id`,
		searchField(identifier),
	)

	var member *model.MemberRecord

	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx, query, identifier)
		if err != nil {
			return fmt.Errorf("select member rows: %w", err)
		}
		defer rows.Close()

		member = nil
		for rows.Next() {
			var (
				fy, sno, mno, edpno, name, station, acno, mobile *string
				sc, td, fbf                                      *float64
				sldt                                             *string
				slamt, slbal, ins, neft                          *float64
				fdate, tdate                                     *string
				days                                             *int
				cb, ic                                           *float64
				issueDate, tokenIssuer                           *string
				scanDate, scannerNumber                          *string
			)

			if err := rows.Scan(
				&fy, &sno, &mno, &edpno, &name, &station, &acno, &mobile,
				&sc, &td, &fbf, &sldt, &slamt, &slbal, &ins, &neft,
				&fdate, &tdate, &days, &cb, &ic,
				&issueDate, &tokenIssuer, &scanDate, &scannerNumber,
			); err != nil {
				return fmt.Errorf("scan member row: %w", err)
			}

			serial := model.ParseSerial(stringValue(sno))

			// Профиль берётся из первой строки, остальные пополняют историю.
			if member == nil {
				member = &model.MemberRecord{
					FinancialYear:  stringValue(fy),
					Serial:         serial,
					MemberNumber:   stringValue(mno),
					EmployeeNumber: stringValue(edpno),
					Name:           stringValue(name),
					Station:        stringValue(station),
					AccountNumber:  stringValue(acno),
					Mobile:         stringValue(mobile),
					ShareCapital:   sc,
					ThriftDeposit:  td,
					FamilyDeposit:  fbf,
					LoanDate:       stringValue(sldt),
					LoanAmount:     slamt,
					LoanBalance:    slbal,
					Insurance:      ins,
					NEFT:           neft,
					IssueDate:      stringValue(issueDate),
					IssuerNumber:   stringValue(tokenIssuer),
					ScanDate:       stringValue(scanDate),
					ScannerNumber:  stringValue(scannerNumber),
				}
			}

			member.Dividend = append(member.Dividend, model.DividendEntry{
				Serial:  serial,
				From:    stringValue(fdate),
				To:      stringValue(tdate),
				Days:    days,
				Balance: cb,
				Amount:  ic,
			})
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if member == nil {
		return nil, ErrMemberNotFound
	}

	return member, nil
}

// UpdateIssueFields фиксирует дату выдачи и номер выдавшего оператора.
func (r *PostgresRepository) UpdateIssueFields(ctx context.Context, memberNumber, issueDate, issuerNumber string) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`UPDATE financial_records SET issue_date = $2, token_issuer = $3 WHERE mno = $1`,
			memberNumber, issueDate, issuerNumber,
		)
		if err != nil {
			return fmt.Errorf("update issue fields: %w", err)
		}
		return nil
	})
}

// UpdateScanFields фиксирует дату скана и номер сканировавшего оператора.
func (r *PostgresRepository) UpdateScanFields(ctx context.Context, memberNumber, scannerNumber, scanDate string) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`UPDATE financial_records SET sweet_issuer_mobile = $2, scan_date = $3 WHERE mno = $1`,
			memberNumber, scannerNumber, scanDate,
		)
		if err != nil {
			return fmt.Errorf("update scan fields: %w", err)
		}
		return nil
	})
}

// ListAllAttendanceRows возвращает строки, в которых заполнена дата выдачи или скана.
// Фильтрация выполняется на стороне БД.
func (r *PostgresRepository) ListAllAttendanceRows(ctx context.Context) ([]model.MemberRecord, error) {
	var res []model.MemberRecord

	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT mno, issue_date, token_issuer, scan_date, sweet_issuer_mobile
			 FROM financial_records
			 WHERE issue_date >= '1800-01-01' OR scan_date >= '1800-01-01'`,
		)
		if err != nil {
			return fmt.Errorf("select attendance rows: %w", err)
		}
		defer rows.Close()

		res = nil
		for rows.Next() {
			var mno, issueDate, tokenIssuer, scanDate, scannerNumber *string

			if err := rows.Scan(&mno, &issueDate, &tokenIssuer, &scanDate, &scannerNumber); err != nil {
				return fmt.Errorf("scan attendance row: %w", err)
			}

			res = append(res, model.MemberRecord{
				MemberNumber:  stringValue(mno),
				IssueDate:     stringValue(issueDate),
				IssuerNumber:  stringValue(tokenIssuer),
				ScanDate:      stringValue(scanDate),
				ScannerNumber: stringValue(scannerNumber),
			})
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// GetSetting возвращает сохранённое значение настройки по ключу.
func (r *PostgresRepository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string

	err := r.pool.QueryRow(ctx,
		`SELECT value FROM settings WHERE key = $1`,
		key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrSettingNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}

	return value, nil
}

// PutSetting сохраняет значение настройки, заменяя предыдущее.
func (r *PostgresRepository) PutSetting(ctx context.Context, key, value string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("put setting: %w", err)
	}
	return nil
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
