// Package sqlstore implements the document store on top of sqlx, backed by
// either PostgreSQL (pgx stdlib driver) or SQLite (modernc).
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"sirius-funding/internal/models"
	"sirius-funding/internal/store"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open connects to the database and applies the schema for driver.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}

	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case DriverPostgres:
		db, err = sqlx.ConnectContext(ctx, "pgx", dsn)
	case DriverSQLite:
		db, err = sqlx.ConnectContext(ctx, "sqlite", sqliteDSN(dsn))
		if err == nil {
			// One writer at a time; concurrent writers would only trade
			// version conflicts for SQLITE_BUSY.
			db.SetMaxOpenConns(1)
		}
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	schema, err := schemaFS.ReadFile("schema/" + driver + ".sql")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, string(schema)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

type campaignRow struct {
	ID             string          `db:"id"`
	ProjectID      string          `db:"project_id"`
	Creator        string          `db:"creator"`
	Goal           decimal.Decimal `db:"goal"`
	Deadline       int64           `db:"deadline"`
	Description    string          `db:"description"`
	ImageRef       string          `db:"image_ref"`
	DonationsTotal decimal.Decimal `db:"donations_total"`
	CreatedAt      int64           `db:"created_at"`
	Version        int64           `db:"version"`
}

func (r campaignRow) model() models.Campaign {
	return models.Campaign{
		ID:             r.ID,
		ProjectID:      r.ProjectID,
		Creator:        r.Creator,
		Goal:           r.Goal,
		Deadline:       fromMillis(r.Deadline),
		Description:    r.Description,
		ImageRef:       r.ImageRef,
		DonationsTotal: r.DonationsTotal,
		CreatedAt:      fromMillis(r.CreatedAt),
		Version:        r.Version,
	}
}

const campaignColumns = `id, project_id, creator, goal, deadline, description, image_ref, donations_total, created_at, version`

func (s *Store) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	c.ID = uuid.NewString()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	c.DonationsTotal = decimal.Zero
	c.Version = 0

	query := `
		INSERT INTO campaigns
		  (id, project_id, creator, goal, deadline, description, image_ref, donations_total, created_at, version)
		VALUES
		  (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`
	_, err := s.db.ExecContext(ctx, s.db.Rebind(query),
		c.ID, c.ProjectID, c.Creator, c.Goal, toMillis(c.Deadline),
		c.Description, c.ImageRef, c.DonationsTotal, toMillis(c.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrSlugTaken
		}
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

func (s *Store) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	return s.getCampaign(ctx, s.db, id)
}

func (s *Store) getCampaign(ctx context.Context, q sqlx.QueryerContext, id string) (*models.Campaign, error) {
	var row campaignRow
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = ?`
	if err := sqlx.GetContext(ctx, q, &row, s.db.Rebind(query), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	c := row.model()
	return &c, nil
}

func (s *Store) FindCampaignBySlug(ctx context.Context, projectID string) (*models.Campaign, error) {
	var rows []campaignRow
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE project_id = ? ORDER BY created_at, id`
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), projectID); err != nil {
		return nil, fmt.Errorf("find campaign by slug: %w", err)
	}
	if len(rows) == 0 {
		return nil, models.ErrNotFound
	}
	c := rows[0].model()
	return &c, nil
}

func (s *Store) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	var rows []campaignRow
	query := `SELECT ` + campaignColumns + ` FROM campaigns ORDER BY created_at, id`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	out := make([]models.Campaign, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (s *Store) UpdateDonationsTotal(ctx context.Context, expectedVersion int64, newTotal decimal.Decimal, ev models.DonationEvent) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	// Ensure the transaction is rolled back on error
	defer tx.Rollback()

	query := `
		UPDATE campaigns SET donations_total = ?, version = version + 1
		WHERE id = ? AND version = ?
	`
	res, err := tx.ExecContext(ctx, tx.Rebind(query), newTotal, ev.CampaignID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update donations total: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		if _, err := s.getCampaign(ctx, tx, ev.CampaignID); err != nil {
			return err
		}
		return models.ErrVersionConflict
	}

	query = `
		INSERT INTO donation_events (campaign_id, tx_hash, amount, donor_address, confirmed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (campaign_id, tx_hash) DO NOTHING
	`
	res, err = tx.ExecContext(ctx, tx.Rebind(query),
		ev.CampaignID, ev.TxHash, ev.Amount, ev.DonorAddress, toMillis(ev.ConfirmedAt))
	if err != nil {
		return fmt.Errorf("insert donation event: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return models.ErrDuplicateDonation
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) HasDonation(ctx context.Context, campaignID, txHash string) (bool, error) {
	var n int
	query := `SELECT COUNT(*) FROM donation_events WHERE campaign_id = ? AND tx_hash = ?`
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(query), campaignID, txHash); err != nil {
		return false, fmt.Errorf("has donation: %w", err)
	}
	return n > 0, nil
}

type donationRow struct {
	CampaignID   string          `db:"campaign_id"`
	TxHash       string          `db:"tx_hash"`
	Amount       decimal.Decimal `db:"amount"`
	DonorAddress string          `db:"donor_address"`
	ConfirmedAt  int64           `db:"confirmed_at"`
}

func (r donationRow) model() models.DonationEvent {
	return models.DonationEvent{
		CampaignID:   r.CampaignID,
		Amount:       r.Amount,
		DonorAddress: r.DonorAddress,
		TxHash:       r.TxHash,
		ConfirmedAt:  fromMillis(r.ConfirmedAt),
	}
}

func (s *Store) FindDonation(ctx context.Context, txHash string) (*models.DonationEvent, error) {
	var row donationRow
	query := `
		SELECT campaign_id, tx_hash, amount, donor_address, confirmed_at
		FROM donation_events WHERE tx_hash = ? ORDER BY confirmed_at LIMIT 1
	`
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(query), txHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("find donation: %w", err)
	}
	ev := row.model()
	return &ev, nil
}

func (s *Store) ListDonations(ctx context.Context, campaignID string) ([]models.DonationEvent, error) {
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}

	var rows []donationRow
	query := `
		SELECT campaign_id, tx_hash, amount, donor_address, confirmed_at
		FROM donation_events WHERE campaign_id = ? ORDER BY confirmed_at, tx_hash
	`
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), campaignID); err != nil {
		return nil, fmt.Errorf("list donations: %w", err)
	}
	out := make([]models.DonationEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

type pendingRow struct {
	TxHash       string          `db:"tx_hash"`
	CampaignID   string          `db:"campaign_id"`
	Amount       decimal.Decimal `db:"amount"`
	DonorAddress string          `db:"donor_address"`
	Reason       string          `db:"reason"`
	Attempts     int             `db:"attempts"`
	LastError    string          `db:"last_error"`
	CreatedAt    int64           `db:"created_at"`
	UpdatedAt    int64           `db:"updated_at"`
}

func (r pendingRow) model() models.PendingSettlement {
	return models.PendingSettlement{
		TxHash:       r.TxHash,
		CampaignID:   r.CampaignID,
		Amount:       r.Amount,
		DonorAddress: r.DonorAddress,
		Reason:       models.PendingReason(r.Reason),
		Attempts:     r.Attempts,
		LastError:    r.LastError,
		CreatedAt:    fromMillis(r.CreatedAt),
		UpdatedAt:    fromMillis(r.UpdatedAt),
	}
}

const pendingColumns = `tx_hash, campaign_id, amount, donor_address, reason, attempts, last_error, created_at, updated_at`

func (s *Store) SavePending(ctx context.Context, p *models.PendingSettlement) error {
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
		INSERT INTO pending_settlements (` + pendingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tx_hash) DO UPDATE SET
		  reason = excluded.reason,
		  attempts = excluded.attempts,
		  last_error = excluded.last_error,
		  updated_at = excluded.updated_at
		RETURNING created_at
	`
	var createdAt int64
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(query),
		p.TxHash, p.CampaignID, p.Amount, p.DonorAddress, string(p.Reason),
		p.Attempts, p.LastError, toMillis(p.CreatedAt), toMillis(p.UpdatedAt),
	).Scan(&createdAt)
	if err != nil {
		return fmt.Errorf("save pending settlement: %w", err)
	}
	p.CreatedAt = fromMillis(createdAt)
	return nil
}

func (s *Store) GetPending(ctx context.Context, txHash string) (*models.PendingSettlement, error) {
	var row pendingRow
	query := `SELECT ` + pendingColumns + ` FROM pending_settlements WHERE tx_hash = ?`
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(query), txHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get pending settlement: %w", err)
	}
	p := row.model()
	return &p, nil
}

func (s *Store) ListPending(ctx context.Context) ([]models.PendingSettlement, error) {
	var rows []pendingRow
	query := `SELECT ` + pendingColumns + ` FROM pending_settlements ORDER BY created_at, tx_hash`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list pending settlements: %w", err)
	}
	out := make([]models.PendingSettlement, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (s *Store) DeletePending(ctx context.Context, txHash string) error {
	query := `DELETE FROM pending_settlements WHERE tx_hash = ?`
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), txHash); err != nil {
		return fmt.Errorf("delete pending settlement: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

var _ store.Store = (*Store)(nil)
