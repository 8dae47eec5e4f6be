package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresStore implements Store over a sqlx connection pool
type PostgresStore struct {
	db *sqlx.DB
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Tx    = (*pgTx)(nil)
)

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// pgTx runs the transactional subset of the store against one *sqlx.Tx
type pgTx struct {
	tx *sqlx.Tx
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("⚠️  [DB] rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err, "commit")
	}
	return nil
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// classify maps driver errors onto apperr kinds. what names the row for messages.
func classify(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("%s not found", what)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgUniqueViolation:
			return apperr.Wrap(apperr.KindConflict, err, "%s already exists", what)
		case pgForeignKeyViolation:
			return apperr.Wrap(apperr.KindInvalidInput, err, "%s references a missing row", what)
		case pgCheckViolation:
			return apperr.Wrap(apperr.KindInvalidInput, err, "%s failed a check constraint", what)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

// constraintOf returns the violated constraint name, if err is a pq error
func constraintOf(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}

// requireRow turns a zero-row write into NotFound
func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return apperr.NotFound("%s not found", what)
	}
	return nil
}

// jsonb renders a raw JSON value as a text parameter, defaulting to an empty object
func jsonb(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func (t *pgTx) GetServiceRequest(ctx context.Context, id string) (*models.ServiceRequest, error) {
	return getServiceRequest(ctx, t.tx, id, true)
}

func (t *pgTx) UpdateServiceRequest(ctx context.Context, req *models.ServiceRequest) error {
	return updateServiceRequest(ctx, t.tx, req)
}

func (t *pgTx) AppendTimelineEvent(ctx context.Context, ev *models.TimelineEvent) error {
	return appendTimelineEvent(ctx, t.tx, ev)
}

func (t *pgTx) GetJobByRequest(ctx context.Context, requestID string) (*models.Job, error) {
	return getJobByRequest(ctx, t.tx, requestID)
}

func (t *pgTx) CreateJob(ctx context.Context, job *models.Job) error {
	return createJob(ctx, t.tx, job)
}

func (t *pgTx) UpdateJob(ctx context.Context, job *models.Job) error {
	return updateJob(ctx, t.tx, job)
}

func (t *pgTx) GetBid(ctx context.Context, id string) (*models.Bid, error) {
	return getBid(ctx, t.tx, id)
}

func (t *pgTx) ListBidsByRequest(ctx context.Context, requestID string) ([]models.Bid, error) {
	return listBidsByRequest(ctx, t.tx, requestID)
}

func (t *pgTx) UpdateBidStatus(ctx context.Context, id string, from, to models.BidStatus) error {
	return updateBidStatus(ctx, t.tx, id, from, to)
}

func (t *pgTx) MarkCollected(ctx context.Context, binID string, at time.Time) error {
	return markCollected(ctx, t.tx, binID, at)
}
