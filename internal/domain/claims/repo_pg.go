package claims

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medclaims/claims/internal/platform/db"
)

// =========== Store ===========

type pgStore struct {
	pool   *pgxpool.Pool
	claims *claimRepoPG
	txs    *transactionRepoPG
	drafts *draftRepoPG
}

func NewStorePG(pool *pgxpool.Pool) Store {
	return &pgStore{
		pool:   pool,
		claims: &claimRepoPG{pool: pool},
		txs:    &transactionRepoPG{pool: pool},
		drafts: &draftRepoPG{pool: pool},
	}
}

func (s *pgStore) Claims() ClaimRepository             { return s.claims }
func (s *pgStore) Transactions() TransactionRepository { return s.txs }
func (s *pgStore) Drafts() DraftRepository             { return s.drafts }

func (s *pgStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, s.pool, fn)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// =========== Claim Repository ===========

type claimRepoPG struct{ pool *pgxpool.Pool }

func (r *claimRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const claimCols = `claim_id, claim_status, review_status, hospital_id, hospital_name,
	patient_name, payer_name, payer_type, claim_type, claimed_amount, total_authorized_amount, service_start,
	form_data, review_data, review_history, rm_data, documents,
	dispatch, query_response, contest, processing, reevaluation,
	rm_status_raised_date, rm_status_raised_remarks,
	locked_by_processor, locked_by_processor_email, locked_by_processor_name, locked_at, lock_expires_at,
	version, created_by, created_at, updated_at`

func scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	var review string
	var lockID, lockEmail, lockName *string
	var lockedAt, lockExpires *time.Time
	err := row.Scan(&c.ClaimID, &c.Status, &review, &c.HospitalID, &c.HospitalName,
		&c.PatientName, &c.PayerName, &c.PayerType, &c.ClaimType, &c.ClaimedAmount, &c.TotalAuthorizedAmount, &c.ServiceStart,
		&c.FormData, &c.ReviewData, &c.ReviewHistory, &c.RMData, &c.Documents,
		&c.Dispatch, &c.QueryResponse, &c.Contest, &c.Processing, &c.Reevaluation,
		&c.RMStatusRaisedDate, &c.RMStatusRaisedRemarks,
		&lockID, &lockEmail, &lockName, &lockedAt, &lockExpires,
		&c.Version, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.ReviewStatus = ReviewStatus(review)
	if lockID != nil && *lockID != "" {
		c.Lock = &Lock{ProcessorID: *lockID, ProcessorEmail: deref(lockEmail), ProcessorName: deref(lockName)}
		if lockedAt != nil {
			c.Lock.LockedAt = lockedAt.UTC()
		}
		if lockExpires != nil {
			c.Lock.ExpiresAt = lockExpires.UTC()
		}
	}
	return &c, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// lockArgs flattens the embedded lock into nullable column values.
func lockArgs(l *Lock) (id, email, name *string, lockedAt, expires *time.Time) {
	if l == nil {
		return nil, nil, nil, nil, nil
	}
	la, ex := l.LockedAt.UTC(), l.ExpiresAt.UTC()
	return &l.ProcessorID, &l.ProcessorEmail, &l.ProcessorName, &la, &ex
}

func nonNilJSON(c *Claim) {
	if c.FormData == nil {
		c.FormData = FormData{}
	}
	if c.RMData == nil {
		c.RMData = RMData{}
	}
	if c.ReviewHistory == nil {
		c.ReviewHistory = []ReviewEntry{}
	}
	if c.Documents == nil {
		c.Documents = []Document{}
	}
}

func (r *claimRepoPG) Create(ctx context.Context, c *Claim) error {
	nonNilJSON(c)
	lockID, lockEmail, lockName, lockedAt, lockExpires := lockArgs(c.Lock)
	c.Version = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO claims (`+claimCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33)`,
		c.ClaimID, c.Status, string(c.ReviewStatus), c.HospitalID, c.HospitalName,
		c.PatientName, c.PayerName, c.PayerType, c.ClaimType, c.ClaimedAmount, c.TotalAuthorizedAmount, c.ServiceStart,
		c.FormData, c.ReviewData, c.ReviewHistory, c.RMData, c.Documents,
		c.Dispatch, c.QueryResponse, c.Contest, c.Processing, c.Reevaluation,
		c.RMStatusRaisedDate, c.RMStatusRaisedRemarks,
		lockID, lockEmail, lockName, lockedAt, lockExpires,
		c.Version, c.CreatedBy, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("claim %s: %w", c.ClaimID, errDuplicateID)
	}
	return err
}

func (r *claimRepoPG) Get(ctx context.Context, claimID string) (*Claim, error) {
	c, err := scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE claim_id = $1`, claimID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFoundf("Claim not found")
	}
	return c, err
}

func (r *claimRepoPG) Update(ctx context.Context, c *Claim) error {
	nonNilJSON(c)
	lockID, lockEmail, lockName, lockedAt, lockExpires := lockArgs(c.Lock)
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE claims SET claim_status=$3, review_status=$4,
			patient_name=$5, payer_name=$6, payer_type=$7, claim_type=$8,
			claimed_amount=$9, total_authorized_amount=$10, service_start=$11,
			form_data=$12, review_data=$13, review_history=$14, rm_data=$15, documents=$16,
			dispatch=$17, query_response=$18, contest=$19, processing=$20, reevaluation=$21,
			rm_status_raised_date=$22, rm_status_raised_remarks=$23,
			locked_by_processor=$24, locked_by_processor_email=$25, locked_by_processor_name=$26,
			locked_at=$27, lock_expires_at=$28,
			version = version + 1, updated_at=$29
		WHERE claim_id = $1 AND version = $2`,
		c.ClaimID, c.Version, c.Status, string(c.ReviewStatus),
		c.PatientName, c.PayerName, c.PayerType, c.ClaimType,
		c.ClaimedAmount, c.TotalAuthorizedAmount, c.ServiceStart,
		c.FormData, c.ReviewData, c.ReviewHistory, c.RMData, c.Documents,
		c.Dispatch, c.QueryResponse, c.Contest, c.Processing, c.Reevaluation,
		c.RMStatusRaisedDate, c.RMStatusRaisedRemarks,
		lockID, lockEmail, lockName, lockedAt, lockExpires,
		c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update claim %s: %w", c.ClaimID, err)
	}
	if tag.RowsAffected() == 0 {
		return conflictf("claim %s was modified by another request; reload and retry", c.ClaimID)
	}
	c.Version++
	return nil
}

// claimWhere renders f as a WHERE clause with positional arguments.
func claimWhere(f ClaimFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "$?", fmt.Sprintf("$%d", len(args))))
	}

	if len(f.Statuses) > 0 {
		add(`claim_status = ANY($?::text[])`, statusStrings(f.Statuses))
	}
	if len(f.ExcludeStatuses) > 0 {
		add(`NOT (claim_status = ANY($?::text[]))`, statusStrings(f.ExcludeStatuses))
	}
	if len(f.ReviewStatuses) > 0 {
		rs := make([]string, 0, len(f.ReviewStatuses)+1)
		for _, s := range f.ReviewStatuses {
			rs = append(rs, string(s))
			if s == ReviewPending {
				rs = append(rs, "")
			}
		}
		add(`review_status = ANY($?::text[])`, rs)
	}
	if len(f.HospitalIDs) > 0 || len(f.HospitalNames) > 0 {
		names := make([]string, len(f.HospitalNames))
		for i, n := range f.HospitalNames {
			names[i] = strings.ToLower(n)
		}
		args = append(args, f.HospitalIDs, names)
		conds = append(conds, fmt.Sprintf(`(hospital_id = ANY($%d::text[]) OR lower(hospital_name) = ANY($%d::text[]))`, len(args)-1, len(args)))
	}
	if len(f.PayerSubstrings) > 0 {
		add(`EXISTS (SELECT 1 FROM unnest($?::text[]) p WHERE strpos(lower(payer_name), lower(p)) > 0)`, f.PayerSubstrings)
	}
	if f.PayerName != "" {
		add(`strpos(lower(payer_name), lower($?)) > 0`, f.PayerName)
	}
	if f.CreatedBy != "" {
		add(`created_by = $?`, f.CreatedBy)
	}
	if f.From != nil {
		add(`created_at >= $?`, *f.From)
	}
	if f.To != nil {
		add(`created_at < $?`, *f.To)
	}
	if f.MaxClaimedAmount != nil {
		add(`claimed_amount <= $?`, *f.MaxClaimedAmount)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func statusStrings(ss []Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func (r *claimRepoPG) List(ctx context.Context, f ClaimFilter) ([]*Claim, int, error) {
	where, args := claimWhere(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM claims`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count claims: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	query := `SELECT ` + claimCols + ` FROM claims` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, claim_id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()
	var out []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *claimRepoPG) CountByStatus(ctx context.Context, f ClaimFilter) (map[Status]int, error) {
	where, args := claimWhere(f)
	rows, err := r.conn(ctx).Query(ctx, `SELECT claim_status, COUNT(*) FROM claims`+where+` GROUP BY claim_status`, args...)
	if err != nil {
		return nil, fmt.Errorf("count claims by status: %w", err)
	}
	defer rows.Close()
	out := make(map[Status]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[Normalize(s)] += n
	}
	return out, rows.Err()
}

func (r *claimRepoPG) CountByReviewStatus(ctx context.Context, f ClaimFilter) (map[ReviewStatus]int, error) {
	where, args := claimWhere(f)
	rows, err := r.conn(ctx).Query(ctx, `SELECT review_status, COUNT(*) FROM claims`+where+` GROUP BY review_status`, args...)
	if err != nil {
		return nil, fmt.Errorf("count claims by review status: %w", err)
	}
	defer rows.Close()
	out := make(map[ReviewStatus]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[NormalizeReview(s)] += n
	}
	return out, rows.Err()
}

func (r *claimRepoPG) NextSequence(ctx context.Context, day time.Time) (int, error) {
	prefix := ClaimIDPrefix(day)
	var next int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(MAX(substring(claim_id FROM length($1) + 1)::bigint), -1) + 1
		FROM claims
		WHERE claim_id LIKE $1 || '%' AND substring(claim_id FROM length($1) + 1) ~ '^[0-9]+$'`,
		prefix).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next claim sequence: %w", err)
	}
	return next, nil
}

func (r *claimRepoPG) ListExpiredLocks(ctx context.Context, now time.Time) ([]*Claim, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+claimCols+` FROM claims
		WHERE locked_by_processor IS NOT NULL AND lock_expires_at <= $1
		ORDER BY lock_expires_at`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list expired locks: %w", err)
	}
	defer rows.Close()
	var out []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =========== Transaction Repository ===========

type transactionRepoPG struct{ pool *pgxpool.Pool }

func (r *transactionRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

func (r *transactionRepoPG) Append(ctx context.Context, t *Transaction) error {
	meta := t.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO claim_transactions (transaction_id, claim_id, transaction_type,
			performed_by, performed_by_email, performed_by_name, performed_by_role, performed_at,
			previous_status, new_status, remarks, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		t.TransactionID, t.ClaimID, string(t.Type),
		t.PerformedBy, t.PerformedByEmail, t.PerformedByName, t.PerformedByRole, t.PerformedAt,
		string(t.PreviousStatus), string(t.NewStatus), t.Remarks, meta)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (r *transactionRepoPG) List(ctx context.Context, claimID string, limit int) ([]*Transaction, error) {
	query := `SELECT transaction_id, claim_id, transaction_type,
			performed_by, performed_by_email, performed_by_name, performed_by_role, performed_at,
			previous_status, new_status, remarks, metadata
		FROM claim_transactions WHERE claim_id = $1
		ORDER BY performed_at DESC, transaction_id DESC`
	args := []interface{}{claimID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		var t Transaction
		var typ, prev, next string
		if err := rows.Scan(&t.TransactionID, &t.ClaimID, &typ,
			&t.PerformedBy, &t.PerformedByEmail, &t.PerformedByName, &t.PerformedByRole, &t.PerformedAt,
			&prev, &next, &t.Remarks, &t.Metadata); err != nil {
			return nil, err
		}
		t.Type = TransactionType(typ)
		t.PreviousStatus = Status(prev)
		t.NewStatus = Status(next)
		t.PerformedAt = t.PerformedAt.UTC()
		out = append(out, &t)
	}
	return out, rows.Err()
}

// =========== Draft Repository ===========

type draftRepoPG struct{ pool *pgxpool.Pool }

func (r *draftRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const draftCols = `draft_id, hospital_id, hospital_name, form_data, created_by, created_at, updated_at`

func scanDraft(row pgx.Row) (*Draft, error) {
	var d Draft
	if err := row.Scan(&d.DraftID, &d.HospitalID, &d.HospitalName, &d.FormData, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Status = StatusDraft
	return &d, nil
}

func (r *draftRepoPG) Create(ctx context.Context, d *Draft) error {
	if d.FormData == nil {
		d.FormData = FormData{}
	}
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO claim_drafts (`+draftCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		d.DraftID, d.HospitalID, d.HospitalName, d.FormData, d.CreatedBy, d.CreatedAt, d.UpdatedAt)
	return err
}

func (r *draftRepoPG) Get(ctx context.Context, draftID string) (*Draft, error) {
	d, err := scanDraft(r.conn(ctx).QueryRow(ctx, `SELECT `+draftCols+` FROM claim_drafts WHERE draft_id = $1`, draftID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFoundf("Draft not found")
	}
	return d, err
}

func (r *draftRepoPG) Update(ctx context.Context, d *Draft) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE claim_drafts SET form_data=$2, updated_at=$3 WHERE draft_id = $1`,
		d.DraftID, d.FormData, d.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFoundf("Draft not found")
	}
	return nil
}

func (r *draftRepoPG) Delete(ctx context.Context, draftID string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM claim_drafts WHERE draft_id = $1`, draftID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFoundf("Draft not found")
	}
	return nil
}

func (r *draftRepoPG) ListByHospital(ctx context.Context, hospitalID string, limit, offset int) ([]*Draft, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM claim_drafts WHERE hospital_id = $1`, hospitalID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+draftCols+` FROM claim_drafts WHERE hospital_id = $1
		ORDER BY updated_at DESC LIMIT $2 OFFSET $3`, hospitalID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}
