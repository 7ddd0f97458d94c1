package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const billingCols = `id, bill_number, kind, patient_id, doctor_id, center_id, test_request_id,
	registration_fee, registration_type, consultation_fee, service_charges, discount, tax,
	subtotal, total_amount, paid_amount,
	payment_status, status, stage,
	preview, cancellation, refund,
	created_by, updated_by, is_active, created_at, updated_at`

func (r *repoPG) scanBilling(row pgx.Row) (*Billing, error) {
	var b Billing
	err := row.Scan(&b.ID, &b.BillNumber, &b.Kind, &b.PatientID, &b.DoctorID, &b.CenterID, &b.TestRequestID,
		&b.RegistrationFee, &b.RegistrationType, &b.ConsultationFee, &b.ServiceCharges, &b.Discount, &b.Tax,
		&b.Subtotal, &b.TotalAmount, &b.PaidAmount,
		&b.PaymentStatus, &b.Status, &b.Stage,
		&b.Preview, &b.Cancellation, &b.Refund,
		&b.CreatedBy, &b.UpdatedBy, &b.IsActive, &b.CreatedAt, &b.UpdatedAt)
	return &b, err
}

func (r *repoPG) Create(ctx context.Context, b *Billing) error {
	b.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO billings (id, bill_number, kind, patient_id, doctor_id, center_id, test_request_id,
			registration_fee, registration_type, consultation_fee, service_charges, discount, tax,
			subtotal, total_amount, paid_amount,
			payment_status, status, stage,
			preview, cancellation, refund,
			created_by, updated_by, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`,
		b.ID, b.BillNumber, b.Kind, b.PatientID, b.DoctorID, b.CenterID, b.TestRequestID,
		b.RegistrationFee, b.RegistrationType, b.ConsultationFee, b.ServiceCharges, b.Discount, b.Tax,
		b.Subtotal, b.TotalAmount, b.PaidAmount,
		b.PaymentStatus, b.Status, b.Stage,
		b.Preview, b.Cancellation, b.Refund,
		b.CreatedBy, b.UpdatedBy, b.IsActive)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Billing, error) {
	return r.scanBilling(r.conn(ctx).QueryRow(ctx, `SELECT `+billingCols+` FROM billings WHERE id = $1`, id))
}

func (r *repoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Billing, error) {
	return r.scanBilling(r.conn(ctx).QueryRow(ctx, `SELECT `+billingCols+` FROM billings WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) Update(ctx context.Context, b *Billing) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE billings SET
			registration_fee=$2, registration_type=$3, consultation_fee=$4, service_charges=$5,
			discount=$6, tax=$7, subtotal=$8, total_amount=$9, paid_amount=$10,
			payment_status=$11, status=$12, stage=$13,
			preview=$14, cancellation=$15, refund=$16,
			updated_by=$17, is_active=$18, updated_at=NOW()
		WHERE id = $1`,
		b.ID,
		b.RegistrationFee, b.RegistrationType, b.ConsultationFee, b.ServiceCharges,
		b.Discount, b.Tax, b.Subtotal, b.TotalAmount, b.PaidAmount,
		b.PaymentStatus, b.Status, b.Stage,
		b.Preview, b.Cancellation, b.Refund,
		b.UpdatedBy, b.IsActive)
	return err
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Billing, int, error) {
	where := `WHERE is_active = TRUE`
	args := []interface{}{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where += fmt.Sprintf(" AND %s = $%d", clause, len(args))
	}
	if f.CenterID != uuid.Nil {
		add("center_id", f.CenterID)
	}
	if f.PatientID != uuid.Nil {
		add("patient_id", f.PatientID)
	}
	if f.Status != "" {
		add("status", f.Status)
	}
	if f.Kind != "" {
		add("kind", f.Kind)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM billings `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM billings %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		billingCols, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Billing
	for rows.Next() {
		b, err := r.scanBilling(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, nil
}

// -- Payment history --

const paymentCols = `id, billing_id, amount, method, receipt_number, note, actor_id, created_at`

func (r *repoPG) AppendPayment(ctx context.Context, e *PaymentEntry) error {
	e.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO billing_payments (id, billing_id, amount, method, receipt_number, note, actor_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.BillingID, e.Amount, e.Method, e.ReceiptNumber, e.Note, e.ActorID)
	return err
}

func (r *repoPG) ListPayments(ctx context.Context, billingID uuid.UUID) ([]*PaymentEntry, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+paymentCols+` FROM billing_payments WHERE billing_id = $1 ORDER BY created_at`, billingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*PaymentEntry
	for rows.Next() {
		var e PaymentEntry
		if err := rows.Scan(&e.ID, &e.BillingID, &e.Amount, &e.Method, &e.ReceiptNumber,
			&e.Note, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &e)
	}
	return items, nil
}

func (r *repoPG) ReceiptNumberExists(ctx context.Context, receiptNumber string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM billing_payments WHERE receipt_number = $1)`, receiptNumber).Scan(&exists)
	return exists, err
}

// -- Stage log --

func (r *repoPG) AppendStageLog(ctx context.Context, e *StageLogEntry) error {
	e.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO billing_stage_log (id, billing_id, stage, note, changed_by)
		VALUES ($1,$2,$3,$4,$5)`,
		e.ID, e.BillingID, e.Stage, e.Note, e.ChangedBy)
	return err
}

func (r *repoPG) ListStageLog(ctx context.Context, billingID uuid.UUID) ([]*StageLogEntry, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, billing_id, stage, note, changed_by, changed_at
		 FROM billing_stage_log WHERE billing_id = $1 ORDER BY changed_at`, billingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*StageLogEntry
	for rows.Next() {
		var e StageLogEntry
		if err := rows.Scan(&e.ID, &e.BillingID, &e.Stage, &e.Note, &e.ChangedBy, &e.ChangedAt); err != nil {
			return nil, err
		}
		items = append(items, &e)
	}
	return items, nil
}

func (r *repoPG) CountByStatus(ctx context.Context, centerID uuid.UUID) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM billings WHERE is_active = TRUE`
	args := []interface{}{}
	if centerID != uuid.Nil {
		query += ` AND center_id = $1`
		args = append(args, centerID)
	}
	query += ` GROUP BY status`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, nil
}
