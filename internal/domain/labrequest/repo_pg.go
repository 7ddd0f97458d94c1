package labrequest

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

const testRequestCols = `id, patient_id, doctor_id, center_id, test_types, priority, status, billing_id,
	sample_collection, lab_testing, lab_report, review, dispatch_log, notes,
	created_by, updated_by, is_active, created_at, updated_at`

func (r *repoPG) scanTestRequest(row pgx.Row) (*TestRequest, error) {
	var t TestRequest
	err := row.Scan(&t.ID, &t.PatientID, &t.DoctorID, &t.CenterID, &t.TestTypes, &t.Priority, &t.Status, &t.BillingID,
		&t.Sample, &t.Testing, &t.Report, &t.Review, &t.DispatchLog, &t.Notes,
		&t.CreatedBy, &t.UpdatedBy, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

func (r *repoPG) Create(ctx context.Context, t *TestRequest) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO test_requests (id, patient_id, doctor_id, center_id, test_types, priority, status, billing_id,
			sample_collection, lab_testing, lab_report, review, dispatch_log, notes,
			created_by, updated_by, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		t.ID, t.PatientID, t.DoctorID, t.CenterID, t.TestTypes, t.Priority, t.Status, t.BillingID,
		t.Sample, t.Testing, t.Report, t.Review, t.DispatchLog, t.Notes,
		t.CreatedBy, t.UpdatedBy, t.IsActive)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*TestRequest, error) {
	return r.scanTestRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+testRequestCols+` FROM test_requests WHERE id = $1`, id))
}

func (r *repoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*TestRequest, error) {
	return r.scanTestRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+testRequestCols+` FROM test_requests WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) Update(ctx context.Context, t *TestRequest) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE test_requests SET
			test_types=$2, priority=$3, status=$4, billing_id=$5,
			sample_collection=$6, lab_testing=$7, lab_report=$8, review=$9, dispatch_log=$10,
			notes=$11, updated_by=$12, is_active=$13, updated_at=NOW()
		WHERE id = $1`,
		t.ID,
		t.TestTypes, t.Priority, t.Status, t.BillingID,
		t.Sample, t.Testing, t.Report, t.Review, t.DispatchLog,
		t.Notes, t.UpdatedBy, t.IsActive)
	return err
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*TestRequest, int, error) {
	where := `WHERE is_active = TRUE`
	args := []interface{}{}
	add := func(col string, v interface{}) {
		args = append(args, v)
		where += fmt.Sprintf(" AND %s = $%d", col, len(args))
	}
	if f.CenterID != uuid.Nil {
		add("center_id", f.CenterID)
	}
	if f.PatientID != uuid.Nil {
		add("patient_id", f.PatientID)
	}
	if f.DoctorID != uuid.Nil {
		add("doctor_id", f.DoctorID)
	}
	if f.Status != "" {
		add("status", f.Status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM test_requests `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+testRequestCols+` FROM test_requests `+where+
			fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*TestRequest
	for rows.Next() {
		t, err := r.scanTestRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}
