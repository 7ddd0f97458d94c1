package directory

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

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientCols = `id, first_name, last_name, phone, email, gender, date_of_birth,
	address, center_id, is_active, created_at, updated_at`

func (r *patientRepoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Phone, &p.Email, &p.Gender,
		&p.DateOfBirth, &p.Address, &p.CenterID, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	p.IsActive = true
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patients (id, first_name, last_name, phone, email, gender,
			date_of_birth, address, center_id, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.FirstName, p.LastName, p.Phone, p.Email, p.Gender,
		p.DateOfBirth, p.Address, p.CenterID, p.IsActive)
	return err
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET first_name=$2, last_name=$3, phone=$4, email=$5,
			gender=$6, date_of_birth=$7, address=$8, is_active=$9, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.FirstName, p.LastName, p.Phone, p.Email,
		p.Gender, p.DateOfBirth, p.Address, p.IsActive)
	return err
}

func (r *patientRepoPG) List(ctx context.Context, centerID uuid.UUID, limit, offset int) ([]*Patient, int, error) {
	where := `WHERE is_active = TRUE`
	args := []interface{}{}
	if centerID != uuid.Nil {
		where += ` AND center_id = $1`
		args = append(args, centerID)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + patientCols + ` FROM patients ` + where +
		` ORDER BY created_at DESC LIMIT ` + placeholder(len(args)+1) + ` OFFSET ` + placeholder(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, nil
}

// =========== Center Repository ===========

type centerRepoPG struct{ pool *pgxpool.Pool }

func NewCenterRepoPG(pool *pgxpool.Pool) CenterRepository { return &centerRepoPG{pool: pool} }

func (r *centerRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const centerCols = `id, name, code, address, phone, is_active, created_at, updated_at`

func (r *centerRepoPG) scanCenter(row pgx.Row) (*Center, error) {
	var c Center
	err := row.Scan(&c.ID, &c.Name, &c.Code, &c.Address, &c.Phone, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *centerRepoPG) Create(ctx context.Context, c *Center) error {
	c.ID = uuid.New()
	c.IsActive = true
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO centers (id, name, code, address, phone, is_active)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ID, c.Name, c.Code, c.Address, c.Phone, c.IsActive)
	return err
}

func (r *centerRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Center, error) {
	return r.scanCenter(r.conn(ctx).QueryRow(ctx, `SELECT `+centerCols+` FROM centers WHERE id = $1`, id))
}

func (r *centerRepoPG) Update(ctx context.Context, c *Center) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE centers SET name=$2, code=$3, address=$4, phone=$5, is_active=$6, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.Name, c.Code, c.Address, c.Phone, c.IsActive)
	return err
}

func (r *centerRepoPG) List(ctx context.Context, limit, offset int) ([]*Center, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM centers WHERE is_active = TRUE`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+centerCols+` FROM centers WHERE is_active = TRUE ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Center
	for rows.Next() {
		c, err := r.scanCenter(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, nil
}

// =========== Staff Repository ===========

type staffRepoPG struct{ pool *pgxpool.Pool }

func NewStaffRepoPG(pool *pgxpool.Pool) StaffRepository { return &staffRepoPG{pool: pool} }

func (r *staffRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const staffCols = `id, first_name, last_name, role, center_id, phone, email,
	is_active, created_at, updated_at`

func (r *staffRepoPG) scanStaff(row pgx.Row) (*Staff, error) {
	var s Staff
	err := row.Scan(&s.ID, &s.FirstName, &s.LastName, &s.Role, &s.CenterID,
		&s.Phone, &s.Email, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *staffRepoPG) Create(ctx context.Context, s *Staff) error {
	s.ID = uuid.New()
	s.IsActive = true
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO staff (id, first_name, last_name, role, center_id, phone, email, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		s.ID, s.FirstName, s.LastName, s.Role, s.CenterID, s.Phone, s.Email, s.IsActive)
	return err
}

func (r *staffRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Staff, error) {
	return r.scanStaff(r.conn(ctx).QueryRow(ctx, `SELECT `+staffCols+` FROM staff WHERE id = $1`, id))
}

func (r *staffRepoPG) Update(ctx context.Context, s *Staff) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE staff SET first_name=$2, last_name=$3, role=$4, phone=$5, email=$6,
			is_active=$7, updated_at=NOW()
		WHERE id = $1`,
		s.ID, s.FirstName, s.LastName, s.Role, s.Phone, s.Email, s.IsActive)
	return err
}

func (r *staffRepoPG) List(ctx context.Context, centerID uuid.UUID, role string, limit, offset int) ([]*Staff, int, error) {
	where := `WHERE is_active = TRUE`
	args := []interface{}{}
	if centerID != uuid.Nil {
		args = append(args, centerID)
		where += ` AND center_id = ` + placeholder(len(args))
	}
	if role != "" {
		args = append(args, role)
		where += ` AND role = ` + placeholder(len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM staff `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + staffCols + ` FROM staff ` + where +
		` ORDER BY last_name, first_name LIMIT ` + placeholder(len(args)+1) + ` OFFSET ` + placeholder(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Staff
	for rows.Next() {
		s, err := r.scanStaff(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, nil
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}
