// Package numbering issues bill numbers and receipt numbers. Bill numbers
// are sequential and zero-padded, backed by a persistent counter. Receipt
// numbers are prefix + UTC timestamp + random suffix; uniqueness is enforced
// by the billing layer's collision check rather than a global lock.
package numbering

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BillNumbers issues sequential bill numbers.
type BillNumbers interface {
	Next(ctx context.Context) (string, error)
}

// PGBillNumbers backs bill numbers with a counters table row, incremented
// atomically per issue.
type PGBillNumbers struct {
	pool   *pgxpool.Pool
	prefix string
	width  int
}

// NewPGBillNumbers creates a generator producing numbers like "BILL-000042".
func NewPGBillNumbers(pool *pgxpool.Pool, prefix string, width int) *PGBillNumbers {
	if width <= 0 {
		width = 6
	}
	return &PGBillNumbers{pool: pool, prefix: prefix, width: width}
}

func (g *PGBillNumbers) Next(ctx context.Context) (string, error) {
	var n int64
	err := g.pool.QueryRow(ctx, `
		INSERT INTO counters (name, value) VALUES ('bill_number', 1)
		ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
		RETURNING value`).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("next bill number: %w", err)
	}
	return fmt.Sprintf("%s%0*d", g.prefix, g.width, n), nil
}

// MemoryBillNumbers is an in-memory counter for tests and development.
type MemoryBillNumbers struct {
	mu     sync.Mutex
	prefix string
	width  int
	n      int64
}

func NewMemoryBillNumbers(prefix string, width int) *MemoryBillNumbers {
	if width <= 0 {
		width = 6
	}
	return &MemoryBillNumbers{prefix: prefix, width: width}
}

func (g *MemoryBillNumbers) Next(_ context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s%0*d", g.prefix, g.width, g.n), nil
}

// ReceiptNumbers generates receipt numbers of the form
// <prefix><yyyymmddhhmmss>-<6 hex chars>.
type ReceiptNumbers struct {
	prefix string
	now    func() time.Time
}

func NewReceiptNumbers(prefix string) *ReceiptNumbers {
	return &ReceiptNumbers{prefix: prefix, now: time.Now}
}

// Generate returns a fresh candidate receipt number. Callers must verify
// uniqueness against stored receipts and retry on collision.
func (g *ReceiptNumbers) Generate() string {
	var suffix [3]byte
	_, _ = rand.Read(suffix[:])
	return fmt.Sprintf("%s%s-%s",
		g.prefix,
		g.now().UTC().Format("20060102150405"),
		hex.EncodeToString(suffix[:]))
}
