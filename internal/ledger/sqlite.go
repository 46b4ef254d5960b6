package ledger

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/tradecore/gotrade/internal/domain"
)

// 金额统一以十进制字符串落库，避免浮点精度损失

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id                 TEXT PRIMARY KEY,
	exchange_order_id  TEXT NOT NULL DEFAULT '',
	idempotency_key    TEXT NOT NULL DEFAULT '',
	user_id            TEXT NOT NULL,
	exchange           TEXT NOT NULL,
	symbol             TEXT NOT NULL,
	side               TEXT NOT NULL,
	type               TEXT NOT NULL,
	quantity           TEXT NOT NULL,
	price              TEXT,
	stop_price         TEXT,
	time_in_force      TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	filled_quantity    TEXT NOT NULL,
	remaining_quantity TEXT NOT NULL,
	avg_fill_price     TEXT NOT NULL,
	fee_accrued        TEXT NOT NULL,
	fee_asset          TEXT NOT NULL DEFAULT '',
	frozen_asset       TEXT NOT NULL DEFAULT '',
	frozen_amount      TEXT NOT NULL,
	cancel_requested   INTEGER NOT NULL DEFAULT 0,
	reject_reason      TEXT NOT NULL DEFAULT '',
	created_at_ms      INTEGER NOT NULL,
	updated_at_ms      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_idem ON orders(user_id, idempotency_key) WHERE idempotency_key != '';

CREATE TABLE IF NOT EXISTS executions (
	id            TEXT PRIMARY KEY,
	order_id      TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	side          TEXT NOT NULL,
	price         TEXT NOT NULL,
	quantity      TEXT NOT NULL,
	fee           TEXT NOT NULL,
	fee_asset     TEXT NOT NULL DEFAULT '',
	created_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_order ON executions(order_id);

CREATE TABLE IF NOT EXISTS balances (
	user_id   TEXT NOT NULL,
	asset     TEXT NOT NULL,
	available TEXT NOT NULL,
	frozen    TEXT NOT NULL,
	PRIMARY KEY (user_id, asset)
);

CREATE TABLE IF NOT EXISTS positions (
	user_id       TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	quantity      TEXT NOT NULL,
	avg_cost      TEXT NOT NULL,
	realized_pnl  TEXT NOT NULL,
	updated_at_ms INTEGER NOT NULL,
	PRIMARY KEY (user_id, symbol)
);
`

// SQLiteRepository 基于 sqlite 的仓库实现
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository 打开（必要时初始化）sqlite 仓库
func NewSQLiteRepository(dsn string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// 单写者，避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "init schema")
	}
	return &SQLiteRepository{db: db}, nil
}

// Close 关闭数据库
func (r *SQLiteRepository) Close() error { return r.db.Close() }

func nullDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

// SaveOrder 插入或整行覆盖订单
func (r *SQLiteRepository) SaveOrder(o *domain.Order) error {
	_, err := r.db.Exec(`
INSERT INTO orders (id, exchange_order_id, idempotency_key, user_id, exchange, symbol,
	side, type, quantity, price, stop_price, time_in_force, status,
	filled_quantity, remaining_quantity, avg_fill_price, fee_accrued, fee_asset,
	frozen_asset, frozen_amount, cancel_requested, reject_reason, created_at_ms, updated_at_ms)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
	exchange_order_id=excluded.exchange_order_id,
	status=excluded.status,
	filled_quantity=excluded.filled_quantity,
	remaining_quantity=excluded.remaining_quantity,
	avg_fill_price=excluded.avg_fill_price,
	fee_accrued=excluded.fee_accrued,
	fee_asset=excluded.fee_asset,
	frozen_amount=excluded.frozen_amount,
	cancel_requested=excluded.cancel_requested,
	reject_reason=excluded.reject_reason,
	updated_at_ms=excluded.updated_at_ms`,
		o.ID, o.ExchangeOrderID, o.IdempotencyKey, o.UserID, o.Exchange, o.Symbol,
		string(o.Side), string(o.Type), o.Quantity.String(), nullDecimal(o.Price), nullDecimal(o.StopPrice),
		string(o.TimeInForce), string(o.Status),
		o.FilledQuantity.String(), o.RemainingQuantity.String(), o.AverageFillPrice.String(),
		o.FeeAccrued.String(), o.FeeAsset, o.FrozenAsset, o.FrozenAmount.String(),
		boolToInt(o.CancelRequested), o.RejectReason,
		o.CreatedAt.UnixMilli(), o.UpdatedAt.UnixMilli())
	return errors.Wrap(err, "save order")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const orderColumns = `id, exchange_order_id, idempotency_key, user_id, exchange, symbol,
	side, type, quantity, price, stop_price, time_in_force, status,
	filled_quantity, remaining_quantity, avg_fill_price, fee_accrued, fee_asset,
	frozen_asset, frozen_amount, cancel_requested, reject_reason, created_at_ms, updated_at_ms`

func scanOrder(row interface{ Scan(...interface{}) error }) (*domain.Order, error) {
	var o domain.Order
	var side, otype, tif, status string
	var qty, filled, remaining, avgPrice, fee, frozenAmt string
	var price, stopPrice sql.NullString
	var cancelRequested int
	var createdMs, updatedMs int64

	err := row.Scan(&o.ID, &o.ExchangeOrderID, &o.IdempotencyKey, &o.UserID, &o.Exchange, &o.Symbol,
		&side, &otype, &qty, &price, &stopPrice, &tif, &status,
		&filled, &remaining, &avgPrice, &fee, &o.FeeAsset,
		&o.FrozenAsset, &frozenAmt, &cancelRequested, &o.RejectReason, &createdMs, &updatedMs)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan order")
	}

	o.Side = domain.Side(side)
	o.Type = domain.OrderType(otype)
	o.TimeInForce = domain.TimeInForce(tif)
	o.Status = domain.OrderStatus(status)
	o.CancelRequested = cancelRequested != 0
	o.CreatedAt = time.UnixMilli(createdMs)
	o.UpdatedAt = time.UnixMilli(updatedMs)

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&o.Quantity, qty}, {&o.FilledQuantity, filled}, {&o.RemainingQuantity, remaining},
		{&o.AverageFillPrice, avgPrice}, {&o.FeeAccrued, fee}, {&o.FrozenAmount, frozenAmt},
	} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, errors.Wrapf(err, "decode decimal %q", f.src)
		}
		*f.dst = d
	}
	if price.Valid {
		d, err := decimal.NewFromString(price.String)
		if err != nil {
			return nil, errors.Wrap(err, "decode price")
		}
		o.Price = &d
	}
	if stopPrice.Valid {
		d, err := decimal.NewFromString(stopPrice.String)
		if err != nil {
			return nil, errors.Wrap(err, "decode stop price")
		}
		o.StopPrice = &d
	}
	return &o, nil
}

// GetOrder 按内部 ID 查询订单
func (r *SQLiteRepository) GetOrder(id string) (*domain.Order, error) {
	return scanOrder(r.db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
}

// GetOrderByIdempotencyKey 按用户与幂等键查询订单
func (r *SQLiteRepository) GetOrderByIdempotencyKey(userID, key string) (*domain.Order, error) {
	return scanOrder(r.db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE user_id = ? AND idempotency_key = ?`, userID, key))
}

func (r *SQLiteRepository) queryOrders(where string, args ...interface{}) ([]*domain.Order, error) {
	rows, err := r.db.Query(`SELECT `+orderColumns+` FROM orders `+where+` ORDER BY created_at_ms, id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query orders")
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListOpenOrders 列出全部未完结订单
func (r *SQLiteRepository) ListOpenOrders() ([]*domain.Order, error) {
	return r.queryOrders(`WHERE status IN (?,?,?)`,
		string(domain.OrderStatusNew), string(domain.OrderStatusSubmitted), string(domain.OrderStatusPartiallyFilled))
}

// ListUserOrders 列出用户全部订单
func (r *SQLiteRepository) ListUserOrders(userID string) ([]*domain.Order, error) {
	return r.queryOrders(`WHERE user_id = ?`, userID)
}

// SaveExecution 保存成交，重复 id 静默忽略（幂等）
func (r *SQLiteRepository) SaveExecution(x domain.Execution) error {
	_, err := r.db.Exec(`
INSERT INTO executions (id, order_id, symbol, side, price, quantity, fee, fee_asset, created_at_ms)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO NOTHING`,
		x.ID, x.OrderID, x.Symbol, string(x.Side), x.Price.String(), x.Quantity.String(),
		x.Fee.String(), x.FeeAsset, x.Timestamp.UnixMilli())
	return errors.Wrap(err, "save execution")
}

// HasExecution 该成交 id 是否已记录
func (r *SQLiteRepository) HasExecution(id string) (bool, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(1) FROM executions WHERE id = ?`, id).Scan(&n); err != nil {
		return false, errors.Wrap(err, "query execution")
	}
	return n > 0, nil
}

// SaveBalance 保存余额快照
func (r *SQLiteRepository) SaveBalance(b domain.Balance) error {
	_, err := r.db.Exec(`
INSERT INTO balances (user_id, asset, available, frozen) VALUES (?,?,?,?)
ON CONFLICT(user_id, asset) DO UPDATE SET available=excluded.available, frozen=excluded.frozen`,
		b.UserID, b.Asset, b.Available.String(), b.Frozen.String())
	return errors.Wrap(err, "save balance")
}

// AllBalances 列出全部余额
func (r *SQLiteRepository) AllBalances() ([]domain.Balance, error) {
	rows, err := r.db.Query(`SELECT user_id, asset, available, frozen FROM balances`)
	if err != nil {
		return nil, errors.Wrap(err, "query balances")
	}
	defer rows.Close()

	var out []domain.Balance
	for rows.Next() {
		var b domain.Balance
		var available, frozen string
		if err := rows.Scan(&b.UserID, &b.Asset, &available, &frozen); err != nil {
			return nil, errors.Wrap(err, "scan balance")
		}
		if b.Available, err = decimal.NewFromString(available); err != nil {
			return nil, errors.Wrap(err, "decode available")
		}
		if b.Frozen, err = decimal.NewFromString(frozen); err != nil {
			return nil, errors.Wrap(err, "decode frozen")
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SavePosition 保存持仓快照。
// 盯市价与未实现盈亏是派生值，不落库。
func (r *SQLiteRepository) SavePosition(p domain.Position) error {
	_, err := r.db.Exec(`
INSERT INTO positions (user_id, symbol, quantity, avg_cost, realized_pnl, updated_at_ms)
VALUES (?,?,?,?,?,?)
ON CONFLICT(user_id, symbol) DO UPDATE SET
	quantity=excluded.quantity, avg_cost=excluded.avg_cost,
	realized_pnl=excluded.realized_pnl, updated_at_ms=excluded.updated_at_ms`,
		p.UserID, p.Symbol, p.Quantity.String(), p.AvgCost.String(), p.RealizedPnL.String(),
		p.UpdatedAt.UnixMilli())
	return errors.Wrap(err, "save position")
}

// AllPositions 列出全部持仓
func (r *SQLiteRepository) AllPositions() ([]domain.Position, error) {
	rows, err := r.db.Query(`SELECT user_id, symbol, quantity, avg_cost, realized_pnl, updated_at_ms FROM positions`)
	if err != nil {
		return nil, errors.Wrap(err, "query positions")
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var qty, avg, realized string
		var updatedMs int64
		if err := rows.Scan(&p.UserID, &p.Symbol, &qty, &avg, &realized, &updatedMs); err != nil {
			return nil, errors.Wrap(err, "scan position")
		}
		if p.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, errors.Wrap(err, "decode quantity")
		}
		if p.AvgCost, err = decimal.NewFromString(avg); err != nil {
			return nil, errors.Wrap(err, "decode avg cost")
		}
		if p.RealizedPnL, err = decimal.NewFromString(realized); err != nil {
			return nil, errors.Wrap(err, "decode realized pnl")
		}
		p.UpdatedAt = time.UnixMilli(updatedMs)
		out = append(out, p)
	}
	return out, rows.Err()
}

var _ Repository = (*SQLiteRepository)(nil)
