package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"AutoTrader/internal/model"
)

// SQLiteStore persists history to a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
}

// NewSQLiteStore opens (or creates) the SQLite database and runs migrations.
func NewSQLiteStore(dbPath string, log zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, log: log.With().Str("component", "store").Logger()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.log.Info().Str("path", dbPath).Msg("sqlite store opened")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp      INTEGER NOT NULL,
			symbol         TEXT NOT NULL,
			signal         TEXT NOT NULL,
			close_price    REAL,
			rsi            REAL,
			macd           REAL,
			macd_signal    REAL,
			macd_histogram REAL,
			executed       INTEGER NOT NULL DEFAULT 0,
			order_id       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol_ts ON signals(symbol, timestamp)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp           INTEGER NOT NULL,
			symbol              TEXT NOT NULL,
			order_id            TEXT UNIQUE,
			side                TEXT NOT NULL,
			quantity            INTEGER NOT NULL,
			price               REAL NOT NULL,
			status              TEXT NOT NULL,
			filled_at           INTEGER,
			portfolio_value     REAL,
			cash                REAL,
			buying_power        REAL,
			equity              REAL,
			total_value         REAL,
			profit_loss         REAL,
			profit_loss_percent REAL,
			signal_id           INTEGER,
			rejection_reason    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol_ts ON trades(symbol, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,

		`CREATE TABLE IF NOT EXISTS account_snapshots (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp       INTEGER NOT NULL,
			portfolio_value REAL NOT NULL,
			cash            REAL NOT NULL,
			buying_power    REAL NOT NULL,
			equity          REAL NOT NULL,
			account_status  TEXT NOT NULL,
			day_trade_count INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON account_snapshots(timestamp)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// settled tells a guarded update that matched no row apart from a row that
// does not exist. An existing row means the update already happened.
func settled(ctx context.Context, db execer, res sql.Result, table string, id int64) error {
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLiteStore) SaveSignal(ctx context.Context, sig *model.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig.Timestamp = stamp(sig.Timestamp)
	res, err := s.db.ExecContext(ctx, `INSERT INTO signals
		(timestamp, symbol, signal, close_price, rsi, macd, macd_signal, macd_histogram, executed, order_id)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		sig.Timestamp.UnixMilli(), sig.Symbol, string(sig.Type), sig.ClosePrice,
		sig.RSI, sig.MACD, sig.MACDSignal, sig.MACDHistogram, sig.Executed, nullString(sig.OrderID),
	)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	sig.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) MarkSignalExecuted(ctx context.Context, id int64, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markSignal(ctx, s.db, id, orderID)
}

func markSignal(ctx context.Context, db execer, id int64, orderID string) error {
	res, err := db.ExecContext(ctx, `UPDATE signals SET executed = 1, order_id = ? WHERE id = ? AND executed = 0`, orderID, id)
	if err != nil {
		return fmt.Errorf("mark signal %d executed: %w", id, err)
	}
	if err := settled(ctx, db, res, "signals", id); err != nil {
		return fmt.Errorf("mark signal %d executed: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) SaveTrade(ctx context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertTrade(ctx, s.db, t)
}

func insertTrade(ctx context.Context, db execer, t *model.Trade) error {
	t.Timestamp = stamp(t.Timestamp)
	res, err := db.ExecContext(ctx, `INSERT INTO trades
		(timestamp, symbol, order_id, side, quantity, price, status, filled_at,
		 portfolio_value, cash, buying_power, equity, total_value,
		 profit_loss, profit_loss_percent, signal_id, rejection_reason)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.Timestamp.UnixMilli(), t.Symbol, nullString(t.OrderID), string(t.Side), t.Quantity, t.Price,
		string(t.Status), nullTime(t.FilledAt),
		t.PortfolioValue, t.Cash, t.BuyingPower, t.Equity, t.TotalValue,
		nullFloat(t.ProfitLoss), nullFloat(t.ProfitLossPercent), nullInt64(t.SignalID), nullString(t.RejectionReason),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert trade %s: %w", t.OrderID, ErrDuplicateOrder)
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	t.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) UpdateTrade(ctx context.Context, id int64, u TradeUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE trades SET
		status = ?,
		filled_at = COALESCE(?, filled_at),
		price = COALESCE(?, price),
		total_value = COALESCE(? * quantity, total_value)
		WHERE id = ? AND status = ?`,
		string(u.Status), nullTime(u.FilledAt), nullFloat(u.Price), nullFloat(u.Price), id, string(model.TradePending),
	)
	if err != nil {
		return fmt.Errorf("update trade %d: %w", id, err)
	}
	if err := settled(ctx, s.db, res, "trades", id); err != nil {
		return fmt.Errorf("update trade %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) PendingTrades(ctx context.Context) ([]model.Trade, error) {
	return s.queryTrades(ctx, `WHERE status = ? AND order_id IS NOT NULL ORDER BY timestamp ASC`, string(model.TradePending))
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *model.AccountSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertSnapshot(ctx, s.db, snap)
}

func insertSnapshot(ctx context.Context, db execer, snap *model.AccountSnapshot) error {
	snap.Timestamp = stamp(snap.Timestamp)
	res, err := db.ExecContext(ctx, `INSERT INTO account_snapshots
		(timestamp, portfolio_value, cash, buying_power, equity, account_status, day_trade_count)
		VALUES (?,?,?,?,?,?,?)`,
		snap.Timestamp.UnixMilli(), snap.PortfolioValue, snap.Cash, snap.BuyingPower, snap.Equity,
		snap.AccountStatus, nullInt(snap.DayTradeCount),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	snap.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) FirstSnapshot(ctx context.Context) (*model.AccountSnapshot, error) {
	snaps, err := s.querySnapshots(ctx, `ORDER BY timestamp ASC, id ASC LIMIT 1`)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, ErrNotFound
	}
	return &snaps[0], nil
}

func (s *SQLiteStore) RecordExecution(ctx context.Context, t *model.Trade, snap *model.AccountSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := insertTrade(ctx, tx, t); err != nil {
		return err
	}
	if snap != nil {
		if err := insertSnapshot(ctx, tx, snap); err != nil {
			return err
		}
	}
	if marksSignal(t) {
		if err := markSignal(ctx, tx, *t.SignalID, t.OrderID); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func where(q Query, timeCol string, extra ...string) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if q.Symbol != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, q.Symbol)
	}
	if !q.Since.IsZero() {
		conds = append(conds, timeCol+" >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	conds = append(conds, extra...)
	clause := ""
	if len(conds) > 0 {
		clause = "WHERE " + strings.Join(conds, " AND ")
	}
	return clause, args
}

func limitClause(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", n)
}

func (s *SQLiteStore) ListSignals(ctx context.Context, q Query) ([]model.Signal, error) {
	clause, args := where(q, "timestamp")
	if q.Status != "" {
		if clause == "" {
			clause = "WHERE signal = ?"
		} else {
			clause += " AND signal = ?"
		}
		args = append(args, strings.ToUpper(q.Status))
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, timestamp, symbol, signal, close_price, rsi, macd,
		macd_signal, macd_histogram, executed, order_id FROM signals `+clause+
		` ORDER BY timestamp DESC, id DESC`+limitClause(q.Limit), args...)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []model.Signal
	for rows.Next() {
		var (
			sig     model.Signal
			ts      int64
			typ     string
			orderID sql.NullString
		)
		if err := rows.Scan(&sig.ID, &ts, &sig.Symbol, &typ, &sig.ClosePrice, &sig.RSI, &sig.MACD,
			&sig.MACDSignal, &sig.MACDHistogram, &sig.Executed, &orderID); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		sig.Timestamp = time.UnixMilli(ts)
		sig.Type = model.SignalType(typ)
		sig.OrderID = orderID.String
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListTrades(ctx context.Context, q Query) ([]model.Trade, error) {
	clause, args := where(q, "timestamp")
	if q.Status != "" {
		if clause == "" {
			clause = "WHERE status = ?"
		} else {
			clause += " AND status = ?"
		}
		args = append(args, q.Status)
	}
	return s.queryTrades(ctx, clause+` ORDER BY timestamp DESC, id DESC`+limitClause(q.Limit), args...)
}

func (s *SQLiteStore) queryTrades(ctx context.Context, tail string, args ...interface{}) ([]model.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, timestamp, symbol, order_id, side, quantity, price, status,
		filled_at, portfolio_value, cash, buying_power, equity, total_value,
		profit_loss, profit_loss_percent, signal_id, rejection_reason FROM trades `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		var (
			t                 model.Trade
			ts                int64
			orderID, reason   sql.NullString
			side, status      string
			filledAt, sigID   sql.NullInt64
			pv, cash, bp, eq  sql.NullFloat64
			total, pl, plPerc sql.NullFloat64
		)
		if err := rows.Scan(&t.ID, &ts, &t.Symbol, &orderID, &side, &t.Quantity, &t.Price, &status,
			&filledAt, &pv, &cash, &bp, &eq, &total, &pl, &plPerc, &sigID, &reason); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Timestamp = time.UnixMilli(ts)
		t.OrderID = orderID.String
		t.Side = model.Side(side)
		t.Status = model.TradeStatus(status)
		if filledAt.Valid {
			f := time.UnixMilli(filledAt.Int64)
			t.FilledAt = &f
		}
		t.PortfolioValue, t.Cash, t.BuyingPower, t.Equity = pv.Float64, cash.Float64, bp.Float64, eq.Float64
		t.TotalValue = total.Float64
		if pl.Valid {
			v := pl.Float64
			t.ProfitLoss = &v
		}
		if plPerc.Valid {
			v := plPerc.Float64
			t.ProfitLossPercent = &v
		}
		if sigID.Valid {
			v := sigID.Int64
			t.SignalID = &v
		}
		t.RejectionReason = reason.String
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Performance(ctx context.Context, symbol string, since time.Time) (*Performance, error) {
	return performance(ctx, s, symbol, since)
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, q Query) ([]model.AccountSnapshot, error) {
	clause, args := where(Query{Since: q.Since}, "timestamp")
	return s.querySnapshots(ctx, clause+` ORDER BY timestamp DESC, id DESC`+limitClause(q.Limit), args...)
}

func (s *SQLiteStore) querySnapshots(ctx context.Context, tail string, args ...interface{}) ([]model.AccountSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, timestamp, portfolio_value, cash, buying_power, equity,
		account_status, day_trade_count FROM account_snapshots `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []model.AccountSnapshot
	for rows.Next() {
		var (
			snap model.AccountSnapshot
			ts   int64
			dtc  sql.NullInt64
		)
		if err := rows.Scan(&snap.ID, &ts, &snap.PortfolioValue, &snap.Cash, &snap.BuyingPower,
			&snap.Equity, &snap.AccountStatus, &dtc); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.Timestamp = time.UnixMilli(ts)
		if dtc.Valid {
			v := int(dtc.Int64)
			snap.DayTradeCount = &v
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Statistics(ctx context.Context, symbol string) (*Statistics, error) {
	st := &Statistics{}
	clause, args := where(Query{Symbol: symbol}, "timestamp")

	var err error
	if st.Trades.Total, err = s.count(ctx, "trades", clause, args); err != nil {
		return nil, err
	}
	filledClause, filledArgs := where(Query{Symbol: symbol}, "timestamp", "status = 'filled'")
	if st.Trades.Filled, err = s.count(ctx, "trades", filledClause, filledArgs); err != nil {
		return nil, err
	}
	if st.Trades.BySymbol, err = s.bySymbol(ctx, "trades", clause, args); err != nil {
		return nil, err
	}
	if st.Trades.DateRange, err = s.dateRange(ctx, "trades", clause, args); err != nil {
		return nil, err
	}

	if st.Signals.Total, err = s.count(ctx, "signals", clause, args); err != nil {
		return nil, err
	}
	execClause, execArgs := where(Query{Symbol: symbol}, "timestamp", "executed = 1")
	if st.Signals.Executed, err = s.count(ctx, "signals", execClause, execArgs); err != nil {
		return nil, err
	}
	if st.Signals.BySymbol, err = s.bySymbol(ctx, "signals", clause, args); err != nil {
		return nil, err
	}
	if st.Signals.DateRange, err = s.dateRange(ctx, "signals", clause, args); err != nil {
		return nil, err
	}

	if st.Snapshots.Total, err = s.count(ctx, "account_snapshots", "", nil); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *SQLiteStore) count(ctx context.Context, table, clause string, args []interface{}) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` `+clause, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *SQLiteStore) bySymbol(ctx context.Context, table, clause string, args []interface{}) ([]SymbolCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, COUNT(*) AS n FROM `+table+` `+clause+
		` GROUP BY symbol ORDER BY n DESC, symbol ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", table, err)
	}
	defer rows.Close()

	out := []SymbolCount{}
	for rows.Next() {
		var sc SymbolCount
		if err := rows.Scan(&sc.Symbol, &sc.Count); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) dateRange(ctx context.Context, table, clause string, args []interface{}) (DateRange, error) {
	var lo, hi sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MIN(timestamp), MAX(timestamp) FROM `+table+` `+clause, args...).Scan(&lo, &hi)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return DateRange{}, fmt.Errorf("date range %s: %w", table, err)
	}
	var dr DateRange
	if lo.Valid {
		t := time.UnixMilli(lo.Int64)
		dr.Oldest = &t
	}
	if hi.Valid {
		t := time.UnixMilli(hi.Int64)
		dr.Newest = &t
	}
	return dr, nil
}

func (s *SQLiteStore) Close() error {
	s.log.Info().Msg("closing sqlite store")
	return s.db.Close()
}
