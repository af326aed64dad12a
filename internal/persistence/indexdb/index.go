package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"remansim/internal/sim/catalogs"
	"remansim/internal/sim/runner"
	"remansim/internal/sim/world"
)

// Index is the queryable read model of runs. Writes go through a buffered
// channel to a single writer goroutine that batches them into transactions;
// the tick logs remain the source of truth.
type Index struct {
	db      *sql.DB
	dialect dialect
	log     *zap.Logger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTicks atomic.Uint64
}

type dialect struct {
	name   string
	schema []string
	// bindvar renders the n-th (1-based) placeholder.
	bindvar func(n int) string
}

type reqKind int

const (
	reqRunStart reqKind = iota + 1
	reqTick
	reqRunEnd
)

type req struct {
	kind reqKind

	run    RunRow
	tick   TickRow
	report []byte
}

// RunRow is one line of the runs table.
type RunRow struct {
	RunID       string  `json:"run_id"`
	Scenario    string  `json:"scenario"`
	Seed        uint64  `json:"seed"`
	Population  int     `json:"population"`
	Horizon     int     `json:"horizon"`
	Reman       bool    `json:"reman"`
	StartedAt   string  `json:"started_at"`
	FinishedAt  string  `json:"finished_at,omitempty"`
	Days        int     `json:"days"`
	FinalDigest string  `json:"final_digest,omitempty"`
	Profit      float64 `json:"profit"`
}

// TickRow flattens a tick record into scalar columns.
type TickRow struct {
	RunID          string  `json:"run_id"`
	Day            int     `json:"day"`
	Digest         string  `json:"digest"`
	Potential      int     `json:"potential"`
	WantsAny       int     `json:"wants_any"`
	WantsVirgin    int     `json:"wants_virgin"`
	WantsReman     int     `json:"wants_reman"`
	UsesVirgin     int     `json:"uses_virgin"`
	UsesReman      int     `json:"uses_reman"`
	CoreStock      float64 `json:"core_stock"`
	StockVirgin    float64 `json:"stock_virgin"`
	StockReman     float64 `json:"stock_reman"`
	SoldVirgin     int     `json:"sold_virgin"`
	SoldReman      int     `json:"sold_reman"`
	CoresCollected int     `json:"cores_collected"`
	CoresRejected  int     `json:"cores_rejected"`
}

func TickRowFrom(runID string, rec runner.TickRecord) TickRow {
	s := rec.Snapshot
	c := s.Customers
	return TickRow{
		RunID:          runID,
		Day:            rec.Day,
		Digest:         rec.Digest,
		Potential:      c.PotentialUsers,
		WantsAny:       c.WantsAny,
		WantsVirgin:    c.Wants[catalogs.Virgin],
		WantsReman:     c.Wants[catalogs.Reman],
		UsesVirgin:     c.Uses[catalogs.Virgin],
		UsesReman:      c.Uses[catalogs.Reman],
		CoreStock:      s.CoreStock,
		StockVirgin:    s.FactoryStock[catalogs.Virgin],
		StockReman:     s.FactoryStock[catalogs.Reman],
		SoldVirgin:     s.ProductsSold[catalogs.Virgin],
		SoldReman:      s.ProductsSold[catalogs.Reman],
		CoresCollected: s.CoresCollected,
		CoresRejected:  s.CoresRejected,
	}
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	DropTickTotal uint64 `json:"drop_tick_total"`
}

func open(db *sql.DB, d dialect, logger *zap.Logger, queue int) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, stmt := range d.schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("%s schema: %w", d.name, err)
		}
	}
	x := &Index{
		db:      db,
		dialect: d,
		log:     logger.With(zap.String("index", d.name)),
		ch:      make(chan req, queue),
	}
	x.wg.Add(1)
	go func() {
		defer x.wg.Done()
		x.loop()
	}()
	return x, nil
}

// Backend names the SQL dialect in use.
func (x *Index) Backend() string { return x.dialect.name }

// Close drains the queue, commits and closes the database.
func (x *Index) Close() error {
	var err error
	x.once.Do(func() {
		x.closed.Store(true)
		close(x.ch)
		x.wg.Wait()
		err = x.db.Close()
	})
	return err
}

func (x *Index) Stats() Stats {
	if x == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(x.ch),
		QueueCapacity: cap(x.ch),
		DropTickTotal: x.dropTicks.Load(),
	}
}

// RecordRunStart registers a run. It blocks when the queue is full.
func (x *Index) RecordRunStart(r *runner.Run, startedAt time.Time) {
	if x == nil || x.closed.Load() {
		return
	}
	m := r.Scenario.Main
	x.ch <- req{kind: reqRunStart, run: RunRow{
		RunID:      r.ID,
		Scenario:   r.Scenario.Name,
		Seed:       m.Seed,
		Population: m.Population,
		Horizon:    m.SimulationLength,
		Reman:      m.EnableReman,
		StartedAt:  startedAt.UTC().Format(time.RFC3339Nano),
	}}
}

// WriteTick enqueues one tick row. A full queue drops the row.
func (x *Index) WriteTick(runID string, rec runner.TickRecord) error {
	if x == nil || x.closed.Load() {
		return nil
	}
	select {
	case x.ch <- req{kind: reqTick, tick: TickRowFrom(runID, rec)}:
	default:
		x.dropTicks.Add(1)
	}
	return nil
}

// RunSink adapts the index to a runner.Sink for one run.
func (x *Index) RunSink(runID string) runner.Sink {
	return runner.SinkFunc(func(rec runner.TickRecord) error { return x.WriteTick(runID, rec) })
}

// RecordRunEnd stores the final digest and the financial report.
func (x *Index) RecordRunEnd(res runner.Result) error {
	if x == nil || x.closed.Load() {
		return nil
	}
	b, err := json.Marshal(res.Report)
	if err != nil {
		return err
	}
	x.ch <- req{kind: reqRunEnd, report: b, run: RunRow{
		RunID:       res.RunID,
		FinishedAt:  res.FinishedAt.UTC().Format(time.RFC3339Nano),
		Days:        res.Days,
		FinalDigest: res.Digest,
		Profit:      res.Report.Profit,
	}}
	return nil
}

// rebind rewrites ? placeholders for the dialect.
func (x *Index) rebind(q string) string {
	if x.dialect.bindvar == nil {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString(x.dialect.bindvar(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const (
	qInsertRun = `INSERT INTO runs(run_id,scenario,seed,population,horizon,reman,started_at,finished_at,days,final_digest,profit)
		VALUES(?,?,?,?,?,?,?,'',0,'',0)
		ON CONFLICT(run_id) DO UPDATE SET scenario=excluded.scenario, seed=excluded.seed, population=excluded.population,
			horizon=excluded.horizon, reman=excluded.reman, started_at=excluded.started_at,
			finished_at='', days=0, final_digest='', profit=0`
	qClearTicks  = `DELETE FROM ticks WHERE run_id=?`
	qClearReport = `DELETE FROM reports WHERE run_id=?`
	qInsertTick = `INSERT INTO ticks(run_id,day,digest,potential,wants_any,wants_virgin,wants_reman,uses_virgin,uses_reman,
			core_stock,stock_virgin,stock_reman,sold_virgin,sold_reman,cores_collected,cores_rejected)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(run_id,day) DO UPDATE SET digest=excluded.digest, potential=excluded.potential,
			wants_any=excluded.wants_any, wants_virgin=excluded.wants_virgin, wants_reman=excluded.wants_reman,
			uses_virgin=excluded.uses_virgin, uses_reman=excluded.uses_reman, core_stock=excluded.core_stock,
			stock_virgin=excluded.stock_virgin, stock_reman=excluded.stock_reman, sold_virgin=excluded.sold_virgin,
			sold_reman=excluded.sold_reman, cores_collected=excluded.cores_collected, cores_rejected=excluded.cores_rejected`
	qFinishRun    = `UPDATE runs SET finished_at=?, days=?, final_digest=?, profit=? WHERE run_id=?`
	qUpsertReport = `INSERT INTO reports(run_id,json) VALUES(?,?) ON CONFLICT(run_id) DO UPDATE SET json=excluded.json`
)

func (x *Index) loop() {
	ctx := context.Background()

	prepare := func(name, q string) *sql.Stmt {
		st, err := x.db.Prepare(x.rebind(q))
		if err != nil {
			x.log.Warn("prepare statement; its writes will be dropped", zap.String("stmt", name), zap.Error(err))
			return nil
		}
		return st
	}
	insertRun := prepare("insert_run", qInsertRun)
	clearTicks := prepare("clear_ticks", qClearTicks)
	clearReport := prepare("clear_report", qClearReport)
	insertTick := prepare("insert_tick", qInsertTick)
	finishRun := prepare("finish_run", qFinishRun)
	upsertReport := prepare("upsert_report", qUpsertReport)
	defer func() {
		for _, st := range []*sql.Stmt{insertRun, clearTicks, clearReport, insertTick, finishRun, upsertReport} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := x.db.BeginTx(ctx, nil)
		if err != nil {
			x.log.Warn("begin tx", zap.Error(err))
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			x.log.Warn("commit", zap.Error(err))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func(err error) {
		x.log.Warn("index write failed", zap.Error(err))
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback(err)
			return false
		}
		opCount++
		return true
	}

	flush := time.NewTicker(commitMaxWait)
	defer flush.Stop()

	for {
		var r req
		select {
		case <-flush.C:
			// Bounds how long an idle batch stays invisible to readers.
			commit()
			continue
		case rr, ok := <-x.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		}

		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqRunStart:
			// A rerun under the same id replaces the earlier run's rows.
			ru := r.run
			if exec(insertRun, ru.RunID, ru.Scenario, int64(ru.Seed), ru.Population, ru.Horizon, boolInt(ru.Reman), ru.StartedAt) &&
				exec(clearTicks, ru.RunID) {
				exec(clearReport, ru.RunID)
			}

		case reqTick:
			t := r.tick
			exec(insertTick, t.RunID, t.Day, t.Digest, t.Potential, t.WantsAny, t.WantsVirgin, t.WantsReman,
				t.UsesVirgin, t.UsesReman, t.CoreStock, t.StockVirgin, t.StockReman, t.SoldVirgin, t.SoldReman,
				t.CoresCollected, t.CoresRejected)

		case reqRunEnd:
			ru := r.run
			if exec(finishRun, ru.FinishedAt, ru.Days, ru.FinalDigest, ru.Profit, ru.RunID) {
				exec(upsertReport, ru.RunID, string(r.report))
			}
			// Run ends are rare; make them visible right away.
			commit()
			continue
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ListRuns returns the most recently started runs first.
func (x *Index) ListRuns(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := x.db.QueryContext(ctx, x.rebind(`SELECT run_id,scenario,seed,population,horizon,reman,started_at,finished_at,days,final_digest,profit
		FROM runs ORDER BY started_at DESC, run_id LIMIT `+strconv.Itoa(limit)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var (
			r     RunRow
			seed  int64
			reman int
		)
		if err := rows.Scan(&r.RunID, &r.Scenario, &seed, &r.Population, &r.Horizon, &reman,
			&r.StartedAt, &r.FinishedAt, &r.Days, &r.FinalDigest, &r.Profit); err != nil {
			return nil, err
		}
		r.Seed = uint64(seed)
		r.Reman = reman != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ticks returns a run's tick rows in day order.
func (x *Index) Ticks(ctx context.Context, runID string) ([]TickRow, error) {
	rows, err := x.db.QueryContext(ctx, x.rebind(`SELECT run_id,day,digest,potential,wants_any,wants_virgin,wants_reman,uses_virgin,uses_reman,
		core_stock,stock_virgin,stock_reman,sold_virgin,sold_reman,cores_collected,cores_rejected
		FROM ticks WHERE run_id=? ORDER BY day`), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TickRow
	for rows.Next() {
		var t TickRow
		if err := rows.Scan(&t.RunID, &t.Day, &t.Digest, &t.Potential, &t.WantsAny, &t.WantsVirgin, &t.WantsReman,
			&t.UsesVirgin, &t.UsesReman, &t.CoreStock, &t.StockVirgin, &t.StockReman, &t.SoldVirgin, &t.SoldReman,
			&t.CoresCollected, &t.CoresRejected); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Report returns the stored financial report of a finished run.
func (x *Index) Report(ctx context.Context, runID string) (world.FinancialReport, error) {
	var rep world.FinancialReport
	var raw string
	err := x.db.QueryRowContext(ctx, x.rebind(`SELECT json FROM reports WHERE run_id=?`), runID).Scan(&raw)
	if err == sql.ErrNoRows {
		return rep, fmt.Errorf("no report for run %s", runID)
	}
	if err != nil {
		return rep, err
	}
	if err := json.Unmarshal([]byte(raw), &rep); err != nil {
		return rep, fmt.Errorf("report %s: %w", runID, err)
	}
	return rep, nil
}
