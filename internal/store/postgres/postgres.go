// Package postgres implements the durable store on PostgreSQL via lib/pq.
// All operations run under the configured per-operation timeout; unique
// violations and connection loss are mapped onto the core error kinds.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/printlot-io/printlot/internal/core"
	"github.com/printlot-io/printlot/internal/core/model"
	"github.com/printlot-io/printlot/pkg/log"
	"github.com/printlot-io/printlot/pkg/options"
)

var _ core.Store = (*Store)(nil)

// Store is the PostgreSQL-backed implementation of core.Store.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
	logger    log.Logger
}

// Open connects to PostgreSQL, applies the schema and returns the store.
func Open(ctx context.Context, opts *options.PostgresOptions, logger log.Logger) (*Store, error) {
	db, err := sql.Open("postgres", opts.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", mapError(err))
	}
	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return NewStore(db, opts.OpTimeout, logger), nil
}

// NewStore wraps an existing connection pool. Used by tests with sqlmock.
func NewStore(db *sql.DB, opTimeout time.Duration, logger log.Logger) *Store {
	if opTimeout <= 0 {
		opTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.Std()
	}
	return &Store{db: db, opTimeout: opTimeout, logger: logger.WithName("postgres")}
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// mapError translates driver errors onto the core error kinds.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return fmt.Errorf("%w: %s", core.ErrIngestConflict, pqErr.Detail)
		case "connection_exception", "admin_shutdown", "cannot_connect_now":
			return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
		}
		return err
	}

	// context.DeadlineExceeded also satisfies net.Error, so the timeout
	// kind must be decided before the transport check.
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", core.ErrDeadlineExceeded, err)
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	return err
}

func locationKey(location string) string {
	return strings.ToLower(strings.TrimSpace(location))
}

// --- VehicleStore ---

func (s *Store) InsertRawVehicles(ctx context.Context, rows []model.RawVehicle) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO raw_vehicles
			(vin, stock, year, make, model, trim, price, mileage, vehicle_type,
			 exterior_color, location, vehicle_url, import_id, time_scraped)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`)
	if err != nil {
		return mapError(err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.VIN, r.Stock, r.Year, r.Make, r.Model, r.Trim, r.Price, r.Mileage,
			r.VehicleType, r.ExteriorColor, r.Location, r.VehicleURL, r.ImportID, r.TimeScraped,
		); err != nil {
			return mapError(err)
		}
	}
	return mapError(tx.Commit())
}

func (s *Store) UpsertVehicle(ctx context.Context, obs model.Vehicle) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	// COALESCE keeps stored scalars when the new observation is null; the
	// NULLIF calls treat empty strings the same way.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vehicles
			(vin, location_key, location, stock, year, make, model, trim, price,
			 mileage, vehicle_type, exterior_color, vehicle_url, import_id,
			 time_scraped, first_scraped, last_scraped, scrape_count,
			 price_formatted, mileage_formatted, incomplete)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15,$15,1,$16,$17,$18)
		ON CONFLICT (vin, location_key) DO UPDATE SET
			stock             = COALESCE(NULLIF(EXCLUDED.stock, ''), vehicles.stock),
			year              = COALESCE(EXCLUDED.year, vehicles.year),
			make              = COALESCE(NULLIF(EXCLUDED.make, ''), vehicles.make),
			model             = COALESCE(NULLIF(EXCLUDED.model, ''), vehicles.model),
			trim              = COALESCE(NULLIF(EXCLUDED.trim, ''), vehicles.trim),
			price             = COALESCE(EXCLUDED.price, vehicles.price),
			mileage           = COALESCE(EXCLUDED.mileage, vehicles.mileage),
			vehicle_type      = CASE WHEN EXCLUDED.vehicle_type = 'unknown'
			                         THEN vehicles.vehicle_type
			                         ELSE EXCLUDED.vehicle_type END,
			exterior_color    = COALESCE(NULLIF(EXCLUDED.exterior_color, ''), vehicles.exterior_color),
			vehicle_url       = COALESCE(NULLIF(EXCLUDED.vehicle_url, ''), vehicles.vehicle_url),
			import_id         = EXCLUDED.import_id,
			time_scraped      = EXCLUDED.time_scraped,
			last_scraped      = EXCLUDED.last_scraped,
			scrape_count      = vehicles.scrape_count + 1,
			price_formatted   = CASE WHEN EXCLUDED.price IS NULL
			                         THEN vehicles.price_formatted
			                         ELSE EXCLUDED.price_formatted END,
			mileage_formatted = CASE WHEN EXCLUDED.mileage IS NULL
			                         THEN vehicles.mileage_formatted
			                         ELSE EXCLUDED.mileage_formatted END,
			incomplete        = EXCLUDED.incomplete`,
		obs.VIN, locationKey(obs.Location), obs.Location, obs.Stock, obs.Year,
		obs.Make, obs.Model, obs.Trim, obs.Price, obs.Mileage,
		string(obs.VehicleType), obs.ExteriorColor, obs.VehicleURL, obs.ImportID,
		obs.TimeScraped, obs.PriceFormatted, obs.MileageFormatted, obs.Incomplete,
	)
	return mapError(err)
}

const vehicleColumns = `
	vin, location, stock, year, make, model, trim, price, mileage,
	vehicle_type, exterior_color, vehicle_url, import_id, time_scraped,
	first_scraped, last_scraped, scrape_count, price_formatted,
	mileage_formatted, incomplete`

func scanVehicle(row interface{ Scan(...any) error }) (model.Vehicle, error) {
	var v model.Vehicle
	var price sql.NullFloat64
	var year, mileage sql.NullInt64
	err := row.Scan(
		&v.VIN, &v.Location, &v.Stock, &year, &v.Make, &v.Model, &v.Trim,
		&price, &mileage, &v.VehicleType, &v.ExteriorColor, &v.VehicleURL,
		&v.ImportID, &v.TimeScraped, &v.FirstScraped, &v.LastScraped,
		&v.ScrapeCount, &v.PriceFormatted, &v.MileageFormatted, &v.Incomplete,
	)
	if err != nil {
		return v, err
	}
	if year.Valid {
		y := int(year.Int64)
		v.Year = &y
	}
	if price.Valid {
		p := price.Float64
		v.Price = &p
	}
	if mileage.Valid {
		m := int(mileage.Int64)
		v.Mileage = &m
	}
	return v, nil
}

func (s *Store) ActiveInventory(ctx context.Context, dealership string) ([]model.Vehicle, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+vehicleColumns+`
		FROM vehicles
		WHERE location_key = $1
		  AND import_id = (SELECT import_id FROM import_manifests WHERE status = 'active')
		ORDER BY vin`, locationKey(dealership))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []model.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, v)
	}
	return out, mapError(rows.Err())
}

func (s *Store) SearchVehicles(ctx context.Context, q core.SearchQuery) (*core.SearchResult, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	where, args := searchWhere(q)
	page := q.Page
	if page < 1 {
		page = 1
	}
	per := q.PerPage
	if per < 1 {
		per = 50
	}

	res := &core.SearchResult{FilterCounts: map[string]map[string]int{}}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vehicles `+where, args...).Scan(&res.Total); err != nil {
		return nil, mapError(err)
	}

	order := "vin"
	switch q.Sort {
	case "make", "year", "last_scraped":
		order = q.Sort
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+vehicleColumns+` FROM vehicles `+where+
			fmt.Sprintf(` ORDER BY %s LIMIT %d OFFSET %d`, order, per, (page-1)*per),
		args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, mapError(err)
		}
		res.Rows = append(res.Rows, v)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	for facet, column := range map[string]string{
		"location":     "location",
		"make":         "make",
		"model":        "model",
		"vehicle_type": "vehicle_type",
	} {
		counts, err := s.facetCounts(ctx, column, where, args)
		if err != nil {
			return nil, err
		}
		res.FilterCounts[facet] = counts
	}
	return res, nil
}

func (s *Store) facetCounts(ctx context.Context, column, where string, args []any) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s, COUNT(*) FROM vehicles %s GROUP BY %s`, column, where, column),
		args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var value string
		var n int
		if err := rows.Scan(&value, &n); err != nil {
			return nil, mapError(err)
		}
		if value != "" {
			out[value] = n
		}
	}
	return out, mapError(rows.Err())
}

func searchWhere(q core.SearchQuery) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if q.Text != "" {
		add(`(vin ILIKE '%%' || $%d || '%%' OR stock ILIKE '%%' || $%[1]d || '%%'
			OR make ILIKE '%%' || $%[1]d || '%%' OR model ILIKE '%%' || $%[1]d || '%%')`, q.Text)
	}
	if q.Location != "" {
		add("location_key = $%d", locationKey(q.Location))
	}
	if q.Make != "" {
		add("LOWER(make) = LOWER($%d)", q.Make)
	}
	if q.Model != "" {
		add("LOWER(model) = LOWER($%d)", q.Model)
	}
	if q.Year != nil {
		add("year = $%d", *q.Year)
	}
	if q.VehicleType != "" {
		add("vehicle_type = $%d", string(q.VehicleType))
	}
	if q.From != nil {
		add("last_scraped >= $%d", *q.From)
	}
	if q.To != nil {
		add("last_scraped <= $%d", *q.To)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) VehicleScrapeHistory(ctx context.Context, vin string) ([]model.RawVehicle, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT vin, stock, year, make, model, trim, price, mileage, vehicle_type,
		       exterior_color, location, vehicle_url, import_id, time_scraped
		FROM raw_vehicles
		WHERE UPPER(vin) = UPPER($1)
		ORDER BY time_scraped DESC`, strings.TrimSpace(vin))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return scanRawRows(rows)
}

func (s *Store) RawRowsByImport(ctx context.Context, importID string) ([]model.RawVehicle, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT vin, stock, year, make, model, trim, price, mileage, vehicle_type,
		       exterior_color, location, vehicle_url, import_id, time_scraped
		FROM raw_vehicles
		WHERE import_id = $1
		ORDER BY id`, importID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return scanRawRows(rows)
}

func scanRawRows(rows *sql.Rows) ([]model.RawVehicle, error) {
	var out []model.RawVehicle
	for rows.Next() {
		var r model.RawVehicle
		if err := rows.Scan(
			&r.VIN, &r.Stock, &r.Year, &r.Make, &r.Model, &r.Trim, &r.Price,
			&r.Mileage, &r.VehicleType, &r.ExteriorColor, &r.Location,
			&r.VehicleURL, &r.ImportID, &r.TimeScraped,
		); err != nil {
			return nil, mapError(err)
		}
		out = append(out, r)
	}
	return out, mapError(rows.Err())
}

// --- VINLogStore ---

func (s *Store) AppendVINLogEntries(ctx context.Context, entries []model.VINLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		// Re-appending the same (dealership, vin, order date) replaces the
		// prior entry instead of violating the uniqueness constraint.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vin_log
				(dealership_key, dealership, vin, order_number, processed_date,
				 order_date, order_type, vehicle_type)
			VALUES ($1,$2,$3,$4,$5,($5 AT TIME ZONE 'UTC')::date,$6,$7)
			ON CONFLICT (dealership_key, vin, order_date) DO UPDATE SET
				order_number   = EXCLUDED.order_number,
				processed_date = EXCLUDED.processed_date,
				order_type     = EXCLUDED.order_type,
				vehicle_type   = EXCLUDED.vehicle_type`,
			locationKey(e.Dealership), e.Dealership, e.VIN, e.OrderNumber,
			e.ProcessedDate.UTC(), string(e.OrderType), string(e.VehicleType),
		); err != nil {
			return mapError(err)
		}
	}
	return mapError(tx.Commit())
}

const vinLogColumns = `dealership, vin, order_number, processed_date, order_type, vehicle_type`

func scanVINLogRows(rows *sql.Rows) ([]model.VINLogEntry, error) {
	var out []model.VINLogEntry
	for rows.Next() {
		var e model.VINLogEntry
		if err := rows.Scan(&e.Dealership, &e.VIN, &e.OrderNumber, &e.ProcessedDate, &e.OrderType, &e.VehicleType); err != nil {
			return nil, mapError(err)
		}
		out = append(out, e)
	}
	return out, mapError(rows.Err())
}

func (s *Store) VINLogForDealership(ctx context.Context, dealership string, vins []string) (map[string][]model.VINLogEntry, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := `SELECT ` + vinLogColumns + ` FROM vin_log WHERE dealership_key = $1`
	args := []any{locationKey(dealership)}
	if vins != nil {
		query += ` AND vin = ANY($2)`
		args = append(args, pq.Array(vins))
	}
	query += ` ORDER BY processed_date DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	entries, err := scanVINLogRows(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]model.VINLogEntry)
	for _, e := range entries {
		out[e.VIN] = append(out[e.VIN], e)
	}
	return out, nil
}

func (s *Store) DealershipsHoldingVINs(ctx context.Context, excludeDealership string, vins []string) (map[string][]string, error) {
	if len(vins) == 0 {
		return map[string][]string{}, nil
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT vin, dealership
		FROM vin_log
		WHERE vin = ANY($1) AND dealership_key <> $2`,
		pq.Array(vins), locationKey(excludeDealership))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var vin, dealer string
		if err := rows.Scan(&vin, &dealer); err != nil {
			return nil, mapError(err)
		}
		out[vin] = append(out[vin], dealer)
	}
	return out, mapError(rows.Err())
}

func (s *Store) ImportVINLog(ctx context.Context, dealership string, entries []model.VINLogEntry, opts core.VINLogImportOptions) (*core.VINLogImportCounts, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapError(err)
	}
	defer tx.Rollback()

	conflictClause := `DO NOTHING`
	if opts.UpdateExisting {
		conflictClause = `DO UPDATE SET
			order_number   = EXCLUDED.order_number,
			processed_date = EXCLUDED.processed_date,
			order_type     = EXCLUDED.order_type,
			vehicle_type   = EXCLUDED.vehicle_type`
	}

	counts := &core.VINLogImportCounts{}
	for _, e := range entries {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO vin_log
				(dealership_key, dealership, vin, order_number, processed_date,
				 order_date, order_type, vehicle_type)
			VALUES ($1,$2,$3,$4,$5,($5 AT TIME ZONE 'UTC')::date,$6,$7)
			ON CONFLICT (dealership_key, vin, order_date) `+conflictClause,
			locationKey(dealership), dealership, e.VIN, e.OrderNumber,
			e.ProcessedDate.UTC(), string(e.OrderType), string(e.VehicleType))
		if err != nil {
			return nil, mapError(err)
		}

		affected, _ := result.RowsAffected()
		switch {
		case affected == 0 && !opts.SkipDuplicates && !opts.UpdateExisting:
			return nil, fmt.Errorf("%w: duplicate vin log entry %s", core.ErrIngestConflict, e.VIN)
		case affected == 0:
			counts.Skipped++
		case opts.UpdateExisting:
			// RowsAffected cannot distinguish insert from update here; treat
			// update mode conservatively as updated.
			counts.Updated++
		default:
			counts.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	return counts, nil
}

func (s *Store) VINHistory(ctx context.Context, q core.VINHistoryQuery) (*core.VINHistoryResult, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	where := `WHERE dealership_key = $1`
	args := []any{locationKey(q.Dealership)}
	if q.Text != "" {
		args = append(args, q.Text)
		where += fmt.Sprintf(` AND (vin ILIKE '%%' || $%d || '%%' OR order_number ILIKE '%%' || $%[1]d || '%%')`, len(args))
	}
	if q.From != nil {
		args = append(args, *q.From)
		where += fmt.Sprintf(` AND processed_date >= $%d`, len(args))
	}
	if q.To != nil {
		args = append(args, *q.To)
		where += fmt.Sprintf(` AND processed_date <= $%d`, len(args))
	}

	res := &core.VINHistoryResult{}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE order_type = 'BASELINE'),
		       COUNT(*) FILTER (WHERE order_type = 'CAO'),
		       COUNT(*) FILTER (WHERE order_type = 'LIST')
		FROM vin_log WHERE dealership_key = $1`, args[0],
	).Scan(&res.Stats.Total, &res.Stats.Baseline, &res.Stats.CAO, &res.Stats.List); err != nil {
		return nil, mapError(err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vin_log `+where, args...).Scan(&res.Total); err != nil {
		return nil, mapError(err)
	}

	page := q.Page
	if page < 1 {
		page = 1
	}
	per := q.PerPage
	if per < 1 {
		per = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+vinLogColumns+` FROM vin_log `+where+
			fmt.Sprintf(` ORDER BY processed_date DESC LIMIT %d OFFSET %d`, per, (page-1)*per),
		args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	res.Rows, err = scanVINLogRows(rows)
	return res, err
}

// --- ManifestStore ---

func (s *Store) CreateManifest(ctx context.Context, m *model.ImportManifest) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	status := m.Status
	if status == "" {
		status = model.ManifestStatusPending
	}
	counts, err := json.Marshal(m.DealershipCounts)
	if err != nil {
		return err
	}
	if counts == nil || string(counts) == "null" {
		counts = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO import_manifests
			(import_id, import_date, source, file_name, status, vehicle_count, dealership_counts)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.ID, m.ImportDate, string(m.Source), m.FileName, string(status), m.VehicleCount, counts)
	return mapError(err)
}

const manifestColumns = `import_id, import_date, source, file_name, status, vehicle_count, dealership_counts`

func scanManifest(row interface{ Scan(...any) error }) (*model.ImportManifest, error) {
	var m model.ImportManifest
	var counts []byte
	if err := row.Scan(&m.ID, &m.ImportDate, &m.Source, &m.FileName, &m.Status, &m.VehicleCount, &counts); err != nil {
		return nil, mapError(err)
	}
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &m.DealershipCounts); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func (s *Store) GetManifest(ctx context.Context, id string) (*model.ImportManifest, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return scanManifest(s.db.QueryRowContext(ctx,
		`SELECT `+manifestColumns+` FROM import_manifests WHERE import_id = $1`, id))
}

func (s *Store) ActiveManifest(ctx context.Context) (*model.ImportManifest, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return scanManifest(s.db.QueryRowContext(ctx,
		`SELECT `+manifestColumns+` FROM import_manifests WHERE status = 'active'`))
}

func (s *Store) ActivateManifest(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback()

	var status string
	if err := tx.QueryRowContext(ctx,
		`SELECT status FROM import_manifests WHERE import_id = $1 FOR UPDATE`, id,
	).Scan(&status); err != nil {
		return mapError(err)
	}
	if model.ManifestStatus(status) == model.ManifestStatusArchived {
		return fmt.Errorf("%w: import %s is archived", core.ErrIngestConflict, id)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE import_manifests SET status = 'archived' WHERE status = 'active' AND import_id <> $1`, id,
	); err != nil {
		return mapError(err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE import_manifests SET status = 'active' WHERE import_id = $1`, id,
	); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit())
}

func (s *Store) ArchiveManifest(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx,
		`UPDATE import_manifests SET status = 'archived' WHERE import_id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: import %s", core.ErrNotFound, id)
	}
	return nil
}

func (s *Store) UpdateManifestCounts(ctx context.Context, id string, total int, perDealership map[string]int) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	counts, err := json.Marshal(perDealership)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE import_manifests SET vehicle_count = $2, dealership_counts = $3 WHERE import_id = $1`,
		id, total, counts)
	if err != nil {
		return mapError(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: import %s", core.ErrNotFound, id)
	}
	return nil
}

// --- DealershipStore ---

func (s *Store) ListDealerships(ctx context.Context) ([]model.DealershipConfig, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT config FROM dealerships ORDER BY name`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []model.DealershipConfig
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, mapError(err)
		}
		var cfg model.DealershipConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode dealership config: %w", err)
		}
		out = append(out, cfg)
	}
	return out, mapError(rows.Err())
}

func (s *Store) GetDealership(ctx context.Context, name string) (*model.DealershipConfig, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var raw []byte
	if err := s.db.QueryRowContext(ctx,
		`SELECT config FROM dealerships WHERE name_key = $1`, locationKey(name),
	).Scan(&raw); err != nil {
		return nil, mapError(err)
	}
	var cfg model.DealershipConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode dealership config: %w", err)
	}
	return &cfg, nil
}

func (s *Store) UpsertDealership(ctx context.Context, cfg *model.DealershipConfig) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dealerships (name_key, name, is_active, config)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (name_key) DO UPDATE SET
			name      = EXCLUDED.name,
			is_active = EXCLUDED.is_active,
			config    = EXCLUDED.config`,
		locationKey(cfg.Name), cfg.Name, cfg.IsActive, raw)
	return mapError(err)
}

// --- OrderRunStore ---

func (s *Store) RecordOrderRun(ctx context.Context, run *model.OrderRun) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO order_runs
			(run_id, dealership, mode, template_type, created_at, status,
			 vehicle_count, row_count, csv_path, qr_dir, remediation)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		run.ID, run.Dealership, string(run.Mode), run.TemplateType, run.CreatedAt,
		string(run.Status), run.VehicleCount, run.RowCount, run.CSVPath, run.QRDir,
		run.Remediation)
	return mapError(err)
}

func (s *Store) ListOrderRuns(ctx context.Context, dealership string, limit int) ([]model.OrderRun, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := `
		SELECT run_id, dealership, mode, template_type, created_at, status,
		       vehicle_count, row_count, csv_path, qr_dir, remediation
		FROM order_runs`
	var args []any
	if dealership != "" {
		query += ` WHERE LOWER(dealership) = $1`
		args = append(args, locationKey(dealership))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []model.OrderRun
	for rows.Next() {
		var r model.OrderRun
		if err := rows.Scan(&r.ID, &r.Dealership, &r.Mode, &r.TemplateType,
			&r.CreatedAt, &r.Status, &r.VehicleCount, &r.RowCount,
			&r.CSVPath, &r.QRDir, &r.Remediation); err != nil {
			return nil, mapError(err)
		}
		out = append(out, r)
	}
	return out, mapError(rows.Err())
}
