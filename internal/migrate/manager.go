package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"villaops.org/internal/obs"
)

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

var (
	// ErrNoHistory is returned by Down when nothing has been applied.
	ErrNoHistory = errors.New("migrate: no migrations applied")
	// ErrMissingDown is returned by Down when the latest migration has no
	// matching .down.sql script.
	ErrMissingDown = errors.New("migrate: missing down script")
)

// Manager applies versioned schema migrations and one-shot seed scripts
// from file systems such as the embedded pg store assets.
type Manager struct {
	db         *sql.DB
	migrations fs.FS
	seeds      fs.FS
	ledger     ledger
	now        func() time.Time
	tracer     trace.Tracer
}

// ledger names the bookkeeping tables.
type ledger struct {
	migrations string
	seeds      string
}

// Option configures a Manager.
type Option func(*Manager)

// WithMigrationsTable sets the table recording applied migrations.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.ledger.migrations = name
		}
	}
}

// WithSeedsTable sets the table recording applied seeds.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.ledger.seeds = name
		}
	}
}

// WithClock overrides the applied_at timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager builds a Manager. Either file system may be nil.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:         db,
		migrations: migrations,
		seeds:      seeds,
		ledger:     ledger{migrations: "schema_migrations", seeds: "schema_seeds"},
		now:        time.Now,
		tracer:     obs.Tracer("migrate"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// step is one migration version with its optional rollback script.
type step struct {
	name string // file name of the up script, recorded in the ledger
	up   string
	down string
}

// Up applies every migration not yet recorded and returns how many ran.
func (m *Manager) Up(ctx context.Context) (int, error) {
	ctx, span := m.tracer.Start(ctx, "migrate.up")
	defer span.End()

	steps, err := loadSteps(m.migrations)
	if err != nil {
		return 0, fail(span, err)
	}
	scripts := make([]string, 0, len(steps))
	for _, s := range steps {
		scripts = append(scripts, s.up)
	}
	n, err := m.applyAll(ctx, m.migrations, m.ledger.migrations, scripts)
	span.SetAttributes(attribute.Int("migrate.applied", n))
	if err != nil {
		return n, fail(span, err)
	}
	return n, nil
}

// Seed runs every seed script not yet recorded and returns how many ran.
func (m *Manager) Seed(ctx context.Context) (int, error) {
	ctx, span := m.tracer.Start(ctx, "migrate.seed")
	defer span.End()

	scripts, err := listScripts(m.seeds, ".sql")
	if err != nil {
		return 0, fail(span, err)
	}
	n, err := m.applyAll(ctx, m.seeds, m.ledger.seeds, scripts)
	span.SetAttributes(attribute.Int("migrate.seeded", n))
	if err != nil {
		return n, fail(span, err)
	}
	return n, nil
}

// Down rolls back the most recently applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	ctx, span := m.tracer.Start(ctx, "migrate.down")
	defer span.End()

	applied, err := m.Status(ctx)
	if err != nil {
		return "", fail(span, err)
	}
	if len(applied) == 0 {
		return "", ErrNoHistory
	}
	last := applied[len(applied)-1]

	steps, err := loadSteps(m.migrations)
	if err != nil {
		return "", fail(span, err)
	}
	var down string
	for _, s := range steps {
		if s.name == last {
			down = s.down
			break
		}
	}
	if down == "" {
		return "", fail(span, fmt.Errorf("%w for %s", ErrMissingDown, last))
	}

	start := time.Now()
	err = m.inTx(ctx, m.migrations, down, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.ledger.migrations), last)
		return err
	})
	if err != nil {
		return "", fail(span, fmt.Errorf("roll back %s: %w", last, err))
	}
	obs.Logger().Info("migration rolled back", "name", last, "duration_ms", time.Since(start).Milliseconds())
	return last, nil
}

// Status lists applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureLedger(ctx); err != nil {
		return nil, err
	}
	return m.applied(ctx, m.ledger.migrations)
}

func (m *Manager) applyAll(ctx context.Context, fsys fs.FS, table string, scripts []string) (int, error) {
	if err := m.ensureLedger(ctx); err != nil {
		return 0, err
	}
	done, err := m.applied(ctx, table)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{}, len(done))
	for _, name := range done {
		seen[name] = struct{}{}
	}

	n := 0
	for _, p := range scripts {
		name := path.Base(p)
		if _, ok := seen[name]; ok {
			continue
		}
		start := time.Now()
		err := m.inTx(ctx, fsys, p, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table),
				name, m.now().UTC())
			return err
		})
		if err != nil {
			return n, fmt.Errorf("apply %s: %w", name, err)
		}
		n++
		obs.Logger().Info("script applied", "table", table, "name", name, "duration_ms", time.Since(start).Milliseconds())
	}
	return n, nil
}

// inTx runs the statements of script and then record inside one transaction.
func (m *Manager) inTx(ctx context.Context, fsys fs.FS, script string, record func(*sql.Tx) error) error {
	body, err := fs.ReadFile(fsys, script)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if err := record(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) ensureLedger(ctx context.Context) error {
	for _, table := range []string{m.ledger.migrations, m.ledger.seeds} {
		ddl := fmt.Sprintf(`create table if not exists %s (
	name text primary key,
	applied_at timestamptz not null default now()
)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure %s: %w", table, err)
		}
	}
	return nil
}

func (m *Manager) applied(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at, name`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// loadSteps pairs each .up.sql script with its .down.sql sibling.
func loadSteps(fsys fs.FS) ([]step, error) {
	ups, err := listScripts(fsys, upSuffix)
	if err != nil {
		return nil, err
	}
	downs, err := listScripts(fsys, downSuffix)
	if err != nil {
		return nil, err
	}
	byVersion := make(map[string]string, len(downs))
	for _, p := range downs {
		byVersion[strings.TrimSuffix(path.Base(p), downSuffix)] = p
	}
	steps := make([]step, 0, len(ups))
	for _, p := range ups {
		name := path.Base(p)
		steps = append(steps, step{name: name, up: p, down: byVersion[strings.TrimSuffix(name, upSuffix)]})
	}
	return steps, nil
}

// listScripts returns paths ending in suffix, ordered by file name.
func listScripts(fsys fs.FS, suffix string) ([]string, error) {
	if fsys == nil {
		return nil, nil
	}
	var out []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), suffix) {
			out = append(out, p)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return path.Base(out[i]) < path.Base(out[j]) })
	return out, nil
}

// splitStatements cuts a script on semicolons outside single-quoted
// literals and drops blank statements and -- comment lines.
func splitStatements(script string) []string {
	var (
		stmts   []string
		cur     strings.Builder
		quoted  bool
		comment bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case comment:
			if c == '\n' {
				comment = false
				cur.WriteByte(c)
			}
		case !quoted && c == '-' && i+1 < len(script) && script[i+1] == '-':
			comment = true
		case c == '\'':
			quoted = !quoted
			cur.WriteByte(c)
		case c == ';' && !quoted:
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return stmts
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
