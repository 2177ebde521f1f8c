package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"text/template"
	"time"
)

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

const tableUpTemplate = `-- Migration: {{.Name}}
-- Created: {{.Timestamp}}
-- Description: {{.Description}}

-- Write your UP migration SQL here

`

const tableDownTemplate = `-- Migration: {{.Name}} (Rollback)
-- Created: {{.Timestamp}}
-- Description: Rollback for {{.Description}}

-- Write your DOWN migration SQL here

`

// Views are refreshed CONCURRENTLY, which needs the unique index below
const viewUpTemplate = `-- Migration: {{.Name}}
-- Created: {{.Timestamp}}
-- Description: {{.Description}}

CREATE MATERIALIZED VIEW IF NOT EXISTS {{.View}} AS
SELECT
    -- grouping key columns
    CURRENT_TIMESTAMP AS refreshed_at
FROM fact_orders
WITH DATA;

CREATE UNIQUE INDEX IF NOT EXISTS idx_{{.View}}_pk
    ON {{.View}} (/* grouping key columns */);
`

const viewDownTemplate = `-- Migration: {{.Name}} (Rollback)
-- Created: {{.Timestamp}}
-- Description: Rollback for {{.Description}}

DROP MATERIALIZED VIEW IF EXISTS {{.View}};
`

// MigrationFile represents a migration file pair
type MigrationFile struct {
	Version     string
	Name        string
	Description string
	Timestamp   string
	View        string
	UpPath      string
	DownPath    string
}

// CreateMigration writes an empty up/down pair named after the current time.
// Names starting with "mv_" get a materialized view skeleton.
func CreateMigration(migrationsDir, name, description string) (*MigrationFile, error) {
	return createMigrationAt(migrationsDir, name, description, time.Now())
}

func createMigrationAt(migrationsDir, name, description string, now time.Time) (*MigrationFile, error) {
	base := sanitizeName(name)
	if base == "" {
		return nil, fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(migrationsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create migrations directory: %w", err)
	}

	version := now.UTC().Format("20060102150405")
	fileBase := version + "_" + base

	mf := &MigrationFile{
		Version:     version,
		Name:        name,
		Description: description,
		Timestamp:   now.UTC().Format(time.RFC3339),
		UpPath:      filepath.Join(migrationsDir, fileBase+upSuffix),
		DownPath:    filepath.Join(migrationsDir, fileBase+downSuffix),
	}

	upTmpl, downTmpl := tableUpTemplate, tableDownTemplate
	if strings.HasPrefix(base, "mv_") {
		mf.View = base
		upTmpl, downTmpl = viewUpTemplate, viewDownTemplate
	}

	if err := writeTemplate(mf.UpPath, upTmpl, mf); err != nil {
		return nil, fmt.Errorf("failed to create up migration: %w", err)
	}
	if err := writeTemplate(mf.DownPath, downTmpl, mf); err != nil {
		_ = os.Remove(mf.UpPath)
		return nil, fmt.Errorf("failed to create down migration: %w", err)
	}
	return mf, nil
}

func writeTemplate(path, content string, data *MigrationFile) error {
	tmpl, err := template.New("migration").Parse(content)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", path, err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

// sanitizeName lower-cases name and keeps only [a-z0-9_]
func sanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, c := range strings.ToLower(name) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == ' ' || c == '-' || c == '_':
			if s := b.String(); len(s) > 0 && s[len(s)-1] != '_' {
				b.WriteByte('_')
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// ListMigrations returns the base names of every up migration in version order
func ListMigrations(migrationsDir string) ([]string, error) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	names := make([]string, 0, len(entries)/2)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), upSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), upSuffix))
	}
	sort.Strings(names)
	return names, nil
}

// MissingDownFiles returns up migrations with no matching rollback file
func MissingDownFiles(migrationsDir string) ([]string, error) {
	names, err := ListMigrations(migrationsDir)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, n := range names {
		if _, err := os.Stat(filepath.Join(migrationsDir, n+downSuffix)); os.IsNotExist(err) {
			missing = append(missing, n)
		}
	}
	return missing, nil
}

var (
	createViewPattern  = regexp.MustCompile(`(?i)CREATE\s+MATERIALIZED\s+VIEW\s+(?:IF\s+NOT\s+EXISTS\s+)?([a-z0-9_]+)`)
	uniqueIndexPattern = regexp.MustCompile(`(?i)CREATE\s+UNIQUE\s+INDEX\s+(?:IF\s+NOT\s+EXISTS\s+)?[a-z0-9_]+\s+ON\s+([a-z0-9_]+)`)
)

// ViewsWithoutUniqueIndex scans the up migrations for materialized views that
// never receive a unique index. Such a view cannot be refreshed concurrently.
func ViewsWithoutUniqueIndex(migrationsDir string) ([]string, error) {
	views, indexed, err := scanViews(migrationsDir)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, v := range views {
		if !indexed[v] {
			missing = append(missing, v)
		}
	}
	return missing, nil
}

// DefinedViews returns every materialized view created by the up migrations
func DefinedViews(migrationsDir string) ([]string, error) {
	views, _, err := scanViews(migrationsDir)
	return views, err
}

func scanViews(migrationsDir string) ([]string, map[string]bool, error) {
	names, err := ListMigrations(migrationsDir)
	if err != nil {
		return nil, nil, err
	}

	var views []string
	seen := make(map[string]bool)
	indexed := make(map[string]bool)
	for _, n := range names {
		content, err := os.ReadFile(filepath.Join(migrationsDir, n+upSuffix))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", n, err)
		}
		for _, m := range createViewPattern.FindAllStringSubmatch(string(content), -1) {
			v := strings.ToLower(m[1])
			if !seen[v] {
				seen[v] = true
				views = append(views, v)
			}
		}
		for _, m := range uniqueIndexPattern.FindAllStringSubmatch(string(content), -1) {
			indexed[strings.ToLower(m[1])] = true
		}
	}
	return views, indexed, nil
}
