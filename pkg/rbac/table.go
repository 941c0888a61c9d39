package rbac

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/agora/pkg/observability"
)

// tableKey identifies one row of the permission table
type tableKey struct {
	tenantID int64
	roleID   string
	perm     Permission
}

// tableFile is the on-disk layout of a permission file:
//
//	defaults:
//	  member: ["post:create", "post:read"]
//	organizations:
//	  10:
//	    moderator: ["post:moderate"]
//	    member: ["!post:create"]
//
// Defaults apply to every organization. A leading "!" records an explicit
// denial, which overrides the default for that organization only.
type tableFile struct {
	Defaults      map[string][]string           `yaml:"defaults"`
	Organizations map[int64]map[string][]string `yaml:"organizations"`
}

type tableData struct {
	rows     map[tableKey]bool
	defaults map[tableKey]bool
}

// Table is an in-memory Lookup whose contents can be swapped atomically.
type Table struct {
	data atomic.Pointer[tableData]
}

// NewTable creates a table holding rows
func NewTable(rows []RolePermission) *Table {
	t := &Table{}
	t.Replace(rows)
	return t
}

// NewDefaultTable creates a table granting BuiltInGrants in every tenant
func NewDefaultTable() *Table {
	t := &Table{}
	t.data.Store(&tableData{rows: map[tableKey]bool{}, defaults: defaultsFrom(BuiltInGrants())})
	return t
}

// Replace swaps the table contents for rows
func (t *Table) Replace(rows []RolePermission) {
	d := &tableData{rows: make(map[tableKey]bool, len(rows)), defaults: map[tableKey]bool{}}
	for _, r := range rows {
		d.rows[tableKey{r.TenantID, r.RoleID, r.Permission()}] = r.Allowed
	}
	t.data.Store(d)
}

// Allowed implements Lookup. Tenant rows win over defaults.
func (t *Table) Allowed(_ context.Context, tenantID int64, roleID string, resource Resource, action Action) (bool, error) {
	d := t.data.Load()
	if d == nil {
		return false, nil
	}
	perm := Permission{Resource: resource, Action: action}
	if allowed, ok := d.rows[tableKey{tenantID, roleID, perm}]; ok {
		return allowed, nil
	}
	return d.defaults[tableKey{0, roleID, perm}], nil
}

// Len returns the number of tenant rows and default rows
func (t *Table) Len() int {
	d := t.data.Load()
	if d == nil {
		return 0
	}
	return len(d.rows) + len(d.defaults)
}

func defaultsFrom(grants map[string][]Permission) map[tableKey]bool {
	out := make(map[tableKey]bool)
	for role, perms := range grants {
		for _, p := range perms {
			out[tableKey{0, role, p}] = true
		}
	}
	return out
}

// LoadFile replaces the table contents with the permission file at path.
// On error the current contents are kept.
func (t *Table) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read permission file: %w", err)
	}
	var f tableFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse permission file: %w", err)
	}

	d := &tableData{rows: map[tableKey]bool{}, defaults: map[tableKey]bool{}}
	for role, perms := range f.Defaults {
		for _, s := range perms {
			p, allowed, err := parseEntry(s)
			if err != nil {
				return fmt.Errorf("defaults.%s: %w", role, err)
			}
			d.defaults[tableKey{0, role, p}] = allowed
		}
	}
	for orgID, roles := range f.Organizations {
		if orgID <= 0 {
			return fmt.Errorf("organizations: invalid id %d", orgID)
		}
		for role, perms := range roles {
			for _, s := range perms {
				p, allowed, err := parseEntry(s)
				if err != nil {
					return fmt.Errorf("organizations.%d.%s: %w", orgID, role, err)
				}
				d.rows[tableKey{orgID, role, p}] = allowed
			}
		}
	}
	t.data.Store(d)
	return nil
}

func parseEntry(s string) (Permission, bool, error) {
	allowed := true
	if len(s) > 0 && s[0] == '!' {
		allowed = false
		s = s[1:]
	}
	p, err := ParsePermission(s)
	return p, allowed, err
}

// WatchFile reloads the table whenever the file at path changes, until ctx
// is cancelled. Reload failures are logged and the previous contents kept.
// The parent directory is watched so editors that replace the file are seen.
// onReload, when not nil, runs after every successful reload.
func (t *Table) WatchFile(ctx context.Context, path string, logger *observability.Logger, onReload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	go func() {
		defer watcher.Close()
		defer observability.RecoverPanic(logger, "permission file watcher")

		target := filepath.Clean(path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				if err := t.LoadFile(path); err != nil {
					logger.WithError(err).WithField("path", path).Warn("Failed to reload permission file")
					continue
				}
				logger.WithField("path", path).WithField("rows", t.Len()).Info("Reloaded permission file")
				if onReload != nil {
					onReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Permission file watcher error")
			}
		}
	}()
	return nil
}
