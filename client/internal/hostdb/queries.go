package hostdb

import (
	"database/sql"
	"fmt"
	"time"
)

const defaultHistoryLimit = 50

// Installed returns the ledger entry for packageID, or nil when the
// package is not installed.
func (d *DB) Installed(packageID string) (*InstalledInfo, error) {
	query := `
		SELECT package_id, version_code, version_name, installer, installed_at
		FROM installed_packages
		WHERE package_id = ?
	`

	var info InstalledInfo
	var installedAt string

	err := d.db.QueryRow(query, packageID).Scan(
		&info.PackageID,
		&info.VersionCode,
		&info.VersionName,
		&info.Installer,
		&installedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query installed package %s: %w", packageID, err)
	}

	info.InstalledAt = parseTime(installedAt)
	return &info, nil
}

// List returns every ledger entry ordered by package id.
func (d *DB) List() ([]InstalledInfo, error) {
	query := `
		SELECT package_id, version_code, version_name, installer, installed_at
		FROM installed_packages
		ORDER BY package_id
	`

	rows, err := d.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list installed packages: %w", err)
	}
	defer rows.Close()

	var infos []InstalledInfo
	for rows.Next() {
		var info InstalledInfo
		var installedAt string

		if err := rows.Scan(&info.PackageID, &info.VersionCode, &info.VersionName, &info.Installer, &installedAt); err != nil {
			return nil, fmt.Errorf("failed to scan installed package: %w", err)
		}
		info.InstalledAt = parseTime(installedAt)
		infos = append(infos, info)
	}

	return infos, rows.Err()
}

// Apply records packageID as installed at the given version and dispatches
// an added or replaced event depending on whether the package was present
// before. The returned action tells which one was taken.
func (d *DB) Apply(packageID string, versionCode int64, versionName, installer string) (Action, error) {
	existing, err := d.Installed(packageID)
	if err != nil {
		return "", err
	}

	action := ActionAdded
	if existing != nil {
		action = ActionReplaced
	}

	now := time.Now().UTC()

	tx, err := d.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	upsert := `
		INSERT OR REPLACE INTO installed_packages (package_id, version_code, version_name, installer, installed_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := tx.Exec(upsert, packageID, versionCode, versionName, installer, now.Format(time.RFC3339)); err != nil {
		return "", fmt.Errorf("failed to record install of %s: %w", packageID, err)
	}

	if err := insertEvent(tx, packageID, action, versionCode, now); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit ledger transaction: %w", err)
	}

	d.notify(ChangeEvent{
		Action:      action,
		PackageID:   packageID,
		VersionCode: versionCode,
		VersionName: versionName,
	})
	return action, nil
}

// Remove drops packageID from the ledger and dispatches a removed event.
// Removing an absent package is a no-op without an event.
func (d *DB) Remove(packageID string) error {
	existing, err := d.Installed(packageID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	now := time.Now().UTC()

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(`DELETE FROM installed_packages WHERE package_id = ?`, packageID); err != nil {
		return fmt.Errorf("failed to remove %s from the ledger: %w", packageID, err)
	}

	if err := insertEvent(tx, packageID, ActionRemoved, existing.VersionCode, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger transaction: %w", err)
	}

	d.notify(ChangeEvent{
		Action:      ActionRemoved,
		PackageID:   packageID,
		VersionCode: existing.VersionCode,
		VersionName: existing.VersionName,
	})
	return nil
}

// History returns the most recent package change events, newest first.
// A non-positive limit applies the default of 50.
func (d *DB) History(limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	query := `
		SELECT id, package_id, action, version_code, occurred_at
		FROM package_events
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := d.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query package history: %w", err)
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var event EventRecord
		var action string
		var occurredAt string

		if err := rows.Scan(&event.ID, &event.PackageID, &action, &event.VersionCode, &occurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan package event: %w", err)
		}
		event.Action = Action(action)
		event.OccurredAt = parseTime(occurredAt)
		events = append(events, event)
	}

	return events, rows.Err()
}

func insertEvent(tx *sql.Tx, packageID string, action Action, versionCode int64, at time.Time) error {
	query := `
		INSERT INTO package_events (package_id, action, version_code, occurred_at)
		VALUES (?, ?, ?, ?)
	`

	if _, err := tx.Exec(query, packageID, string(action), versionCode, at.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to record %s event for %s: %w", action, packageID, err)
	}
	return nil
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
