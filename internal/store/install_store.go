package store

import (
	"database/sql"
	"errors"
	"time"
)

// InstallRecord tracks the last successful install of a plugin.
type InstallRecord struct {
	ID          int64     `json:"id"`
	PluginID    string    `json:"plugin_id"`
	Version     string    `json:"version"`
	OriginURL   string    `json:"origin_url"`
	Verified    bool      `json:"verified"`
	Digest      string    `json:"digest"`
	InstalledAt time.Time `json:"installed_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GetInstallRecord returns the install record of a plugin.
// It returns sql.ErrNoRows when the plugin was never recorded.
func (s *Store) GetInstallRecord(pluginID string) (*InstallRecord, error) {
	var rec InstallRecord
	err := s.db.QueryRow(`
		SELECT id, plugin_id, version, origin_url, verified, digest, installed_at, updated_at
		FROM installed_plugins
		WHERE plugin_id = ?
	`, pluginID).Scan(
		&rec.ID,
		&rec.PluginID,
		&rec.Version,
		&rec.OriginURL,
		&rec.Verified,
		&rec.Digest,
		&rec.InstalledAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// RecordInstall creates or updates the install record of a plugin.
func (s *Store) RecordInstall(pluginID, version, originURL string, verified bool, digest string) error {
	existing, err := s.GetInstallRecord(pluginID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if existing != nil {
		_, err = s.db.Exec(`
			UPDATE installed_plugins
			SET version = ?, origin_url = ?, verified = ?, digest = ?, updated_at = CURRENT_TIMESTAMP
			WHERE plugin_id = ?
		`, version, originURL, verified, digest, pluginID)
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO installed_plugins (plugin_id, version, origin_url, verified, digest, installed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, pluginID, version, originURL, verified, digest)
	return err
}

// DeleteInstallRecord removes the install record of a plugin.
func (s *Store) DeleteInstallRecord(pluginID string) error {
	_, err := s.db.Exec(`DELETE FROM installed_plugins WHERE plugin_id = ?`, pluginID)
	return err
}

// ListInstallRecords returns all install records, most recently updated first.
func (s *Store) ListInstallRecords() ([]*InstallRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, plugin_id, version, origin_url, verified, digest, installed_at, updated_at
		FROM installed_plugins
		ORDER BY updated_at DESC, plugin_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*InstallRecord, 0)
	for rows.Next() {
		var rec InstallRecord
		err := rows.Scan(
			&rec.ID,
			&rec.PluginID,
			&rec.Version,
			&rec.OriginURL,
			&rec.Verified,
			&rec.Digest,
			&rec.InstalledAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}

	return records, rows.Err()
}
