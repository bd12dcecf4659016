package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/energymon-server/energymon-server/internal/models"
)

// ========== Firmware Methods ==========
//
// The firmware methods double as the manifest source for the OTA
// session manager: LatestVersion, GetManifest and GetFirmwareChunk
// satisfy its ManifestStore interface.

// CreateFirmwareImage stores a published firmware image with its
// manifest. The manifest's size and chunk count are derived from the
// image itself.
func (s *PostgresStore) CreateFirmwareImage(ctx context.Context, manifest *models.FirmwareManifest, image []byte) error {
	if manifest.ChunkSize <= 0 {
		return ErrInvalidData
	}

	manifest.SizeBytes = int64(len(image))
	manifest.TotalChunks = (len(image) + manifest.ChunkSize - 1) / manifest.ChunkSize
	manifest.CreatedAt = time.Now()

	query := `
        INSERT INTO firmware_images (
            version, sha256_hash, signature, iv, chunk_size, total_chunks,
            size_bytes, created_at, image
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		manifest.Version, manifest.SHA256Hash, manifest.Signature, manifest.IV,
		manifest.ChunkSize, manifest.TotalChunks, manifest.SizeBytes,
		manifest.CreatedAt, image,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// LatestVersion returns the most recently published firmware version,
// or "" when none exists.
func (s *PostgresStore) LatestVersion(ctx context.Context) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx,
		"SELECT version FROM firmware_images ORDER BY created_at DESC LIMIT 1",
	).Scan(&version)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	return version, nil
}

// GetManifest gets a firmware manifest by version
func (s *PostgresStore) GetManifest(ctx context.Context, version string) (*models.FirmwareManifest, error) {
	query := `
        SELECT version, sha256_hash, signature, iv, chunk_size, total_chunks,
               size_bytes, created_at
        FROM firmware_images
        WHERE version = $1`

	manifest := &models.FirmwareManifest{}
	err := s.db.QueryRowContext(ctx, query, version).Scan(
		&manifest.Version, &manifest.SHA256Hash, &manifest.Signature,
		&manifest.IV, &manifest.ChunkSize, &manifest.TotalChunks,
		&manifest.SizeBytes, &manifest.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return manifest, nil
}

// GetFirmwareChunk slices one chunk out of the stored image. The chunk
// index is 0-based; postgres substring positions are 1-based. The final
// chunk may be short.
func (s *PostgresStore) GetFirmwareChunk(ctx context.Context, version string, index int) ([]byte, error) {
	query := `
        SELECT substring(image FROM $2::int FOR $3::int)
        FROM firmware_images
        WHERE version = $1`

	var chunkSize int
	err := s.db.QueryRowContext(ctx,
		"SELECT chunk_size FROM firmware_images WHERE version = $1", version,
	).Scan(&chunkSize)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var chunk []byte
	err = s.db.QueryRowContext(ctx, query, version, index*chunkSize+1, chunkSize).Scan(&chunk)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return chunk, nil
}

// ListManifests lists all published firmware manifests, newest first
func (s *PostgresStore) ListManifests(ctx context.Context) ([]*models.FirmwareManifest, error) {
	query := `
        SELECT version, sha256_hash, signature, iv, chunk_size, total_chunks,
               size_bytes, created_at
        FROM firmware_images
        ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var manifests []*models.FirmwareManifest
	for rows.Next() {
		manifest := &models.FirmwareManifest{}
		err := rows.Scan(
			&manifest.Version, &manifest.SHA256Hash, &manifest.Signature,
			&manifest.IV, &manifest.ChunkSize, &manifest.TotalChunks,
			&manifest.SizeBytes, &manifest.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, manifest)
	}

	return manifests, rows.Err()
}

// DeleteFirmwareImage deletes a firmware image by version
func (s *PostgresStore) DeleteFirmwareImage(ctx context.Context, version string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM firmware_images WHERE version = $1", version)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}
