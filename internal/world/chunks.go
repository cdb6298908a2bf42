package world

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ChunkTransfer is the client-facing chunk representation carried in c.u
// messages, both as a direct c.q reply and as a bus-driven push.
type ChunkTransfer struct {
	CX      int             `json:"cx"`
	CZ      int             `json:"cz"`
	Blocks  json.RawMessage `json:"b,omitempty"`
	Palette []string        `json:"i,omitempty"`
	Version int             `json:"v,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
}

// defaultBlocks is the block payload of a freshly generated chunk.
var defaultBlocks = json.RawMessage(`[]`)

// ChunkStorage handles chunk persistence in PostgreSQL.
type ChunkStorage struct {
	db *sql.DB
}

// NewChunkStorage creates a new chunk storage instance.
func NewChunkStorage(db *sql.DB) *ChunkStorage {
	return &ChunkStorage{db: db}
}

// Load retrieves a chunk for a world. When the chunk does not exist and
// createIfAbsent is set, a default chunk is generated, stored, and returned;
// otherwise Load returns (nil, nil) for a missing chunk.
func (s *ChunkStorage) Load(worldID string, coord ChunkCoord, createIfAbsent bool) (*ChunkTransfer, error) {
	if worldID == "" {
		return nil, fmt.Errorf("worldID is required")
	}

	var blocks sql.NullString
	var palette []string
	var version int

	query := `
		SELECT blocks, palette, version
		FROM chunks
		WHERE world_id = $1 AND cx = $2 AND cz = $3
	`
	err := s.db.QueryRow(query, worldID, coord.CX, coord.CZ).Scan(&blocks, pq.Array(&palette), &version)
	if err == sql.ErrNoRows {
		if !createIfAbsent {
			return nil, nil
		}
		return s.createDefault(worldID, coord)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk %s/%s: %w", worldID, coord.Key(), err)
	}

	transfer := &ChunkTransfer{
		CX:      coord.CX,
		CZ:      coord.CZ,
		Palette: palette,
		Version: version,
	}
	if blocks.Valid {
		transfer.Blocks = json.RawMessage(blocks.String)
	}
	return transfer, nil
}

// Save inserts or updates a chunk row, bumping the version on update.
func (s *ChunkStorage) Save(worldID string, transfer *ChunkTransfer) error {
	if transfer == nil {
		return fmt.Errorf("transfer cannot be nil")
	}
	if worldID == "" {
		return fmt.Errorf("worldID is required")
	}

	blocks := transfer.Blocks
	if blocks == nil {
		blocks = defaultBlocks
	}

	query := `
		INSERT INTO chunks (world_id, cx, cz, blocks, palette, version, last_modified)
		VALUES ($1, $2, $3, $4, $5, 1, $6)
		ON CONFLICT (world_id, cx, cz)
		DO UPDATE SET
			blocks = $4,
			palette = $5,
			version = chunks.version + 1,
			last_modified = $6
	`
	_, err := s.db.Exec(query, worldID, transfer.CX, transfer.CZ,
		string(blocks), pq.Array(transfer.Palette), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save chunk %s/%d:%d: %w", worldID, transfer.CX, transfer.CZ, err)
	}
	return nil
}

// Delete removes a chunk row. Deleting a missing chunk is not an error.
func (s *ChunkStorage) Delete(worldID string, coord ChunkCoord) error {
	if worldID == "" {
		return fmt.Errorf("worldID is required")
	}
	query := `DELETE FROM chunks WHERE world_id = $1 AND cx = $2 AND cz = $3`
	if _, err := s.db.Exec(query, worldID, coord.CX, coord.CZ); err != nil {
		return fmt.Errorf("failed to delete chunk %s/%s: %w", worldID, coord.Key(), err)
	}
	return nil
}

// createDefault generates and persists an empty chunk, returning its transfer
// form. Races with a concurrent generator collapse onto the existing row.
func (s *ChunkStorage) createDefault(worldID string, coord ChunkCoord) (*ChunkTransfer, error) {
	query := `
		INSERT INTO chunks (world_id, cx, cz, blocks, palette, version, last_modified)
		VALUES ($1, $2, $3, $4, $5, 1, $6)
		ON CONFLICT (world_id, cx, cz) DO NOTHING
	`
	_, err := s.db.Exec(query, worldID, coord.CX, coord.CZ,
		string(defaultBlocks), pq.Array([]string{}), time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to create default chunk %s/%s: %w", worldID, coord.Key(), err)
	}

	return &ChunkTransfer{
		CX:      coord.CX,
		CZ:      coord.CZ,
		Blocks:  defaultBlocks,
		Version: 1,
	}, nil
}
