package world

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ChunkSize is the edge length of a chunk in world units. Positions map to
// chunk coordinates by floor division.
const ChunkSize = 16

// ChunkCoord identifies one fixed-size spatial partition of a world.
// It is comparable and used directly as a map key and set element.
type ChunkCoord struct {
	CX int `json:"cx"`
	CZ int `json:"cz"`
}

// ChunkAt returns the chunk containing the given world position.
func ChunkAt(x, z float64) ChunkCoord {
	return ChunkCoord{
		CX: int(math.Floor(x / ChunkSize)),
		CZ: int(math.Floor(z / ChunkSize)),
	}
}

// Key returns the "cx:cz" form used for chunk rows and log fields.
func (c ChunkCoord) Key() string {
	return strconv.Itoa(c.CX) + ":" + strconv.Itoa(c.CZ)
}

func (c ChunkCoord) String() string {
	return "(" + c.Key() + ")"
}

// ParseChunkKey parses a "cx:cz" key back into a coordinate.
func ParseChunkKey(key string) (ChunkCoord, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 2 {
		return ChunkCoord{}, fmt.Errorf("invalid chunk key format: %s", key)
	}
	cx, err := strconv.Atoi(parts[0])
	if err != nil {
		return ChunkCoord{}, fmt.Errorf("invalid cx in chunk key %s: %w", key, err)
	}
	cz, err := strconv.Atoi(parts[1])
	if err != nil {
		return ChunkCoord{}, fmt.Errorf("invalid cz in chunk key %s: %w", key, err)
	}
	return ChunkCoord{CX: cx, CZ: cz}, nil
}

// ChunkRef is a chunk coordinate as it appears in client payloads. Clients are
// inconsistent about field naming: chunk registration and queries send {x,z},
// effect events send either {x,z} or {cx,cz}. Both forms decode to the same
// coordinate.
type ChunkRef struct {
	Coord ChunkCoord
}

// UnmarshalJSON accepts {"x":..,"z":..} and {"cx":..,"cz":..} interchangeably.
func (r *ChunkRef) UnmarshalJSON(data []byte) error {
	var raw struct {
		X  *int `json:"x"`
		Z  *int `json:"z"`
		CX *int `json:"cx"`
		CZ *int `json:"cz"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.CX != nil && raw.CZ != nil:
		r.Coord = ChunkCoord{CX: *raw.CX, CZ: *raw.CZ}
	case raw.X != nil && raw.Z != nil:
		r.Coord = ChunkCoord{CX: *raw.X, CZ: *raw.Z}
	default:
		return fmt.Errorf("chunk reference missing coordinates: %s", string(data))
	}
	return nil
}

// MarshalJSON always emits the canonical {cx,cz} form.
func (r ChunkRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Coord)
}

// Coords extracts the plain coordinates from a slice of client references.
func Coords(refs []ChunkRef) []ChunkCoord {
	if len(refs) == 0 {
		return nil
	}
	out := make([]ChunkCoord, len(refs))
	for i, r := range refs {
		out[i] = r.Coord
	}
	return out
}

// DedupCoords returns the unique coordinates of the input, preserving first
// occurrence order.
func DedupCoords(coords []ChunkCoord) []ChunkCoord {
	if len(coords) == 0 {
		return nil
	}
	seen := make(map[ChunkCoord]struct{}, len(coords))
	out := make([]ChunkCoord, 0, len(coords))
	for _, c := range coords {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
