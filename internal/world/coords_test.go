package world

import (
	"encoding/json"
	"testing"
)

func TestChunkAt(t *testing.T) {
	tests := []struct {
		name string
		x, z float64
		want ChunkCoord
	}{
		{"origin", 0, 0, ChunkCoord{0, 0}},
		{"inside first chunk", 15.9, 15.9, ChunkCoord{0, 0}},
		{"chunk boundary", 16, 16, ChunkCoord{1, 1}},
		{"negative position", -0.1, -0.1, ChunkCoord{-1, -1}},
		{"negative boundary", -16, -16, ChunkCoord{-1, -1}},
		{"below negative boundary", -16.1, -16.1, ChunkCoord{-2, -2}},
		{"mixed signs", 100, -33, ChunkCoord{6, -3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChunkAt(tt.x, tt.z)
			if got != tt.want {
				t.Errorf("ChunkAt(%v, %v) = %v, want %v", tt.x, tt.z, got, tt.want)
			}
		})
	}
}

func TestChunkKeyRoundTrip(t *testing.T) {
	coords := []ChunkCoord{{0, 0}, {6, -13}, {-1, -1}, {1000, 42}}
	for _, c := range coords {
		parsed, err := ParseChunkKey(c.Key())
		if err != nil {
			t.Fatalf("ParseChunkKey(%q) failed: %v", c.Key(), err)
		}
		if parsed != c {
			t.Errorf("ParseChunkKey(%q) = %v, want %v", c.Key(), parsed, c)
		}
	}
}

func TestParseChunkKey_Invalid(t *testing.T) {
	for _, key := range []string{"", "5", "a:b", "1:2:3"} {
		if _, err := ParseChunkKey(key); err == nil {
			t.Errorf("ParseChunkKey(%q) expected error, got nil", key)
		}
	}
}

func TestChunkRef_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ChunkCoord
		wantErr bool
	}{
		{"short form", `{"x": 3, "z": -2}`, ChunkCoord{3, -2}, false},
		{"long form", `{"cx": 3, "cz": -2}`, ChunkCoord{3, -2}, false},
		{"long form wins over partial short", `{"cx": 1, "cz": 2, "x": 9}`, ChunkCoord{1, 2}, false},
		{"missing coordinates", `{"x": 3}`, ChunkCoord{}, true},
		{"empty object", `{}`, ChunkCoord{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ref ChunkRef
			err := json.Unmarshal([]byte(tt.input), &ref)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unmarshal %s failed: %v", tt.input, err)
			}
			if ref.Coord != tt.want {
				t.Errorf("got %v, want %v", ref.Coord, tt.want)
			}
		})
	}
}

func TestChunkRef_MarshalJSON(t *testing.T) {
	ref := ChunkRef{Coord: ChunkCoord{CX: 6, CZ: -13}}
	data, err := json.Marshal(ref)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"cx":6,"cz":-13}` {
		t.Errorf("unexpected marshal output: %s", data)
	}
}

func TestDedupCoords(t *testing.T) {
	in := []ChunkCoord{{1, 1}, {2, 2}, {1, 1}, {3, 3}, {2, 2}}
	got := DedupCoords(in)
	want := []ChunkCoord{{1, 1}, {2, 2}, {3, 3}}
	if len(got) != len(want) {
		t.Fatalf("DedupCoords returned %d coords, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("DedupCoords[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if DedupCoords(nil) != nil {
		t.Error("DedupCoords(nil) should be nil")
	}
}
