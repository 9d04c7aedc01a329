package npm

import (
	"encoding/json"
	"testing"
)

// rawDocument mimics a registry response with plenty of fields this tool
// does not track.
const rawDocument = `{
	"_id": "@types/node",
	"name": "@types/node",
	"description": "TypeScript definitions for node",
	"maintainers": [{"name": "types", "email": "ts@example.org"}],
	"version": "20.1.0",
	"dist-tags": {"latest": "20.1.0", "ts4.9": "18.11.0"},
	"versions": {
		"20.1.0": {
			"name": "@types/node",
			"license": "MIT",
			"dependencies": {"undici-types": "~5.26.4"},
			"typesPublisherContentHash": "abc123",
			"dist": {"shasum": "deadbeef"}
		},
		"18.11.0": {
			"typesPublisherContentHash": "def456",
			"deprecated": "superseded by newer definitions"
		}
	},
	"time": {
		"created": "2016-01-01T00:00:00.000Z",
		"modified": "2024-05-01T12:00:00.000Z",
		"20.1.0": "2024-05-01T12:00:00.000Z"
	},
	"readme": "..."
}`

func TestUnmarshalDropsUntrackedFields(t *testing.T) {
	var info Info
	if err := json.Unmarshal([]byte(rawDocument), &info); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if info.Version != "20.1.0" {
		t.Errorf("Version = %q, want %q", info.Version, "20.1.0")
	}
	if info.DistTags["latest"] != "20.1.0" || info.DistTags["ts4.9"] != "18.11.0" {
		t.Errorf("DistTags = %v", info.DistTags)
	}
	if info.TimeModified != "2024-05-01T12:00:00.000Z" {
		t.Errorf("TimeModified = %q", info.TimeModified)
	}

	v, ok := info.Versions["20.1.0"]
	if !ok {
		t.Fatal("missing version 20.1.0")
	}
	if v.TypesPublisherContentHash != "abc123" {
		t.Errorf("TypesPublisherContentHash = %q, want abc123", v.TypesPublisherContentHash)
	}
	if v.Deprecated != "" {
		t.Errorf("Deprecated = %q, want empty", v.Deprecated)
	}

	old, ok := info.Versions["18.11.0"]
	if !ok {
		t.Fatal("missing version 18.11.0")
	}
	if old.Deprecated != "superseded by newer definitions" {
		t.Errorf("Deprecated = %q", old.Deprecated)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	var info Info
	if err := json.Unmarshal([]byte(rawDocument), &info); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	encoded, err := json.Marshal(info)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	// The wire shape carries exactly the four tracked keys.
	var wire map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &wire); err != nil {
		t.Fatalf("reparsing marshaled info: %v", err)
	}
	for _, key := range []string{"version", "dist-tags", "versions", "time"} {
		if _, ok := wire[key]; !ok {
			t.Errorf("marshaled info missing key %q", key)
		}
	}
	if len(wire) != 4 {
		t.Errorf("marshaled info has %d keys, want 4: %v", len(wire), wire)
	}

	// Decoding the marshaled form again preserves everything tracked.
	var again Info
	if err := json.Unmarshal(encoded, &again); err != nil {
		t.Fatalf("Unmarshal of marshaled info failed: %v", err)
	}
	if again.Version != info.Version || again.TimeModified != info.TimeModified {
		t.Errorf("round trip changed scalars: %+v vs %+v", again, info)
	}
	if len(again.Versions) != len(info.Versions) || len(again.DistTags) != len(info.DistTags) {
		t.Errorf("round trip changed map sizes")
	}
	if again.Versions["18.11.0"].Deprecated != info.Versions["18.11.0"].Deprecated {
		t.Errorf("round trip lost deprecation message")
	}
}

func TestContainsHash(t *testing.T) {
	info := Info{
		Versions: map[string]VersionInfo{
			"1.0.0": {TypesPublisherContentHash: "aaa"},
			"1.0.1": {TypesPublisherContentHash: "bbb", Deprecated: "old"},
		},
	}

	if !info.ContainsHash("bbb") {
		t.Error("ContainsHash(bbb) = false, want true")
	}
	if info.ContainsHash("ccc") {
		t.Error("ContainsHash(ccc) = true, want false")
	}
	if info.ContainsHash("") {
		t.Error("ContainsHash of empty string matched a version")
	}
}
