// Package npm provides read and write clients for the npm registry,
// including a persistent metadata cache with content-hash invalidation.
package npm

import "encoding/json"

// infoRaw is the slice of the registry's package document that this tool
// tracks. Decoding through it drops every other upstream field.
type infoRaw struct {
	Version  string                `json:"version"`
	DistTags map[string]string     `json:"dist-tags"`
	Versions map[string]versionRaw `json:"versions"`
	Time     timeRaw               `json:"time"`
}

type versionRaw struct {
	TypesPublisherContentHash string `json:"typesPublisherContentHash,omitempty"`
	Deprecated                string `json:"deprecated,omitempty"`
}

type timeRaw struct {
	Modified string `json:"modified,omitempty"`
}

// Info is normalized package metadata. It carries exactly four fields so that
// cached documents stay small and comparable; anything else the registry sends
// is stripped on decode.
type Info struct {
	Version      string
	DistTags     map[string]string
	Versions     map[string]VersionInfo
	TimeModified string
}

// VersionInfo describes one published version of a package.
type VersionInfo struct {
	// TypesPublisherContentHash fingerprints the contents that were published
	// as this version. Opaque; only compared for equality.
	TypesPublisherContentHash string

	// Deprecated holds the deprecation message, empty if the version is live.
	// Deprecated versions stay in the history but must not be treated as
	// installable.
	Deprecated string
}

func newInfo(raw *infoRaw) Info {
	info := Info{
		Version:      raw.Version,
		DistTags:     make(map[string]string, len(raw.DistTags)),
		Versions:     make(map[string]VersionInfo, len(raw.Versions)),
		TimeModified: raw.Time.Modified,
	}
	for tag, version := range raw.DistTags {
		info.DistTags[tag] = version
	}
	for version, v := range raw.Versions {
		info.Versions[version] = VersionInfo{
			TypesPublisherContentHash: v.TypesPublisherContentHash,
			Deprecated:                v.Deprecated,
		}
	}
	return info
}

func (i Info) raw() infoRaw {
	raw := infoRaw{
		Version:  i.Version,
		DistTags: make(map[string]string, len(i.DistTags)),
		Versions: make(map[string]versionRaw, len(i.Versions)),
		Time:     timeRaw{Modified: i.TimeModified},
	}
	for tag, version := range i.DistTags {
		raw.DistTags[tag] = version
	}
	for version, v := range i.Versions {
		raw.Versions[version] = versionRaw{
			TypesPublisherContentHash: v.TypesPublisherContentHash,
			Deprecated:                v.Deprecated,
		}
	}
	return raw
}

// ContainsHash reports whether any version of the package was published with
// the given content hash.
func (i Info) ContainsHash(contentHash string) bool {
	for _, v := range i.Versions {
		if v.TypesPublisherContentHash == contentHash {
			return true
		}
	}
	return false
}

// MarshalJSON encodes the info in the registry's wire shape, re-nesting the
// modification time under "time".
func (i Info) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.raw())
}

// UnmarshalJSON decodes a wire-shaped document, discarding untracked fields.
func (i *Info) UnmarshalJSON(data []byte) error {
	var raw infoRaw
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*i = newInfo(&raw)
	return nil
}
