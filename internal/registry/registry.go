// Package registry implements the Packager Registry (spec.md §4.3): a
// read-only-after-startup map from a configured target repository to its
// Assembler options, Transport binding, and status interpreter, with a
// four-way key-resolution strategy (full identifier, short key, trailing
// path segment, recursive suffix).
//
// Targets are loaded from YAML via gopkg.in/yaml.v3, with an optional
// fsnotify watch for local-file hot reload. The registry's exported Lookup
// method never blocks on reload — a reload swaps the whole map atomically
// behind an atomic.Pointer.
package registry

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// AssemblerConfig names the Assembler implementation and its options for one
// target (spec.md §4.3).
type AssemblerConfig struct {
	Name     string            `yaml:"name"`
	Archive  string            `yaml:"archive"`  // "tar" or "zip"
	Compress bool              `yaml:"compress"` // gzip the tar stream
	Checksum string            `yaml:"checksum"` // "sha256" or "md5"
	SpecID   string            `yaml:"specId"`
	Options  map[string]string `yaml:"options"`
}

// TransportConfig names the Transport binding and connection parameters for
// one target (spec.md §4.3).
type TransportConfig struct {
	Protocol             string `yaml:"protocol"` // "sword", "ftp", "filesystem"
	Host                 string `yaml:"host"`
	Port                 int    `yaml:"port"`
	TransferMode         string `yaml:"transferMode"` // e.g. "binary"
	Passive              bool   `yaml:"passive"`
	BaseDirectory        string `yaml:"baseDirectory"`
	ServiceDocumentURL   string `yaml:"serviceDocumentUrl"`
	DefaultCollectionURL string `yaml:"defaultCollectionUrl"`
	OnBehalfOf           string `yaml:"onBehalfOf"`
	UserAgent            string `yaml:"userAgent"`
	Username             string `yaml:"username"`
	Password             string `yaml:"password"`
	// StatusURLRewriteFrom and StatusURLRewriteTo, when From is non-empty,
	// form a prefix-replacement rule applied to receipt status-document URLs:
	// a URL starting with From has that prefix replaced by To (spec.md §4.4
	// CSE invocation 2).
	StatusURLRewriteFrom string `yaml:"statusUrlRewriteFrom"`
	StatusURLRewriteTo   string `yaml:"statusUrlRewriteTo"`
}

// TargetConfig is one configured target repository's full entry.
type TargetConfig struct {
	// Key is the short, human-chosen identifier for this target (e.g. "jscholarship").
	Key string `yaml:"key"`
	// ID is the full upstream identifier this target corresponds to (e.g. a URI).
	ID              string            `yaml:"id"`
	Assembler       AssemblerConfig   `yaml:"assembler"`
	Transport       TransportConfig   `yaml:"transport"`
	StatusProcessor string            `yaml:"statusProcessor"`
	StatusMapping   map[string]string `yaml:"statusMapping"`
}

// DefaultMappingKey is the statusMapping entry consulted when a target-native
// term has no explicit mapping (spec.md §4.3).
const DefaultMappingKey = "default-mapping"

// Document is the top-level shape of the registry's YAML configuration file.
type Document struct {
	Targets []TargetConfig `yaml:"targets"`
}

// Registry resolves a target repository reference to its TargetConfig using
// the four-way lookup spec.md §4.3 requires. Safe for concurrent use; Load
// swaps the active snapshot atomically.
type Registry struct {
	snapshot atomic.Pointer[snapshot]
}

type snapshot struct {
	byFullID []TargetConfig
	byKey    map[string]TargetConfig
	byID     map[string]TargetConfig
}

// New constructs an empty Registry; call Load before use.
func New() *Registry {
	r := &Registry{}
	r.snapshot.Store(&snapshot{byKey: map[string]TargetConfig{}, byID: map[string]TargetConfig{}})
	return r
}

// Load replaces the registry's contents with doc's targets, validating that
// no two targets share a key or id.
func (r *Registry) Load(doc Document) error {
	next := &snapshot{
		byFullID: append([]TargetConfig(nil), doc.Targets...),
		byKey:    make(map[string]TargetConfig, len(doc.Targets)),
		byID:     make(map[string]TargetConfig, len(doc.Targets)),
	}
	for _, t := range doc.Targets {
		if t.Key != "" {
			if _, dup := next.byKey[t.Key]; dup {
				return fmt.Errorf("registry: duplicate key %q", t.Key)
			}
			next.byKey[t.Key] = t
		}
		if t.ID != "" {
			if _, dup := next.byID[t.ID]; dup {
				return fmt.Errorf("registry: duplicate id %q", t.ID)
			}
			next.byID[t.ID] = t
		}
	}
	r.snapshot.Store(next)
	return nil
}

// Lookup resolves ref using the four key forms, in order: full identifier,
// short key, trailing path segment, recursive suffix. Returns ok=false on a
// miss — the caller treats a miss as a configuration failure, not transient
// (spec.md §4.2, §7).
func (r *Registry) Lookup(ref string) (TargetConfig, bool) {
	snap := r.snapshot.Load()

	if t, ok := snap.byID[ref]; ok {
		return t, true
	}
	if t, ok := snap.byKey[ref]; ok {
		return t, true
	}

	if seg := trailingSegment(ref); seg != "" && seg != ref {
		if t, ok := snap.byKey[seg]; ok {
			return t, true
		}
		if t, ok := snap.byID[seg]; ok {
			return t, true
		}
	}

	// Recursive suffix: the longest registered id/key that is a suffix of
	// ref, trying progressively shorter path suffixes.
	if t, ok := recursiveSuffixLookup(ref, snap); ok {
		return t, true
	}

	return TargetConfig{}, false
}

func trailingSegment(ref string) string {
	ref = strings.TrimRight(ref, "/")
	if idx := strings.LastIndex(ref, "/"); idx >= 0 {
		return ref[idx+1:]
	}
	return ref
}

// recursiveSuffixLookup walks path segments from the end, trying each
// shortening suffix ("a/b/c", "b/c", "c") against both indexes, so a target
// registered as "b/c" resolves a reference of "https://host/a/b/c".
func recursiveSuffixLookup(ref string, snap *snapshot) (TargetConfig, bool) {
	trimmed := strings.TrimRight(ref, "/")
	segments := strings.Split(trimmed, "/")
	for i := range segments {
		suffix := strings.Join(segments[i:], "/")
		if suffix == "" {
			continue
		}
		if t, ok := snap.byID[suffix]; ok {
			return t, true
		}
		if t, ok := snap.byKey[suffix]; ok {
			return t, true
		}
	}
	return TargetConfig{}, false
}

// MapStatus translates a target-native status term through cfg's
// statusMapping, falling back to DefaultMappingKey, per spec.md §4.3.
func MapStatus(cfg TargetConfig, nativeTerm string) string {
	if mapped, ok := cfg.StatusMapping[nativeTerm]; ok {
		return mapped
	}
	if mapped, ok := cfg.StatusMapping[DefaultMappingKey]; ok {
		return mapped
	}
	return ""
}
