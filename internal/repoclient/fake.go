package repoclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/passrepo/depositorch/internal/model"
)

// Fake is an in-memory Client used by tests in place of a real HTTP backend:
// a plain struct asserted against directly with stretchr/testify, not a
// generated mock.
type Fake struct {
	mu       sync.Mutex
	seq      int
	records  map[string]*fakeRecord
	incoming map[string]map[string][]string
	attrIdx  map[model.EntityType]map[string]map[string][]string // type -> attr -> value -> ids

	// ConflictsRemaining, when >0, forces that many additional
	// UpdateAndRead calls for any id to fail with ErrConflict before
	// succeeding — used to exercise CSE's bounded retry (spec.md §8
	// property 6).
	ConflictsRemaining int
}

type fakeRecord struct {
	entityType model.EntityType
	etag       int
	body       json.RawMessage
}

// NewFake constructs an empty Fake repository.
func NewFake() *Fake {
	return &Fake{
		records:  make(map[string]*fakeRecord),
		incoming: make(map[string]map[string][]string),
		attrIdx:  make(map[model.EntityType]map[string]map[string][]string),
	}
}

func etagString(n int) string { return strconv.Itoa(n) }

// Seed inserts an entity directly, bypassing Create, for test setup.
func (f *Fake) Seed(id string, entityType model.EntityType, entity any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, _ := json.Marshal(entity)
	f.records[id] = &fakeRecord{entityType: entityType, etag: 1, body: body}
}

// SeedIncoming registers relation -> ids for Incoming(parentID).
func (f *Fake) SeedIncoming(parentID, relation string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.incoming[parentID]
	if !ok {
		m = make(map[string][]string)
		f.incoming[parentID] = m
	}
	m[relation] = append(m[relation], ids...)
}

func (f *Fake) Read(_ context.Context, id string, entityType model.EntityType, out any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return "", ErrNotFound
	}
	if err := json.Unmarshal(rec.body, out); err != nil {
		return "", fmt.Errorf("fake: decode %s: %w", id, err)
	}
	return etagString(rec.etag), nil
}

func (f *Fake) Create(_ context.Context, entityType model.EntityType, in any, out any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	id := fmt.Sprintf("%s-%d", entityType, f.seq)

	body, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("fake: encode %s: %w", entityType, err)
	}
	// Stamp the assigned id into the JSON body under "id" so decoding into
	// out recovers it, mirroring a server-assigned identifier.
	var generic map[string]any
	if err := json.Unmarshal(body, &generic); err != nil {
		return "", fmt.Errorf("fake: re-decode %s: %w", entityType, err)
	}
	generic["id"] = id
	body, _ = json.Marshal(generic)

	f.records[id] = &fakeRecord{entityType: entityType, etag: 1, body: body}
	f.indexAttributesLocked(entityType, id, generic)

	if err := json.Unmarshal(body, out); err != nil {
		return "", fmt.Errorf("fake: decode created %s: %w", entityType, err)
	}
	return etagString(1), nil
}

// indexAttributesLocked registers every string-valued top-level field of
// generic for FindByAttribute, mimicking a real server's attribute index.
// Callers must already hold f.mu.
func (f *Fake) indexAttributesLocked(entityType model.EntityType, id string, generic map[string]any) {
	byAttr, ok := f.attrIdx[entityType]
	if !ok {
		byAttr = make(map[string]map[string][]string)
		f.attrIdx[entityType] = byAttr
	}
	for attr, v := range generic {
		value, ok := v.(string)
		if !ok {
			continue
		}
		byVal, ok := byAttr[attr]
		if !ok {
			byVal = make(map[string][]string)
			byAttr[attr] = byVal
		}
		byVal[value] = append(byVal[value], id)
	}
}

func (f *Fake) UpdateAndRead(_ context.Context, id string, entityType model.EntityType, etag string, in any, out any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ConflictsRemaining > 0 {
		f.ConflictsRemaining--
		return "", ErrConflict
	}

	rec, ok := f.records[id]
	if !ok {
		return "", ErrNotFound
	}
	if etagString(rec.etag) != etag {
		return "", ErrConflict
	}

	body, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("fake: encode update %s: %w", id, err)
	}
	rec.etag++
	rec.body = body

	if err := json.Unmarshal(body, out); err != nil {
		return "", fmt.Errorf("fake: decode updated %s: %w", id, err)
	}
	return etagString(rec.etag), nil
}

func (f *Fake) Incoming(_ context.Context, id string) (map[string][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]string)
	for relation, ids := range f.incoming[id] {
		out[relation] = append([]string(nil), ids...)
	}
	return out, nil
}

func (f *Fake) FindByAttribute(_ context.Context, entityType model.EntityType, attr, value string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byAttr, ok := f.attrIdx[entityType]
	if !ok {
		return nil, nil
	}
	byVal, ok := byAttr[attr]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), byVal[value]...), nil
}

// IndexAttribute registers an (entityType, attr, value) -> id mapping for
// FindByAttribute to serve; tests call this after seeding records.
func (f *Fake) IndexAttribute(entityType model.EntityType, attr, value, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byAttr, ok := f.attrIdx[entityType]
	if !ok {
		byAttr = make(map[string]map[string][]string)
		f.attrIdx[entityType] = byAttr
	}
	byVal, ok := byAttr[attr]
	if !ok {
		byVal = make(map[string][]string)
		byAttr[attr] = byVal
	}
	byVal[value] = append(byVal[value], id)
}

// ETagOf exposes the current ETag for id, for test assertions.
func (f *Fake) ETagOf(id string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return "", false
	}
	return etagString(rec.etag), true
}

var _ Client = (*Fake)(nil)
