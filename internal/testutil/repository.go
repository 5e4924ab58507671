package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"linksync/internal/linksync"
)

// ProbeWrite records one SetBuilderProbe call.
type ProbeWrite struct {
	ItemID int64
	Probe  string
	Value  string
}

// MockContentRepository is an in-memory content repository for testing.
type MockContentRepository struct {
	items      map[int64]*linksync.ContentItem
	probes     map[int64]map[string]string
	categories map[int64]map[string][]int64
	terms      map[string][]linksync.Term
	overlay    map[int64][]linksync.OverlayField
	urls       map[string]int64

	// CategoryErr, when set, is returned by CategoryIDs.
	CategoryErr error

	ProbeWrites []ProbeWrite
}

// NewMockContentRepository creates an empty repository.
func NewMockContentRepository() *MockContentRepository {
	return &MockContentRepository{
		items:      make(map[int64]*linksync.ContentItem),
		probes:     make(map[int64]map[string]string),
		categories: make(map[int64]map[string][]int64),
		terms:      make(map[string][]linksync.Term),
		overlay:    make(map[int64][]linksync.OverlayField),
		urls:       make(map[string]int64),
	}
}

// AddItem stores an item. Missing fields get test defaults: post type,
// publish status and a URL derived from the ID.
func (m *MockContentRepository) AddItem(item linksync.ContentItem) *linksync.ContentItem {
	if item.Type == "" {
		item.Type = linksync.TypePost
	}
	if item.Status == "" {
		item.Status = string(linksync.StatusPublished)
	}
	if item.URL == "" {
		item.URL = fmt.Sprintf("https://example.com/?p=%d", item.ID)
	}
	if item.Title == "" {
		item.Title = fmt.Sprintf("Item %d", item.ID)
	}
	stored := item
	m.items[item.ID] = &stored
	m.urls[item.URL] = item.ID
	return &stored
}

// AddPost stores a published post with the given body.
func (m *MockContentRepository) AddPost(id int64, body string) *linksync.ContentItem {
	return m.AddItem(linksync.ContentItem{ID: id, Body: body})
}

// SetStatus changes the status of a stored item.
func (m *MockContentRepository) SetStatus(id int64, status string) {
	if item, ok := m.items[id]; ok {
		item.Status = status
	}
}

// Remove deletes an item permanently.
func (m *MockContentRepository) Remove(id int64) {
	delete(m.items, id)
}

// Item returns the stored item, or nil.
func (m *MockContentRepository) Item(id int64) *linksync.ContentItem {
	return m.items[id]
}

// SetProbe sets a builder probe value.
func (m *MockContentRepository) SetProbe(id int64, probe, value string) {
	if m.probes[id] == nil {
		m.probes[id] = make(map[string]string)
	}
	m.probes[id][probe] = value
}

// Probe returns a stored probe value.
func (m *MockContentRepository) Probe(id int64, probe string) (string, bool) {
	v, ok := m.probes[id][probe]
	return v, ok
}

// SetCategories assigns term ids of taxonomy to an item.
func (m *MockContentRepository) SetCategories(id int64, taxonomy string, ids ...int64) {
	if m.categories[id] == nil {
		m.categories[id] = make(map[string][]int64)
	}
	m.categories[id][taxonomy] = ids
}

// AddTerm stores a taxonomy term.
func (m *MockContentRepository) AddTerm(term linksync.Term) {
	m.terms[term.Taxonomy] = append(m.terms[term.Taxonomy], term)
}

// SetOverlay sets the overlay fields of an item.
func (m *MockContentRepository) SetOverlay(id int64, fields ...linksync.OverlayField) {
	m.overlay[id] = fields
}

// MapURL maps an extra URL to an item.
func (m *MockContentRepository) MapURL(url string, id int64) {
	m.urls[url] = id
}

func (m *MockContentRepository) GetBuilderProbe(_ context.Context, itemID int64, probe string) (string, bool, error) {
	v, ok := m.probes[itemID][probe]
	return v, ok, nil
}

func (m *MockContentRepository) CategoryIDs(_ context.Context, itemID int64, taxonomy string) ([]int64, error) {
	if m.CategoryErr != nil {
		return nil, m.CategoryErr
	}
	ids := append([]int64(nil), m.categories[itemID][taxonomy]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MockContentRepository) ListTerms(_ context.Context, taxonomy string) ([]linksync.Term, error) {
	terms := append([]linksync.Term(nil), m.terms[taxonomy]...)
	sort.Slice(terms, func(i, j int) bool { return terms[i].Name < terms[j].Name })
	return terms, nil
}

func (m *MockContentRepository) OverlayFields(_ context.Context, itemID int64) ([]linksync.OverlayField, error) {
	return m.overlay[itemID], nil
}

func (m *MockContentRepository) ListCandidates(_ context.Context, filter linksync.SourceFilter) ([]linksync.Candidate, error) {
	sources := filter.Sources()
	var out []linksync.Candidate
	for _, item := range m.items {
		if item.Status != string(linksync.StatusPublished) || !contains(sources, item.Type) {
			continue
		}
		if len(filter.Categories) > 0 && !m.inCategories(item.ID, filter.Categories) {
			continue
		}
		out = append(out, linksync.Candidate{
			ID:       item.ID,
			Type:     item.Type,
			Status:   linksync.StatusPublished,
			ByteSize: int64(len(item.Body)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockContentRepository) inCategories(id int64, want []int64) bool {
	for _, ids := range m.categories[id] {
		for _, c := range ids {
			for _, w := range want {
				if c == w {
					return true
				}
			}
		}
	}
	return false
}

func (m *MockContentRepository) GetByID(_ context.Context, id int64) (*linksync.ContentItem, error) {
	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (m *MockContentRepository) GetManyByIDs(_ context.Context, ids []int64) ([]linksync.ContentItem, error) {
	var out []linksync.ContentItem
	for _, id := range ids {
		if item, ok := m.items[id]; ok {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (m *MockContentRepository) UpdateBody(_ context.Context, id int64, body string, modifiedAt time.Time) error {
	item, ok := m.items[id]
	if !ok {
		return fmt.Errorf("item %d not found", id)
	}
	item.Body = body
	item.UpdatedAt = modifiedAt
	return nil
}

func (m *MockContentRepository) SetBuilderProbe(_ context.Context, id int64, probe, value string) error {
	m.SetProbe(id, probe, value)
	m.ProbeWrites = append(m.ProbeWrites, ProbeWrite{ItemID: id, Probe: probe, Value: value})
	return nil
}

func (m *MockContentRepository) CountByType(_ context.Context, contentType string) (int, error) {
	n := 0
	for _, item := range m.items {
		if item.Type == contentType && item.Status == string(linksync.StatusPublished) {
			n++
		}
	}
	return n, nil
}

func (m *MockContentRepository) ResolveURL(_ context.Context, url string) (int64, error) {
	return m.urls[strings.TrimSpace(url)], nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Compile-time check
var _ linksync.ContentRepository = (*MockContentRepository)(nil)
