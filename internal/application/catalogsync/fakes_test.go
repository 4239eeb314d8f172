package catalogsync

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shopsync/backend/internal/domain/catalog"
	"github.com/shopsync/backend/internal/domain/integration"
	"github.com/shopsync/backend/internal/domain/shop"
)

// ---------------------------------------------------------------------------
// In-memory catalog: store, ledger and unit of work
// ---------------------------------------------------------------------------

// memCatalog serializes every unit of work on one mutex, which gives the
// atomicity of a tenant transaction without rollback.
type memCatalog struct {
	mu       sync.Mutex
	entities map[uuid.UUID]map[catalog.Ref]catalog.Entity
	parents  map[uuid.UUID]map[string]string
	ledger   map[integration.LedgerKey]int64
	profiles map[uuid.UUID]string
	dirty    []catalog.Ref
	writes   int
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		entities: make(map[uuid.UUID]map[catalog.Ref]catalog.Entity),
		parents:  make(map[uuid.UUID]map[string]string),
		ledger:   make(map[integration.LedgerKey]int64),
		profiles: make(map[uuid.UUID]string),
	}
}

func (c *memCatalog) InTenantTx(ctx context.Context, tenantID uuid.UUID, fn func(ctx context.Context, ledger integration.IdempotencyLedger, store catalog.Store) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(ctx, memLedger{c}, memStore{c})
}

func (c *memCatalog) get(tenantID uuid.UUID, t catalog.EntityType, id string) catalog.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entities[tenantID][catalog.Ref{Type: t, UpstreamID: id}]
}

func (c *memCatalog) count(tenantID uuid.UUID, t catalog.EntityType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for ref := range c.entities[tenantID] {
		if ref.Type == t {
			n++
		}
	}
	return n
}

func (c *memCatalog) parentOf(tenantID uuid.UUID, id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.parents[tenantID][id]
}

func (c *memCatalog) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func (c *memCatalog) ledgerVersion(key integration.LedgerKey) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.ledger[key]
	return v, ok
}

func (c *memCatalog) dirtyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dirty)
}

type memLedger struct{ c *memCatalog }

func (l memLedger) ShouldApply(_ context.Context, key integration.LedgerKey, version int64) (bool, error) {
	v, ok := l.c.ledger[key]
	return !ok || version > v, nil
}

func (l memLedger) RecordApplied(_ context.Context, key integration.LedgerKey, version int64, _ time.Time) error {
	if v, ok := l.c.ledger[key]; ok && v >= version {
		return integration.ErrLedgerConflict
	}
	l.c.ledger[key] = version
	return nil
}

func (l memLedger) Forget(_ context.Context, key integration.LedgerKey) error {
	delete(l.c.ledger, key)
	return nil
}

type memStore struct{ c *memCatalog }

func (s memStore) tenant(tenantID uuid.UUID) map[catalog.Ref]catalog.Entity {
	m, ok := s.c.entities[tenantID]
	if !ok {
		m = make(map[catalog.Ref]catalog.Entity)
		s.c.entities[tenantID] = m
	}
	return m
}

func (s memStore) Upsert(_ context.Context, tenantID uuid.UUID, e catalog.Entity) (catalog.Entity, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	m := s.tenant(tenantID)
	if v, ok := e.(*catalog.Variant); ok {
		if _, found := m[catalog.Ref{Type: catalog.EntityTypeProduct, UpstreamID: v.ProductUpstreamID}]; !found {
			return nil, fmt.Errorf("%w: %s", catalog.ErrOrphanVariant, v.ProductUpstreamID)
		}
	}
	m[catalog.RefOf(e)] = e
	s.c.writes++
	return e, nil
}

func (s memStore) Delete(_ context.Context, tenantID uuid.UUID, t catalog.EntityType, upstreamID string) error {
	m := s.tenant(tenantID)
	delete(m, catalog.Ref{Type: t, UpstreamID: upstreamID})
	if t == catalog.EntityTypeProduct {
		for ref, e := range m {
			if v, ok := e.(*catalog.Variant); ok && v.ProductUpstreamID == upstreamID {
				delete(m, ref)
			}
		}
	}
	if t == catalog.EntityTypeCategory {
		delete(s.c.parents[tenantID], upstreamID)
	}
	return nil
}

func (s memStore) MarkSearchDirty(_ context.Context, tenantID uuid.UUID, t catalog.EntityType, upstreamID string) error {
	ref := catalog.Ref{Type: t, UpstreamID: upstreamID}
	if _, ok := s.tenant(tenantID)[ref]; !ok {
		return catalog.ErrEntityNotFound
	}
	s.c.dirty = append(s.c.dirty, ref)
	return nil
}

func (s memStore) CategoryLinks(_ context.Context, tenantID uuid.UUID) ([]catalog.CategoryLink, error) {
	var links []catalog.CategoryLink
	for _, e := range s.tenant(tenantID) {
		if cat, ok := e.(*catalog.Category); ok {
			links = append(links, catalog.CategoryLink{UpstreamID: cat.UpstreamID, ParentUpstreamID: cat.ParentUpstreamID})
		}
	}
	sort.Slice(links, func(i, j int) bool { return links[i].UpstreamID < links[j].UpstreamID })
	return links, nil
}

func (s memStore) SetCategoryParents(_ context.Context, tenantID uuid.UUID, links []catalog.CategoryLink) (int, error) {
	p, ok := s.c.parents[tenantID]
	if !ok {
		p = make(map[string]string)
		s.c.parents[tenantID] = p
	}
	m := s.tenant(tenantID)
	changed := 0
	for _, l := range links {
		if _, ok := m[catalog.Ref{Type: catalog.EntityTypeCategory, UpstreamID: l.UpstreamID}]; !ok {
			continue
		}
		if p[l.UpstreamID] != l.ParentUpstreamID {
			p[l.UpstreamID] = l.ParentUpstreamID
			changed++
		}
	}
	return changed, nil
}

func (s memStore) UpstreamIDs(_ context.Context, tenantID uuid.UUID, t catalog.EntityType) ([]string, error) {
	var ids []string
	for ref := range s.tenant(tenantID) {
		if ref.Type == t {
			ids = append(ids, ref.UpstreamID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s memStore) Count(_ context.Context, tenantID uuid.UUID, t catalog.EntityType) (int64, error) {
	ids, _ := s.UpstreamIDs(context.Background(), tenantID, t)
	return int64(len(ids)), nil
}

func (s memStore) SetSearchProfile(_ context.Context, tenantID uuid.UUID, profile catalog.SearchProfile) (bool, error) {
	fp := profile.Fingerprint()
	changed := s.c.profiles[tenantID] != fp
	s.c.profiles[tenantID] = fp
	return changed, nil
}

// ---------------------------------------------------------------------------
// Upstream
// ---------------------------------------------------------------------------

// fakeUpstream serves a fixed catalog in pages. Cursors are item offsets.
type fakeUpstream struct {
	mu        sync.Mutex
	items     map[catalog.EntityType][]catalog.Entity
	rejected  map[string]bool
	pageSize  int
	pageErrs  []error
	pageCalls int
	oneCalls  int
	onFetch   func(call int)
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		items:    make(map[catalog.EntityType][]catalog.Entity),
		rejected: make(map[string]bool),
		pageSize: 10,
	}
}

func (u *fakeUpstream) put(e catalog.Entity) {
	u.mu.Lock()
	defer u.mu.Unlock()
	t := e.Type()
	for i, cur := range u.items[t] {
		if cur.GetHeader().UpstreamID == e.GetHeader().UpstreamID {
			u.items[t][i] = e
			return
		}
	}
	u.items[t] = append(u.items[t], e)
}

func (u *fakeUpstream) remove(t catalog.EntityType, id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	kept := u.items[t][:0]
	for _, e := range u.items[t] {
		if e.GetHeader().UpstreamID != id {
			kept = append(kept, e)
		}
	}
	u.items[t] = kept
}

func (u *fakeUpstream) calls() (pages, ones int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.pageCalls, u.oneCalls
}

func (u *fakeUpstream) FetchPage(ctx context.Context, _ uuid.UUID, t catalog.EntityType, cursor string) (*integration.Page, error) {
	u.mu.Lock()
	u.pageCalls++
	call := u.pageCalls
	hook := u.onFetch
	if len(u.pageErrs) > 0 {
		err := u.pageErrs[0]
		u.pageErrs = u.pageErrs[1:]
		u.mu.Unlock()
		return nil, err
	}
	start := 0
	if cursor != "" {
		start, _ = strconv.Atoi(cursor)
	}
	all := u.items[t]
	end := start + u.pageSize
	if end > len(all) {
		end = len(all)
	}
	page := &integration.Page{}
	for _, e := range all[start:end] {
		id := e.GetHeader().UpstreamID
		if u.rejected[id] {
			page.Rejected = append(page.Rejected, integration.NewItemError(t, id, integration.ErrUpstreamRejected))
			continue
		}
		page.Items = append(page.Items, e)
	}
	if end >= len(all) {
		page.Done = true
	} else {
		page.NextCursor = strconv.Itoa(end)
	}
	u.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return page, nil
}

func (u *fakeUpstream) FetchOne(ctx context.Context, _ uuid.UUID, t catalog.EntityType, id string) (catalog.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.oneCalls++
	if u.rejected[id] {
		return nil, integration.NewItemError(t, id, integration.ErrUpstreamRejected)
	}
	for _, e := range u.items[t] {
		if e.GetHeader().UpstreamID == id {
			return e, nil
		}
	}
	return nil, integration.NewItemError(t, id, integration.ErrUpstreamNotFound)
}

func (u *fakeUpstream) RegisterWebhook(context.Context, uuid.UUID, catalog.EntityType, string) (string, error) {
	return "sub-1", nil
}

// ---------------------------------------------------------------------------
// Shops and search config
// ---------------------------------------------------------------------------

type fakeShops struct {
	mu      sync.Mutex
	updates map[uuid.UUID][]shop.StatusUpdate
}

func newFakeShops() *fakeShops {
	return &fakeShops{updates: make(map[uuid.UUID][]shop.StatusUpdate)}
}

func (f *fakeShops) FindByID(context.Context, uuid.UUID) (*shop.Shop, error) {
	return nil, shop.ErrShopNotFound
}

func (f *fakeShops) FindByUpstreamID(context.Context, string) (*shop.Shop, error) {
	return nil, shop.ErrShopNotFound
}

func (f *fakeShops) ListActive(context.Context) ([]shop.Shop, error) { return nil, nil }

func (f *fakeShops) Save(context.Context, *shop.Shop) error { return nil }

func (f *fakeShops) UpdateStatus(_ context.Context, id uuid.UUID, update shop.StatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[id] = append(f.updates[id], update)
	return nil
}

func (f *fakeShops) history(id uuid.UUID) []shop.StatusUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]shop.StatusUpdate(nil), f.updates[id]...)
}

func (f *fakeShops) lastStatus(id uuid.UUID) shop.SyncStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.updates[id]
	if len(u) == 0 {
		return ""
	}
	return u[len(u)-1].Status
}

type staticSearchConfig struct {
	mu       sync.Mutex
	settings []catalog.SearchFieldSetting
}

func (s *staticSearchConfig) set(settings []catalog.SearchFieldSetting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

func (s *staticSearchConfig) SearchFields(context.Context, uuid.UUID) ([]catalog.SearchFieldSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

// ---------------------------------------------------------------------------
// Entity builders
// ---------------------------------------------------------------------------

func product(id string, version int64, name string) *catalog.Product {
	return &catalog.Product{
		Header: catalog.Header{UpstreamID: id, Version: version},
		Name:   name,
		Price:  decimal.RequireFromString("9.99"),
		Active: true,
	}
}

func variant(id, productID string, version int64) *catalog.Variant {
	return &catalog.Variant{
		Header:            catalog.Header{UpstreamID: id, Version: version},
		ProductUpstreamID: productID,
		Name:              "variant " + id,
		Price:             decimal.RequireFromString("1.50"),
	}
}

func category(id, parent string, version int64) *catalog.Category {
	return &catalog.Category{
		Header:           catalog.Header{UpstreamID: id, Version: version},
		ParentUpstreamID: parent,
		Name:             "category " + id,
	}
}

func cmsPage(id string, version int64) *catalog.Page {
	return &catalog.Page{Header: catalog.Header{UpstreamID: id, Version: version}, Slug: "page-" + id, Title: "Page " + id}
}
