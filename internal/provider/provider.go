// ABOUTME: Record model and the provider interface backing resources and tools.
// ABOUTME: A registry keys providers by source id and fans queries out to them.

package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	// ErrSourceNotFound is returned for lookups against an unknown
	// source id.
	ErrSourceNotFound = errors.New("source not found")

	// ErrRecordNotFound is returned when a source exists but the
	// record id does not resolve.
	ErrRecordNotFound = errors.New("record not found")

	// ErrSourceExists is returned when registering a duplicate source
	// id.
	ErrSourceExists = errors.New("source already registered")
)

// Record is one unit of content. Listing calls return header-only
// records; FetchRecord fills in Text or Blob.
type Record struct {
	SourceID   string            `json:"source"`
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	MIMEType   string            `json:"mime_type"`
	Text       string            `json:"text,omitempty"`
	HTML       string            `json:"html,omitempty"`
	Blob       []byte            `json:"blob,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
	ModifiedAt time.Time         `json:"modified_at"`
}

// URI returns the canonical resource URI for the record.
func (r *Record) URI() string {
	return fmt.Sprintf("carrel://%s/%s", r.SourceID, r.ID)
}

// Filter narrows a record query. Field names are provider-interpreted;
// every provider understands at least "id" and "title".
type Filter struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value string `json:"value"`
}

// Filter operators.
const (
	OpEq       = "eq"
	OpContains = "contains"
	OpPrefix   = "prefix"
)

// ValidOp reports whether op is a supported filter operator.
func ValidOp(op string) bool {
	switch op {
	case OpEq, OpContains, OpPrefix:
		return true
	}
	return false
}

// Sort orders query results by a single field.
type Sort struct {
	Field      string `json:"field"`
	Descending bool   `json:"descending"`
}

// Query bundles the record selection options.
type Query struct {
	Filters []Filter
	Sort    *Sort
	Limit   int
}

// SourceInfo describes a configured source for catalog listings and
// health output.
type SourceInfo struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
	Path        string `json:"path"`
}

// Provider exposes one backing source of records.
type Provider interface {
	// SourceID returns the unique source identifier.
	SourceID() string

	// Describe returns static information about the source.
	Describe() SourceInfo

	// FetchRecords lists records matching the query. Returned records
	// are headers only: Text and Blob are left empty.
	FetchRecords(ctx context.Context, q Query) ([]Record, error)

	// FetchRecord loads one record with its content. An unknown id
	// yields ErrRecordNotFound.
	FetchRecord(ctx context.Context, id string) (*Record, error)

	// Close releases backing handles.
	Close() error
}

// ChangeKind classifies a watched mutation.
type ChangeKind int

const (
	ChangeModified ChangeKind = iota
	ChangeAdded
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeModified:
		return "modified"
	case ChangeAdded:
		return "added"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one observed mutation in a source.
type Change struct {
	RecordID string
	Kind     ChangeKind
}

// Watcher is implemented by providers that can observe their backing
// store. Watch blocks until ctx is done, invoking fn for each change.
type Watcher interface {
	Watch(ctx context.Context, fn func(Change)) error
}

// Registry holds the live provider set. The set is replaced wholesale
// on catalog reload, so readers always see a consistent snapshot.
type Registry struct {
	logger *slog.Logger

	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:    logger,
		providers: make(map[string]Provider),
	}
}

// Register adds a provider. Duplicate source ids are refused.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := p.SourceID()
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("%w: %s", ErrSourceExists, id)
	}
	r.providers[id] = p
	return nil
}

// Get returns the provider for a source id.
func (r *Registry) Get(sourceID string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[sourceID]
	return p, ok
}

// Sources lists the registered sources sorted by id.
func (r *Registry) Sources() []SourceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]SourceInfo, 0, len(r.providers))
	for _, p := range r.providers {
		infos = append(infos, p.Describe())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// FetchRecords queries one source.
func (r *Registry) FetchRecords(ctx context.Context, sourceID string, q Query) ([]Record, error) {
	p, ok := r.Get(sourceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, sourceID)
	}
	return p.FetchRecords(ctx, q)
}

// FetchAllRecords lists headers across every source, ordered by source
// id then record id. This backs the resource listing.
func (r *Registry) FetchAllRecords(ctx context.Context) ([]Record, error) {
	r.mu.RLock()
	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	r.mu.RUnlock()

	sort.Slice(providers, func(i, j int) bool { return providers[i].SourceID() < providers[j].SourceID() })

	var all []Record
	for _, p := range providers {
		records, err := p.FetchRecords(ctx, Query{})
		if err != nil {
			return nil, fmt.Errorf("list records from %s: %w", p.SourceID(), err)
		}
		sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
		all = append(all, records...)
	}
	return all, nil
}

// FetchRecord loads one record from one source.
func (r *Registry) FetchRecord(ctx context.Context, sourceID, recordID string) (*Record, error) {
	p, ok := r.Get(sourceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, sourceID)
	}
	return p.FetchRecord(ctx, recordID)
}

// ReplaceAll swaps the provider set, closing the displaced providers.
// Used on catalog reload.
func (r *Registry) ReplaceAll(providers []Provider) error {
	next := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if _, exists := next[p.SourceID()]; exists {
			return fmt.Errorf("%w: %s", ErrSourceExists, p.SourceID())
		}
		next[p.SourceID()] = p
	}

	r.mu.Lock()
	old := r.providers
	r.providers = next
	r.mu.Unlock()

	for id, p := range old {
		if err := p.Close(); err != nil {
			r.logger.Warn("closing displaced provider failed", "source", id, "error", err)
		}
	}
	return nil
}

// CloseAll closes every provider and empties the registry.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	old := r.providers
	r.providers = make(map[string]Provider)
	r.mu.Unlock()

	var errs []error
	for id, p := range old {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
