package country

import "fmt"

// Registry indexes live Country entities by geoname id and by ISO2 code.
// A registry belongs to a single request or command run and is not safe
// for concurrent use. Entities are never removed.
type Registry struct {
	byID   map[int]*Country
	byCode map[string]*Country
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[int]*Country),
		byCode: make(map[string]*Country),
	}
}

// NewCountry creates an entity bound to the registry. It is indexed as soon
// as a geoname id or code is set on it.
func (r *Registry) NewCountry() *Country {
	return &Country{registry: r}
}

// Register binds an entity created outside the registry and indexes its
// current identity.
func (r *Registry) Register(c *Country) error {
	if c.registry != nil && c.registry != r {
		return fmt.Errorf("%w: entity belongs to another registry", ErrIdentityConflict)
	}
	if err := r.claim(c, c.geonameID, c.iso2); err != nil {
		return err
	}
	c.registry = r
	return nil
}

// ByID returns the entity registered under a geoname id
func (r *Registry) ByID(id int) (*Country, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// ByCode returns the entity registered under an ISO2 code
func (r *Registry) ByCode(code string) (*Country, bool) {
	c, ok := r.byCode[NormalizeCode(code)]
	return c, ok
}

// Len returns the number of distinct registered entities
func (r *Registry) Len() int {
	seen := make(map[*Country]struct{}, len(r.byID))
	for _, c := range r.byID {
		seen[c] = struct{}{}
	}
	for _, c := range r.byCode {
		seen[c] = struct{}{}
	}
	return len(seen)
}

// claim indexes c under id and code. Both indices are checked before
// either is written.
func (r *Registry) claim(c *Country, id int, code string) error {
	if id > 0 {
		if other, ok := r.byID[id]; ok && other != c {
			return fmt.Errorf("%w: an instance with geoname id %d already exists", ErrIdentityConflict, id)
		}
	}
	if code != "" {
		if other, ok := r.byCode[code]; ok && other != c {
			return fmt.Errorf("%w: an instance with country code %s already exists", ErrIdentityConflict, code)
		}
	}

	if id > 0 {
		r.byID[id] = c
	}
	if code != "" {
		r.byCode[code] = c
	}
	return nil
}
