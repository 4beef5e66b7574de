package recorder

import (
	"path"

	"github.com/roach88/recorder/internal/model"
)

// FilterConfig selects which entities and event types are recorded.
type FilterConfig struct {
	IncludeDomains     []string `yaml:"include_domains"`
	IncludeEntities    []string `yaml:"include_entities"`
	ExcludeDomains     []string `yaml:"exclude_domains"`
	ExcludeEntities    []string `yaml:"exclude_entities"`
	ExcludeEntityGlobs []string `yaml:"exclude_entity_globs"`
	ExcludeEventTypes  []string `yaml:"exclude_event_types"`
}

// entityFilter decides whether an entity is recorded.
//
// Precedence: an explicitly included entity is always recorded, then
// explicit exclusions and globs win, then domain rules apply. Without any
// include rule everything not excluded is recorded.
type entityFilter struct {
	includeDomains  map[string]struct{}
	includeEntities map[string]struct{}
	excludeDomains  map[string]struct{}
	excludeEntities map[string]struct{}
	excludeGlobs    []string
	excludeEvents   map[string]struct{}
}

func newEntityFilter(cfg FilterConfig) *entityFilter {
	return &entityFilter{
		includeDomains:  toSet(cfg.IncludeDomains),
		includeEntities: toSet(cfg.IncludeEntities),
		excludeDomains:  toSet(cfg.ExcludeDomains),
		excludeEntities: toSet(cfg.ExcludeEntities),
		excludeGlobs:    cfg.ExcludeEntityGlobs,
		excludeEvents:   toSet(cfg.ExcludeEventTypes),
	}
}

func (f *entityFilter) allowsEntity(entityID string) bool {
	if _, ok := f.includeEntities[entityID]; ok {
		return true
	}
	if _, ok := f.excludeEntities[entityID]; ok {
		return false
	}
	for _, glob := range f.excludeGlobs {
		if ok, _ := path.Match(glob, entityID); ok {
			return false
		}
	}
	domain := model.Domain(entityID)
	if _, ok := f.includeDomains[domain]; ok {
		return true
	}
	if _, ok := f.excludeDomains[domain]; ok {
		return false
	}
	return len(f.includeDomains) == 0 && len(f.includeEntities) == 0
}

// allowsEvent reports whether ev should be queued. An event naming several
// entities is kept if any of them is allowed.
func (f *entityFilter) allowsEvent(ev *model.Event) bool {
	if _, ok := f.excludeEvents[ev.Type]; ok {
		return false
	}
	ids, known := ev.EntityIDs()
	if !known {
		// Malformed entity_id; nothing to filter on.
		return true
	}
	if len(ids) == 0 {
		return true
	}
	for _, id := range ids {
		if f.allowsEntity(id) {
			return true
		}
	}
	return false
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
