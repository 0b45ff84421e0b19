// Package models holds the static model registry: the mapping from
// client-facing aliases (argo:gpt-4o) to upstream model ids (gpt4o),
// partitioned into chat and embedding models, plus the capability sets
// that drive request shaping.
//
// The registry is built once at startup with [New] and is read-only
// afterwards. Capability sets are declared as glob patterns and expanded
// against every known alias and upstream id up front, so request-time
// checks are plain set lookups keyed by the canonical upstream id.
package models

import (
	"path"
	"sort"
)

// Kind selects which partition of the registry a lookup targets.
type Kind string

// Registry partitions.
const (
	KindChat      Kind = "chat"
	KindEmbedding Kind = "embedding"
)

// Kind-specific defaults, returned by Resolve for unknown or missing names.
const (
	DefaultChatModel  = "gpt4o"
	DefaultEmbedModel = "v3small"
)

// chatModels maps client-facing chat aliases to upstream ids.
var chatModels = map[string]string{
	"argo:gpt-3.5-turbo":       "gpt35",
	"argo:gpt-3.5-turbo-16k":   "gpt35large",
	"argo:gpt-4":               "gpt4",
	"argo:gpt-4-32k":           "gpt4large",
	"argo:gpt-4-turbo-preview": "gpt4turbo",
	"argo:gpt-4o":              "gpt4o",
	"argo:gpt-4o-latest":       "gpt4olatest",
	"argo:gpt-o1-mini":         "gpto1mini",
	"argo:gpt-o3-mini":         "gpto3mini",
}

// embedModels maps client-facing embedding aliases to upstream ids.
var embedModels = map[string]string{
	"argo:text-embedding-ada-002": "ada002",
	"argo:text-embedding-3-small": "v3small",
	"argo:text-embedding-3-large": "v3large",
}

// noSysMsgPatterns selects models whose upstream rejects system-roled
// messages. Patterns are matched against both the alias and the upstream id.
var noSysMsgPatterns = []string{"argo:gpt-o*", "argo:o*", "gpto*"}

// streamablePatterns selects models the upstream can stream. The o-series
// models only accept non-streaming calls and are deliberately excluded.
var streamablePatterns = []string{"argo:gpt-3*", "argo:gpt-4*", "gpt3*", "gpt4*"}

// Entry is one catalogue row for the /v1/models listing.
type Entry struct {
	Alias      string
	UpstreamID string
}

// Registry resolves model names and answers capability queries.
type Registry struct {
	chat       map[string]string
	embed      map[string]string
	chatIDs    map[string]struct{}
	embedIDs   map[string]struct{}
	noSysMsg   map[string]struct{}
	streamable map[string]struct{}
}

// New builds the registry and precomputes the capability sets.
func New() *Registry {
	r := &Registry{
		chat:       chatModels,
		embed:      embedModels,
		chatIDs:    make(map[string]struct{}, len(chatModels)),
		embedIDs:   make(map[string]struct{}, len(embedModels)),
		noSysMsg:   make(map[string]struct{}),
		streamable: make(map[string]struct{}),
	}
	for alias, id := range chatModels {
		r.chatIDs[id] = struct{}{}
		if matchAny(noSysMsgPatterns, alias, id) {
			r.noSysMsg[id] = struct{}{}
		}
		if matchAny(streamablePatterns, alias, id) {
			r.streamable[id] = struct{}{}
		}
	}
	for _, id := range embedModels {
		r.embedIDs[id] = struct{}{}
	}
	return r
}

func matchAny(patterns []string, names ...string) bool {
	for _, p := range patterns {
		for _, n := range names {
			if ok, _ := path.Match(p, n); ok {
				return true
			}
		}
	}
	return false
}

// Resolve maps a client-supplied model name to its upstream id. It accepts
// either a public alias or an already-canonical upstream id; anything else,
// including an empty name, resolves to the kind default. Matching is
// case-sensitive and resolution never fails.
func (r *Registry) Resolve(name string, kind Kind) string {
	switch kind {
	case KindEmbedding:
		if id, ok := r.embed[name]; ok {
			return id
		}
		if _, ok := r.embedIDs[name]; ok {
			return name
		}
		return DefaultEmbedModel
	default:
		if id, ok := r.chat[name]; ok {
			return id
		}
		if _, ok := r.chatIDs[name]; ok {
			return name
		}
		return DefaultChatModel
	}
}

// NoSysMsg reports whether the upstream rejects system messages for the
// model. The argument must be a canonical upstream id (resolve first).
func (r *Registry) NoSysMsg(upstreamID string) bool {
	_, ok := r.noSysMsg[upstreamID]
	return ok
}

// Streamable reports whether the upstream can stream replies for the model.
// The argument must be a canonical upstream id (resolve first).
func (r *Registry) Streamable(upstreamID string) bool {
	_, ok := r.streamable[upstreamID]
	return ok
}

// ListChat returns the chat catalogue sorted by alias.
func (r *Registry) ListChat() []Entry {
	return sortedEntries(r.chat)
}

// ListEmbed returns the embedding catalogue sorted by alias.
func (r *Registry) ListEmbed() []Entry {
	return sortedEntries(r.embed)
}

func sortedEntries(m map[string]string) []Entry {
	entries := make([]Entry, 0, len(m))
	for alias, id := range m {
		entries = append(entries, Entry{Alias: alias, UpstreamID: id})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Alias < entries[j].Alias })
	return entries
}
