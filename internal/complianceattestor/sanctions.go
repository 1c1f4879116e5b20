package complianceattestor

import (
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/otcsettle/controlplane/internal/cryptoutil"
)

// sanctionsList lazily loads the JSON file named in §6 and caches it for the
// process lifetime — "Loaded lazily per request" in the spec describes the
// first request's cost, not a reload on every call.
type sanctionsList struct {
	path string

	mu      sync.Mutex
	entries []SanctionsEntry
	loaded  bool
}

func newSanctionsList(path string) *sanctionsList {
	return &sanctionsList{path: path}
}

func (l *sanctionsList) load() ([]SanctionsEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return l.entries, nil
	}
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var entries []SanctionsEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	l.entries = entries
	l.loaded = true
	return entries, nil
}

// normalize implements §4.3 step 8's candidate-string normalization: lower
// case, strip to ascii alphanumerics and whitespace, collapse whitespace.
func normalize(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	lastWasSpace := false
	for _, r := range s {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		isSpace := r == ' ' || r == '\t' || r == '\n'
		switch {
		case isAlnum:
			b.WriteRune(r)
			lastWasSpace = false
		case isSpace:
			if !lastWasSpace && b.Len() > 0 {
				b.WriteRune(' ')
			}
			lastWasSpace = true
		default:
			// drop punctuation entirely
		}
	}
	return strings.TrimSpace(b.String())
}

func confidence(candidate, entryName string) int {
	if candidate == "" || entryName == "" {
		return 0
	}
	if candidate == entryName {
		return 100
	}
	if strings.Contains(candidate, entryName) || strings.Contains(entryName, candidate) {
		return 80
	}
	return 0
}

// candidateStrings produces the normalized strings a subject is screened
// with: subject_id, legal_name, address (whichever are non-empty).
func candidateStrings(s NormalizedSubject) []string {
	var out []string
	if s.SubjectID != "" {
		out = append(out, normalize(s.SubjectID))
	}
	if s.LegalName != "" {
		out = append(out, normalize(s.LegalName))
	}
	if s.Address != "" {
		out = append(out, normalize(s.Address))
	}
	return out
}

// screen implements §4.3 step 8's matcher (the cache-miss path).
func (l *sanctionsList) screen(subjects []NormalizedSubject) (ScreeningResult, error) {
	entries, err := l.load()
	if err != nil {
		return ScreeningResult{}, err
	}

	var hits []ScreeningHit
	for _, subject := range subjects {
		candidates := candidateStrings(subject)
		for _, entry := range entries {
			normalizedEntry := normalize(entry.Name)
			best := 0
			for _, cand := range candidates {
				if c := confidence(cand, normalizedEntry); c > best {
					best = c
				}
			}
			if best > 0 {
				hits = append(hits, ScreeningHit{EntryName: entry.Name, Confidence: best})
			}
		}
	}

	return ScreeningResult{Hits: hits, MatchDigest: matchDigest(hits)}, nil
}

// matchDigest implements §4.3 step 8's match_digest: sha256 of the
// pipe-joined, lexicographically sorted "{entry_name}:{confidence}" lines.
func matchDigest(hits []ScreeningHit) string {
	lines := make([]string, 0, len(hits))
	for _, h := range hits {
		lines = append(lines, h.EntryName+":"+strconv.Itoa(h.Confidence))
	}
	sort.Strings(lines)
	return cryptoutil.SHA256Hex([]byte(strings.Join(lines, "|")))
}

// screenCacheKey implements §4.3 step 8's cache key: sha256 of the sorted
// per-subject fingerprints concatenated with policy_hash.
func screenCacheKey(subjects []NormalizedSubject, policyHash string) string {
	fingerprints := make([]string, 0, len(subjects))
	for _, s := range subjects {
		fingerprints = append(fingerprints, strings.Join(candidateStrings(s), ","))
	}
	sort.Strings(fingerprints)
	raw := strings.Join(fingerprints, "|") + policyHash
	return cryptoutil.SHA256Hex([]byte(raw))
}
