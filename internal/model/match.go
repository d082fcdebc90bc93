package model

// MatchMethod says how a raw record was resolved to a canonical entity.
type MatchMethod string

const (
	MethodExactCode   MatchMethod = "exact_code"
	MethodExactNumber MatchMethod = "exact_number"
	MethodFuzzyName   MatchMethod = "fuzzy_name"
	MethodManual      MatchMethod = "manual"
)

// MatchCandidate is the matcher's verdict for one normalized record.
// NewEntity means no existing entity cleared the threshold and a fresh
// key was allocated (first-seen wins naming).
type MatchCandidate struct {
	Record     NormalizedRecord `json:"record"`
	Key        CanonicalKey     `json:"key"`
	Confidence float64          `json:"confidence"`
	Method     MatchMethod      `json:"method,omitempty"`
	NewEntity  bool             `json:"new_entity,omitempty"`
}

// ReviewCandidate is a record whose best match fell between the review
// floor and the accept threshold. It is neither merged nor allocated a
// new key; a human decides, which keeps identity fragmentation and false
// fusion from being resolved the same mechanical way.
type ReviewCandidate struct {
	Record   NormalizedRecord `json:"record"`
	BestKey  CanonicalKey     `json:"best_key"`
	BestName string           `json:"best_name"`
	Score    float64          `json:"score"`
}
