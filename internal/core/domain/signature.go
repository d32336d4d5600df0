package domain

// RequestSignature is the subset of a request the heuristics look at.
type RequestSignature struct {
	UserAgent string
	Accept    string
	Path      string
	Query     string
	Body      string
}

// Classification is the verdict of the heuristic detector.
type Classification struct {
	IsBot    bool
	IsAttack bool
}
