package domain

// transitionKey identifies one directed edge in a status graph.
type transitionKey struct {
	From string
	To   string
}

// candidateTransitions is the set of allowed candidate_links status edges.
// Edges not listed here are rejected by the store.
var candidateTransitions = map[transitionKey]struct{}{
	{CandidateStatusDiscovered, CandidateStatusVerified}:     {},
	{CandidateStatusDiscovered, CandidateStatusArticle}:      {},
	{CandidateStatusDiscovered, CandidateStatusNotArticle}:   {},
	{CandidateStatusDiscovered, CandidateStatusVerifyFailed}: {},
	{CandidateStatusVerified, CandidateStatusArticle}:        {},
	{CandidateStatusVerified, CandidateStatusNotArticle}:     {},
	{CandidateStatusVerified, CandidateStatusVerifyFailed}:   {},
	{CandidateStatusArticle, CandidateStatusClaimed}:         {},
	{CandidateStatusArticle, CandidateStatusPaused}:          {},
	// A failed extraction releases the claim so the row is claimable again.
	{CandidateStatusClaimed, CandidateStatusArticle}:   {},
	{CandidateStatusClaimed, CandidateStatusExtracted}: {},
}

// articleTransitions is the set of allowed articles status edges.
var articleTransitions = map[transitionKey]struct{}{
	{ArticleStatusExtracted, ArticleStatusCleaned}: {},
	{ArticleStatusExtracted, ArticleStatusPaused}:  {},
	{ArticleStatusCleaned, ArticleStatusLocal}:     {},
	{ArticleStatusCleaned, ArticleStatusWire}:      {},
	{ArticleStatusLocal, ArticleStatusLabeled}:     {},
	{ArticleStatusWire, ArticleStatusLabeled}:      {},
}

// candidateTerminalStatuses are candidate statuses with no outgoing edges.
var candidateTerminalStatuses = map[string]struct{}{
	CandidateStatusPaused:       {},
	CandidateStatusNotArticle:   {},
	CandidateStatusVerifyFailed: {},
}

// articleTerminalStatuses are article statuses with no outgoing edges.
var articleTerminalStatuses = map[string]struct{}{
	ArticleStatusPaused:  {},
	ArticleStatusLabeled: {},
}

// CandidateTransitionAllowed reports whether a candidate_links status edge
// is part of the canonical state machine.
func CandidateTransitionAllowed(from, to string) bool {
	_, ok := candidateTransitions[transitionKey{From: from, To: to}]
	return ok
}

// ArticleTransitionAllowed reports whether an articles status edge is part
// of the canonical state machine.
func ArticleTransitionAllowed(from, to string) bool {
	_, ok := articleTransitions[transitionKey{From: from, To: to}]
	return ok
}

// CandidateStatusTerminal reports whether a candidate status is terminal.
func CandidateStatusTerminal(status string) bool {
	_, ok := candidateTerminalStatuses[status]
	return ok
}

// ArticleStatusTerminal reports whether an article status is terminal.
func ArticleStatusTerminal(status string) bool {
	_, ok := articleTerminalStatuses[status]
	return ok
}

// CandidateStatuses lists every valid candidate_links status value.
func CandidateStatuses() []string {
	return []string{
		CandidateStatusDiscovered,
		CandidateStatusVerified,
		CandidateStatusArticle,
		CandidateStatusClaimed,
		CandidateStatusExtracted,
		CandidateStatusNotArticle,
		CandidateStatusVerifyFailed,
		CandidateStatusPaused,
	}
}

// ArticleStatuses lists every valid articles status value.
func ArticleStatuses() []string {
	return []string{
		ArticleStatusExtracted,
		ArticleStatusCleaned,
		ArticleStatusLocal,
		ArticleStatusWire,
		ArticleStatusLabeled,
		ArticleStatusPaused,
	}
}
