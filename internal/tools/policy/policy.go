// Package policy decides which tools a forecast session may use. The
// decision is a pure function of the configured credentials, the retrodict
// flag, and whether sub-question spawning is permitted, so two sessions with
// identical inputs always see identical tool sets.
package policy

// Policy captures the inputs to the tool-set decision.
type Policy struct {
	// Credential availability.
	HasMetaculusToken bool
	HasSearchKey      bool
	HasNewsKey        bool
	HasEconKey        bool

	// Retrodict marks a time-restricted session.
	Retrodict bool

	// SandboxEnabled reports whether a container runtime is available.
	SandboxEnabled bool
}

// Tool identifiers, grouped by namespace. These are the qualified names the
// registry exposes to the model.
const (
	ToolGetQuestions       = "metaculus__get_metaculus_questions"
	ToolListTournament     = "metaculus__list_tournament_questions"
	ToolSearchMetaculus    = "metaculus__search_metaculus"
	ToolCoherenceLinks     = "metaculus__get_coherence_links"
	ToolCPHistory          = "metaculus__get_cp_history"
	ToolPredictionHistory  = "metaculus__get_prediction_history"
	ToolSearchExa          = "websearch__search_exa"
	ToolSearchNews         = "websearch__search_news"
	ToolRetrodictSearch    = "websearch__retrodict_search"
	ToolWikiSearch         = "wiki__search_wikipedia"
	ToolWikiSummary        = "wiki__get_wikipedia_summary"
	ToolWikiPage           = "wiki__get_wikipedia_page"
	ToolPolymarketPrice    = "markets__polymarket_price"
	ToolPolymarketHistory  = "markets__polymarket_price_history"
	ToolManifoldPrice      = "markets__manifold_price"
	ToolManifoldHistory    = "markets__manifold_price_history"
	ToolStockPrice         = "markets__stock_price"
	ToolStockHistory       = "markets__stock_price_history"
	ToolFredSeries         = "econ__fred_series"
	ToolFredSearch         = "econ__fred_search"
	ToolCompanyFinancials  = "econ__company_financials"
	ToolTrends             = "trends__google_trends"
	ToolTrendsCompare      = "trends__google_trends_compare"
	ToolTrendsRelated      = "trends__google_trends_related"
	ToolExecuteCode        = "sandbox__execute_code"
	ToolInstallPackage     = "sandbox__install_package"
	ToolNotes              = "notes"
	ToolSpawnSubquestions  = "spawn_subquestions"
)

// AllowedTools returns the qualified tool identifiers permitted for a
// session. allowSpawn=false strips the sub-question composer, which is how
// recursion depth is bounded.
func (p Policy) AllowedTools(allowSpawn bool) []string {
	var allowed []string

	if p.HasMetaculusToken {
		allowed = append(allowed,
			ToolGetQuestions,
			ToolListTournament,
			ToolSearchMetaculus,
			ToolCoherenceLinks,
			ToolCPHistory,
		)
	}
	// Prediction history reads the local store, no credential needed.
	allowed = append(allowed, ToolPredictionHistory)

	if p.HasSearchKey {
		allowed = append(allowed, ToolSearchExa)
		if p.Retrodict {
			allowed = append(allowed, ToolRetrodictSearch)
		}
	}
	if p.HasNewsKey && !p.Retrodict {
		allowed = append(allowed, ToolSearchNews)
	}

	allowed = append(allowed, ToolWikiSearch, ToolWikiSummary, ToolWikiPage)

	// Live market prices have no historical equivalent; only the history
	// variants survive a retrodict session.
	if !p.Retrodict {
		allowed = append(allowed, ToolPolymarketPrice, ToolManifoldPrice, ToolStockPrice)
	}
	allowed = append(allowed, ToolPolymarketHistory, ToolManifoldHistory, ToolStockHistory)

	if p.HasEconKey {
		allowed = append(allowed, ToolFredSeries, ToolFredSearch)
	}
	allowed = append(allowed, ToolCompanyFinancials)

	allowed = append(allowed, ToolTrends, ToolTrendsCompare, ToolTrendsRelated)

	if p.SandboxEnabled {
		allowed = append(allowed, ToolExecuteCode, ToolInstallPackage)
	}

	allowed = append(allowed, ToolNotes)

	if allowSpawn {
		allowed = append(allowed, ToolSpawnSubquestions)
	}

	return allowed
}
