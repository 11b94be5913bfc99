package session

// Analysis state keys.
const (
	KeyAnalysisData        = "analysisData"
	KeyCurrentBrand        = "currentBrand"
	KeyCurrentCompetitors  = "currentCompetitors"
	KeyCurrentBrandContent = "currentBrandContent"
	KeyCurrentNewsItems    = "currentNewsItems"
	KeyCurrentTrends       = "currentTrends"
	KeyCurrentTrendsBrand  = "currentTrendsBrand"
	KeySWOTAnalysis        = "swotAnalysis"
	KeyCategory            = "category"
	KeyCountry             = "country"
	KeyCompetitors         = "competitors"
	KeyActiveAnalysis      = "ACTIVE_ANALYSIS_SESSION"
	KeyAnalysisTimestamp   = "ANALYSIS_SESSION_TIMESTAMP"
)

// Navigation guard keys.
const (
	KeyCitationLinkActive    = "CITATION_LINK_ACTIVE"
	KeyCitationLinkTimestamp = "CITATION_LINK_TIMESTAMP"
	KeyCitationLinkURL       = "CITATION_LINK_URL"
	KeyCitationPreserving    = "CITATION_LINK_PRESERVING_STATE"
	KeyNoRerenderOnFocus     = "NO_RERENDER_ON_FOCUS"
	KeyPreventFirstRerender  = "PREVENT_FIRST_RERENDER"
)

// NavigationKeys lists every key owned by the navigation guard.
var NavigationKeys = []string{
	KeyCitationLinkActive,
	KeyCitationLinkTimestamp,
	KeyCitationLinkURL,
	KeyCitationPreserving,
	KeyNoRerenderOnFocus,
	KeyPreventFirstRerender,
}
