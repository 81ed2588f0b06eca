package domain

// ScoreEntry is one applied scoring rule in an account's breakdown.
type ScoreEntry struct {
	Reason string  `json:"reason"`
	Points float64 `json:"points"`
}

// SuspicionRecord is the per-account output of one analysis run.
type SuspicionRecord struct {
	AccountID        string       `json:"accountId"`
	SuspicionScore   float64      `json:"suspicionScore"`
	ScoreBreakdown   []ScoreEntry `json:"scoreBreakdown"`
	DetectedPatterns []string     `json:"detectedPatterns"`

	// RingID is the single best ring for this account, empty if none.
	RingID string `json:"ringId,omitempty"`

	TotalTransactions int `json:"totalTransactions"`
	FanInCount        int `json:"fanInCount"`
	FanOutCount       int `json:"fanOutCount"`
}

// FraudRing is a named group of accounts sharing one structural pattern.
// RiskScore is filled in after all member scores are known; everything
// else is immutable once the ring is created.
type FraudRing struct {
	RingID         string   `json:"ringId"`
	MemberAccounts []string `json:"memberAccounts"`
	PatternType    string   `json:"patternType"`
	RiskScore      float64  `json:"riskScore"`
}

// Summary holds run-level statistics.
type Summary struct {
	TotalAccounts      int     `json:"totalAccounts"`
	SuspiciousAccounts int     `json:"suspiciousAccounts"`
	FraudRings         int     `json:"fraudRings"`
	ProcessingTimeSecs float64 `json:"processingTime"`
}

// AnalysisResult is the externally visible payload of one run, after the
// output policy has been applied. Consumed by the API and cached verbatim.
type AnalysisResult struct {
	RunID    string            `json:"runId"`
	Summary  Summary           `json:"summary"`
	Accounts []SuspicionRecord `json:"accounts"`
	Rings    []FraudRing       `json:"rings"`
}
