package domain

// ============================================================
// Lifecycle DTOs (validate → commit, listing, statistics)
// ============================================================

// ValidationResult is the outcome of the first phase of a save.
// Token identifies the pending save for the commit phase.
// Conflict is the first entry of Conflicts.
type ValidationResult struct {
	Valid     bool           `json:"valid"`
	Token     string         `json:"token"`
	Conflict  *ParameterSet  `json:"conflictingConfig,omitempty"`
	Conflicts []ParameterSet `json:"conflictingConfigs,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// PendingSave is a validated draft waiting for commit. ConflictIDs are the
// configurations shown to the user at validation; only those may be retired.
// Persisted is set once a commit attempt has stored the draft, whose ID then
// points at the stored row.
type PendingSave struct {
	Token       string        `json:"token"`
	Draft       *ParameterSet `json:"draft"`
	ConflictIDs []int         `json:"conflictIds,omitempty"`
	Persisted   bool          `json:"persisted,omitempty"`
}

// HasConflict reports whether the draft collided with another configuration at validation time.
func (p *PendingSave) HasConflict() bool {
	return len(p.ConflictIDs) > 0
}

// Confirmed reports whether the configuration was among the conflicts shown at validation.
func (p *PendingSave) Confirmed(id int) bool {
	for _, c := range p.ConflictIDs {
		if c == id {
			return true
		}
	}
	return false
}

// CommitRequest is the body of the commit phase.
type CommitRequest struct {
	Token            string `json:"token"`
	ConfirmOverwrite bool   `json:"confirmOverwrite"`
}

// ParameterFilter narrows the configuration listing.
// Active and FilialID are applied by the backend; Search and Strategy locally.
type ParameterFilter struct {
	Search   string              `json:"search,omitempty"`
	Active   *bool               `json:"active,omitempty"`
	FilialID *int                `json:"filialId,omitempty"`
	Strategy CalculationStrategy `json:"strategy,omitempty"`
}

// IsServerSide reports whether the filter needs a refetch from the backend.
func (f ParameterFilter) IsServerSide() bool {
	return f.Active != nil || f.FilialID != nil
}

// ParameterStats are the counters shown above the configuration list.
type ParameterStats struct {
	Total      int `json:"total"`
	Active     int `json:"active"`
	Automatic  int `json:"automatic"`
	Manual     int `json:"manual"`
	WithFilial int `json:"withFilial"`
}

// ParameterListing is the response of the listing view.
type ParameterListing struct {
	Items []ParameterListItem `json:"items"`
	Stats ParameterStats      `json:"stats"`
}

// ParameterListItem is one row of the listing view.
type ParameterListItem struct {
	ParameterSet
	FilialName string `json:"filialName,omitempty"`
	Active     bool   `json:"active"`
}

// DeleteResponse is returned after a successful deletion.
type DeleteResponse struct {
	ID      int    `json:"id"`
	Message string `json:"message"`
}

// ClassifyRequest is the body of the classification preview.
type ClassifyRequest struct {
	Customers []CustomerMetrics `json:"customers"`
}

// RFVMetrics is a snapshot of the lifecycle counters.
type RFVMetrics struct {
	Validations     int64   `json:"validations"`
	Conflicts       int64   `json:"conflicts"`
	Commits         int64   `json:"commits"`
	Deletes         int64   `json:"deletes"`
	DeleteBlocked   int64   `json:"deleteBlocked"`
	ExternalErrors  int64   `json:"externalErrors"`
	Classifications int64   `json:"classifications"`
	CacheHitRate    float64 `json:"cacheHitRate"`
}

// ParameterDefaults is what a new draft starts from.
type ParameterDefaults struct {
	Draft    *ParameterSet `json:"draft"`
	Segments []Segment     `json:"segments"`
}

// CommitResult is returned by the commit phase.
type CommitResult struct {
	Config     *ParameterSet `json:"config"`
	Created    bool          `json:"created"`
	RetiredIDs []int         `json:"retiredIds,omitempty"`
}
