package rfv

import (
	"strings"
	"time"

	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"
)

// AllFiliaisLabel is the branch name shown for configurations without a filial.
const AllFiliaisLabel = "Todas as filiais"

// ComputeStats counts the configurations by activity, strategy and scope.
func ComputeStats(list []domain.ParameterSet, now time.Time) domain.ParameterStats {
	var st domain.ParameterStats
	for i := range list {
		p := &list[i]
		st.Total++
		if p.IsActiveAt(now) {
			st.Active++
		}
		switch p.Strategy {
		case domain.StrategyAutomatic:
			st.Automatic++
		case domain.StrategyManual:
			st.Manual++
		}
		if p.FilialID != nil {
			st.WithFilial++
		}
	}
	return st
}

// ApplyFilter keeps the configurations matching every set criterion.
// Search is a case-insensitive substring of the name or the branch name.
func ApplyFilter(list []domain.ParameterSet, filiais map[int]string, f domain.ParameterFilter, now time.Time) []domain.ParameterListItem {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	items := make([]domain.ParameterListItem, 0, len(list))
	for i := range list {
		p := &list[i]
		active := p.IsActiveAt(now)
		branch := FilialName(p.FilialID, filiais)

		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(branch), search) {
			continue
		}
		if f.Active != nil && *f.Active != active {
			continue
		}
		if f.FilialID != nil && (p.FilialID == nil || *p.FilialID != *f.FilialID) {
			continue
		}
		if f.Strategy != "" && p.Strategy != f.Strategy {
			continue
		}

		items = append(items, domain.ParameterListItem{
			ParameterSet: *p,
			FilialName:   branch,
			Active:       active,
		})
	}
	return items
}

// FilialName resolves the display name of a scope.
func FilialName(id *int, filiais map[int]string) string {
	if id == nil {
		return AllFiliaisLabel
	}
	return filiais[*id]
}
