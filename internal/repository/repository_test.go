package repository

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"
	"github.com/boddenberg/rfv-config-bfa-go/internal/infra/rfvapi"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()
	repo, err := New(Config{Driver: DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "rfv-test.db")})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func f64(v float64) *float64 { return &v }

func sampleBody(name string, filial *int, from string, to *string) rfvapi.ParameterBody {
	return rfvapi.ParameterBody{
		Name:     name,
		FilialID: filial,
		RuleRecency: []rfvapi.RecencyBin{
			{Score: 5, MaxDias: f64(30)}, {Score: 4, MaxDias: f64(60)}, {Score: 3, MaxDias: f64(90)},
			{Score: 2, MaxDias: f64(180)}, {Score: 1},
		},
		RuleFrequency: []rfvapi.FrequencyBin{
			{Score: 5, MinCompras: f64(10)}, {Score: 4, MinCompras: f64(6)}, {Score: 3, MinCompras: f64(3)},
			{Score: 2, MinCompras: f64(2)}, {Score: 1},
		},
		RuleValue: []rfvapi.ValueBin{
			{Score: 5, MinValor: f64(5000)}, {Score: 4, MinValor: f64(2000)}, {Score: 3, MinValor: f64(1000)},
			{Score: 2, MinValor: f64(500)}, {Score: 1},
		},
		CalculationStrategy: "automatic",
		ClassRanges: &rfvapi.ClassRanges{
			Bronze: domain.TierRange{Min: 3, Max: 7},
			Prata:  domain.TierRange{Min: 8, Max: 11},
			Ouro:   domain.TierRange{Min: 12, Max: 15},
		},
		EffectiveFrom: from,
		EffectiveTo:   to,
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SeededFiliais", func(t *testing.T) {
		filiais, err := repo.ListFiliais(ctx)
		if err != nil {
			t.Fatalf("ListFiliais failed: %v", err)
		}
		if len(filiais) != len(seedFiliais) {
			t.Errorf("expected %d filiais, got %d", len(seedFiliais), len(filiais))
		}
	})

	var created *rfvapi.ParameterFromAPI

	t.Run("CreateAndGet", func(t *testing.T) {
		filial := 10
		var err error
		created, err = repo.CreateParameter(ctx, sampleBody("Centro", &filial, "2026-01-01", nil))
		if err != nil {
			t.Fatalf("CreateParameter failed: %v", err)
		}
		if created.ID == 0 {
			t.Fatal("expected generated id")
		}

		got, err := repo.GetParameter(ctx, created.ID)
		if err != nil {
			t.Fatalf("GetParameter failed: %v", err)
		}
		if got.Name != "Centro" || got.FilialID == nil || *got.FilialID != 10 {
			t.Errorf("unexpected row %+v", got)
		}
		if len(got.RuleRecency) != 5 || *got.RuleRecency[0].MaxDias != 30 || got.RuleRecency[4].MaxDias != nil {
			t.Errorf("recency bins not round-tripped: %+v", got.RuleRecency)
		}
		if got.ClassRanges == nil || got.ClassRanges.Ouro.Min != 12 {
			t.Errorf("class ranges not round-tripped: %+v", got.ClassRanges)
		}
		if got.EffectiveTo != nil {
			t.Errorf("expected open-ended, got %v", *got.EffectiveTo)
		}
	})

	t.Run("Update", func(t *testing.T) {
		to := "2026-06-01"
		body := sampleBody("Centro v2", created.FilialID, "2026-01-01", &to)
		updated, err := repo.UpdateParameter(ctx, created.ID, body)
		if err != nil {
			t.Fatalf("UpdateParameter failed: %v", err)
		}
		if updated.Name != "Centro v2" || updated.EffectiveTo == nil || *updated.EffectiveTo != to {
			t.Errorf("unexpected updated row %+v", updated)
		}
	})

	t.Run("UpdateUnknown", func(t *testing.T) {
		_, err := repo.UpdateParameter(ctx, 9999, sampleBody("X", nil, "2026-01-01", nil))
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		_, err := repo.CreateParameter(ctx, sampleBody("", nil, "2026-01-01", nil))
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for empty name, got %v", err)
		}
		_, err = repo.CreateParameter(ctx, sampleBody("X", nil, "01/01/2026", nil))
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for bad date, got %v", err)
		}
	})

	t.Run("SegmentsBlockDelete", func(t *testing.T) {
		seg, err := repo.CreateSegment(ctx, rfvapi.SegmentBody{
			SegmentName:    "Campeões",
			Rules:          domain.SegmentRules{R: ">=4", F: ">=4"},
			Priority:       1,
			ParameterSetID: created.ID,
		})
		if err != nil {
			t.Fatalf("CreateSegment failed: %v", err)
		}

		err = repo.DeleteParameter(ctx, created.ID)
		var constraint *ConstraintError
		if !errors.As(err, &constraint) {
			t.Fatalf("expected ConstraintError, got %v", err)
		}
		if !strings.Contains(strings.ToLower(constraint.Error()), "foreign key") {
			t.Errorf("expected raw foreign key message, got %q", constraint.Error())
		}
		if _, err := repo.GetParameter(ctx, created.ID); err != nil {
			t.Errorf("configuration must survive a refused delete: %v", err)
		}

		segs, err := repo.ListSegments(ctx, &created.ID)
		if err != nil || len(segs) != 1 || segs[0].Rules.R != ">=4" {
			t.Fatalf("unexpected segments %+v (%v)", segs, err)
		}

		if err := repo.DeleteSegment(ctx, seg.ID); err != nil {
			t.Fatalf("DeleteSegment failed: %v", err)
		}
		if err := repo.DeleteParameter(ctx, created.ID); err != nil {
			t.Errorf("expected delete to succeed once segments are gone, got %v", err)
		}
		if err := repo.DeleteParameter(ctx, created.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
	})

	t.Run("SegmentForUnknownSet", func(t *testing.T) {
		_, err := repo.CreateSegment(ctx, rfvapi.SegmentBody{SegmentName: "X", ParameterSetID: 4242})
		var constraint *ConstraintError
		if !errors.As(err, &constraint) {
			t.Errorf("expected ConstraintError, got %v", err)
		}
	})
}

func TestListParameters_Filters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	centro, norte := 10, 20
	ended := "2026-03-01"
	mustCreate := func(b rfvapi.ParameterBody) {
		t.Helper()
		if _, err := repo.CreateParameter(ctx, b); err != nil {
			t.Fatalf("CreateParameter failed: %v", err)
		}
	}
	mustCreate(sampleBody("Centro atual", &centro, "2026-03-01", nil))
	mustCreate(sampleBody("Centro antigo", &centro, "2026-01-01", &ended))
	mustCreate(sampleBody("Norte futuro", &norte, "2027-01-01", nil))
	mustCreate(sampleBody("Global", nil, "2025-01-01", nil))

	q := ParameterQuery{Today: "2026-10-17"}

	all, err := repo.ListParameters(ctx, q)
	if err != nil || len(all) != 4 {
		t.Fatalf("expected 4 rows, got %d (%v)", len(all), err)
	}

	q.FilialID = &centro
	byFilial, _ := repo.ListParameters(ctx, q)
	if len(byFilial) != 2 {
		t.Errorf("expected 2 rows for filial 10, got %d", len(byFilial))
	}

	active := true
	q = ParameterQuery{Today: "2026-10-17", Active: &active}
	activeRows, _ := repo.ListParameters(ctx, q)
	names := []string{}
	for _, p := range activeRows {
		names = append(names, p.Name)
	}
	if len(activeRows) != 2 || names[0] != "Centro atual" || names[1] != "Global" {
		t.Errorf("unexpected active rows %v", names)
	}

	inactive := false
	q.Active = &inactive
	inactiveRows, _ := repo.ListParameters(ctx, q)
	if len(inactiveRows) != 2 {
		t.Errorf("expected 2 inactive rows, got %d", len(inactiveRows))
	}
}

func TestRebind(t *testing.T) {
	r := &SQLRepository{driver: DriverPostgres}
	if got := r.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("unexpected rebind %q", got)
	}
	r.driver = DriverSQLite
	if got := r.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite queries must not change, got %q", got)
	}
}

func TestCreateParameter_NormalizesTimestampDates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	to := "2026-12-01T18:30:00Z"
	created, err := repo.CreateParameter(ctx, sampleBody("Carimbo", nil, "2026-10-01T09:00:00-03:00", &to))
	if err != nil {
		t.Fatalf("CreateParameter failed: %v", err)
	}
	if created.EffectiveFrom != "2026-10-01" || created.EffectiveTo == nil || *created.EffectiveTo != "2026-12-01" {
		t.Errorf("expected plain dates, got from %q to %v", created.EffectiveFrom, created.EffectiveTo)
	}

	active := true
	rows, err := repo.ListParameters(ctx, ParameterQuery{Today: "2026-10-01", Active: &active})
	if err != nil || len(rows) != 1 {
		t.Errorf("expected the configuration active on its first day, got %d rows (%v)", len(rows), err)
	}
}
