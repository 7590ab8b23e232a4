package draws

import (
	"context"
	stdErrors "errors"
	"path/filepath"
	"testing"
	"time"

	xerrors "DrawSight/internal/errors"
	"DrawSight/internal/storage/sqldb"
	"DrawSight/pkg/plugin"
)

func newStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlStore, err := OpenSQLStore(context.Background(), sqldb.Config{
		Driver: sqldb.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "draws.db"),
	})
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { sqlStore.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlStore,
	}
}

func day(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func draw(id int64, date string, numbers ...int) plugin.DrawRecord {
	return plugin.DrawRecord{ID: id, LotteryType: "lotto645", Date: day(date), Numbers: numbers}
}

func TestFetchHistoricalWindowIsRelativeToLatestDraw(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			records := []plugin.DrawRecord{
				draw(3, "2024-03-01", 3, 4, 5),
				draw(1, "2024-01-01", 1, 2, 3),
				draw(2, "2024-02-15", 2, 3, 4),
			}
			if _, err := store.Import(ctx, records); err != nil {
				t.Fatalf("import: %v", err)
			}

			all, err := store.FetchHistorical(ctx, "lotto645", 0)
			if err != nil {
				t.Fatalf("fetch all: %v", err)
			}
			if len(all) != 3 || all[0].ID != 1 || all[2].ID != 3 {
				t.Fatalf("expected ascending order, got %+v", all)
			}

			recent, err := store.FetchHistorical(ctx, "lotto645", 30)
			if err != nil {
				t.Fatalf("fetch window: %v", err)
			}
			if len(recent) != 2 || recent[0].ID != 2 {
				t.Fatalf("expected draws 2 and 3 within 30 days of latest, got %+v", recent)
			}

			empty, err := store.FetchHistorical(ctx, "powerball", 30)
			if err != nil {
				t.Fatalf("fetch unknown type: %v", err)
			}
			if len(empty) != 0 {
				t.Fatalf("expected no draws for unknown type, got %d", len(empty))
			}
		})
	}
}

func TestImportReplacesExistingDraw(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			bonus := 7
			first := draw(1, "2024-01-01", 1, 2, 3)
			if _, err := store.Import(ctx, []plugin.DrawRecord{first}); err != nil {
				t.Fatalf("import: %v", err)
			}
			updated := draw(1, "2024-01-01", 9, 10, 11)
			updated.Bonus = &bonus
			updated.Metadata = map[string]any{"source": "official"}
			if _, err := store.Import(ctx, []plugin.DrawRecord{updated}); err != nil {
				t.Fatalf("re-import: %v", err)
			}

			latest, err := store.Latest(ctx, "lotto645")
			if err != nil {
				t.Fatalf("latest: %v", err)
			}
			if latest.Numbers[0] != 9 || latest.Bonus == nil || *latest.Bonus != 7 {
				t.Fatalf("expected replaced draw, got %+v", latest)
			}
			if latest.Metadata["source"] != "official" {
				t.Fatalf("expected metadata to round trip, got %v", latest.Metadata)
			}

			stats, err := store.Statistics(ctx, "lotto645")
			if err != nil {
				t.Fatalf("stats: %v", err)
			}
			if stats.Total != 1 {
				t.Fatalf("expected one draw after replace, got %d", stats.Total)
			}
		})
	}
}

func TestImportRejectsInvalidRecords(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			bad := []plugin.DrawRecord{
				{ID: 1, Date: day("2024-01-01"), Numbers: []int{1}},
				{ID: 0, LotteryType: "lotto645", Date: day("2024-01-01"), Numbers: []int{1}},
				{ID: 1, LotteryType: "lotto645", Numbers: []int{1}},
				{ID: 1, LotteryType: "lotto645", Date: day("2024-01-01")},
			}
			for i, record := range bad {
				_, err := store.Import(ctx, []plugin.DrawRecord{draw(5, "2024-01-01", 1), record})
				if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
					t.Fatalf("case %d: expected invalid argument, got %v", i, err)
				}
			}
			stats, err := store.Statistics(ctx, "lotto645")
			if err != nil {
				t.Fatalf("stats: %v", err)
			}
			if stats.Total != 0 {
				t.Fatalf("invalid batch must not be partially written, got %d", stats.Total)
			}
		})
	}
}

func TestLatestWithoutDraws(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Latest(context.Background(), "lotto645")
			if !stdErrors.Is(err, ErrNoDraws) {
				t.Fatalf("expected ErrNoDraws, got %v", err)
			}
		})
	}
}

func TestStatisticsAndLotteryTypes(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			records := Synthetic("super_lotto", 20, 7, day("2024-06-30"))
			records = append(records, Synthetic("lotto645", 5, 7, day("2024-06-29"))...)
			if _, err := store.Import(ctx, records); err != nil {
				t.Fatalf("import: %v", err)
			}
			stats, err := store.Statistics(ctx, "super_lotto")
			if err != nil {
				t.Fatalf("stats: %v", err)
			}
			if stats.Total != 20 {
				t.Fatalf("expected 20 draws, got %d", stats.Total)
			}
			if !stats.LastDrawDate.Equal(day("2024-06-30")) {
				t.Fatalf("unexpected last draw date %v", stats.LastDrawDate)
			}
			if !stats.FirstDrawDate.Equal(day("2024-06-30").AddDate(0, 0, -38)) {
				t.Fatalf("unexpected first draw date %v", stats.FirstDrawDate)
			}
			if stats.AverageJackpot == nil || *stats.AverageJackpot <= 0 {
				t.Fatalf("expected average jackpot, got %v", stats.AverageJackpot)
			}

			types, err := store.LotteryTypes(ctx)
			if err != nil {
				t.Fatalf("lottery types: %v", err)
			}
			if len(types) != 2 || types[0] != "lotto645" || types[1] != "super_lotto" {
				t.Fatalf("unexpected lottery types %v", types)
			}
		})
	}
}

func TestSyntheticIsReproducible(t *testing.T) {
	end := day("2024-01-31")
	a := Synthetic("lotto645", 50, 42, end)
	b := Synthetic("lotto645", 50, 42, end)
	c := Synthetic("lotto645", 50, 43, end)
	if len(a) != 50 {
		t.Fatalf("expected 50 draws, got %d", len(a))
	}
	same := true
	for i := range a {
		for j := range a[i].Numbers {
			if a[i].Numbers[j] != b[i].Numbers[j] {
				t.Fatalf("draw %d differs for identical seeds", i)
			}
			if a[i].Numbers[j] != c[i].Numbers[j] {
				same = false
			}
		}
	}
	if same {
		t.Fatalf("different seeds should produce different draws")
	}
	if !a[49].Date.Equal(end) || !a[48].Date.Equal(end.AddDate(0, 0, -7)) {
		t.Fatalf("unexpected dates %v %v", a[48].Date, a[49].Date)
	}
	for _, r := range a {
		if len(r.Numbers) != 6 {
			t.Fatalf("expected 6 numbers, got %v", r.Numbers)
		}
		seen := map[int]bool{}
		for _, n := range r.Numbers {
			if n < 1 || n > 45 || seen[n] {
				t.Fatalf("invalid numbers %v", r.Numbers)
			}
			seen[n] = true
		}
	}
}

func TestSeedIfEmpty(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	n, err := SeedIfEmpty(ctx, store, "lotto645", 60, 1)
	if err != nil || n != 60 {
		t.Fatalf("expected 60 seeded draws, got %d, %v", n, err)
	}
	n, err = SeedIfEmpty(ctx, store, "lotto645", 60, 1)
	if err != nil || n != 0 {
		t.Fatalf("expected second seed to be skipped, got %d, %v", n, err)
	}
}
