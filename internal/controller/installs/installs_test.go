package installcontroller

import (
	"testing"
	"time"

	"github.com/kennethnrk/mixtex-ocr/internal/store"
)

func TestRecordAndLatestInstall(t *testing.T) {
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	if _, found, err := LatestInstall(s); err != nil || found {
		t.Fatalf("LatestInstall() on empty store = %v, %v", found, err)
	}

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if _, err := RecordInstall(s, store.ModelInstall{Dir: "/m", Source: "new", InstalledAt: base.Add(time.Hour)}); err != nil {
		t.Fatalf("RecordInstall() error = %v", err)
	}
	if _, err := RecordInstall(s, store.ModelInstall{Dir: "/m", Source: "old", InstalledAt: base}); err != nil {
		t.Fatalf("RecordInstall() error = %v", err)
	}

	latest, found, err := LatestInstall(s)
	if err != nil || !found {
		t.Fatalf("LatestInstall() = %v, %v", found, err)
	}
	if latest.Source != "new" || latest.ID == "" {
		t.Fatalf("LatestInstall() = %+v, want source new with an id", latest)
	}

	if _, err := RecordInstall(s, store.ModelInstall{}); err == nil {
		t.Fatalf("RecordInstall() without dir = nil error")
	}
}
