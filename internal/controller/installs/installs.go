package installcontroller

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kennethnrk/mixtex-ocr/internal/store"
)

// RecordInstall stores a model install under a fresh id.
func RecordInstall(s *store.Store, inst store.ModelInstall) (store.ModelInstall, error) {
	if inst.Dir == "" {
		return store.ModelInstall{}, errors.New("install dir cannot be empty")
	}
	inst.ID = uuid.NewString()
	if inst.InstalledAt.IsZero() {
		inst.InstalledAt = time.Now().UTC()
	}
	b, err := json.Marshal(inst)
	if err != nil {
		return store.ModelInstall{}, fmt.Errorf("marshal model install: %w", err)
	}
	if err := s.Put(store.ModelInstallPrefix+inst.ID, b); err != nil {
		return store.ModelInstall{}, err
	}
	return inst, nil
}

// ListInstalls returns every install, oldest first.
func ListInstalls(s *store.Store) ([]store.ModelInstall, error) {
	var installs []store.ModelInstall
	err := s.Scan(store.ModelInstallPrefix, func(key string, raw []byte) error {
		var inst store.ModelInstall
		if err := json.Unmarshal(raw, &inst); err != nil {
			return fmt.Errorf("unmarshal model install %q: %w", key, err)
		}
		installs = append(installs, inst)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(installs, func(i, j int) bool {
		return installs[i].InstalledAt.Before(installs[j].InstalledAt)
	})
	return installs, nil
}

// LatestInstall returns the most recent install.
// Returns (zero ModelInstall, false, nil) if nothing was installed yet.
func LatestInstall(s *store.Store) (store.ModelInstall, bool, error) {
	installs, err := ListInstalls(s)
	if err != nil || len(installs) == 0 {
		return store.ModelInstall{}, false, err
	}
	return installs[len(installs)-1], true, nil
}
