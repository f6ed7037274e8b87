// Package spot ranks spot instance types by interruption risk, placement
// score, and price stability.
package spot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/varadharajaan/aws-infra-setup-sub002/pkg/httputil"
)

// AdvisorDataURL is the public spot advisor dataset.
const AdvisorDataURL = "https://spot-bid-advisor.s3.amazonaws.com/spot-advisor-data.json"

// BandUnknown is the interruption band reported when the advisor dataset
// has no entry for a type.
const BandUnknown = 5

// advisorDataset mirrors the relevant parts of the public dataset:
// per-region per-OS interruption ranges plus instance hardware specs.
type advisorDataset struct {
	SpotAdvisor   map[string]map[string]map[string]advisorEntry `json:"spot_advisor"`
	InstanceTypes map[string]instanceSpec                       `json:"instance_types"`
}

type advisorEntry struct {
	// R is the interruption range index, 0 (<5%) through 4 (>20%).
	R int `json:"r"`
	// S is the savings percentage over on-demand.
	S int `json:"s"`
}

type instanceSpec struct {
	Cores int     `json:"cores"`
	RamGB float64 `json:"ram_gb"`
}

// FetchFunc downloads the advisor dataset; swapped out in tests.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Advisor serves interruption bands and instance specs from the public
// dataset, cached on disk for 24 hours and in memory for the session.
type Advisor struct {
	lg    *zap.Logger
	disk  *diskCache
	mem   *gocache.Cache
	fetch FetchFunc
}

// NewAdvisor creates an Advisor caching under cacheDir.
func NewAdvisor(lg *zap.Logger, cacheDir string) *Advisor {
	a := &Advisor{
		lg:   lg,
		disk: newDiskCache(cacheDir),
		mem:  gocache.New(advisorTTL, 10*time.Minute),
	}
	a.fetch = func(ctx context.Context) ([]byte, error) {
		return httputil.Download(ctx, lg, AdvisorDataURL, 3, 2*time.Second)
	}
	return a
}

const advisorMemKey = "advisor-dataset"

// dataset returns the advisor dataset, downloading it at most once per TTL.
func (a *Advisor) dataset(ctx context.Context) (*advisorDataset, error) {
	if v, ok := a.mem.Get(advisorMemKey); ok {
		return v.(*advisorDataset), nil
	}

	key, err := a.disk.key("spot-advisor", "dataset")
	if err != nil {
		return nil, err
	}
	var ds advisorDataset
	hit, err := a.disk.load(key, advisorTTL, &ds)
	if err != nil {
		return nil, err
	}
	if !hit {
		raw, err := a.fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch spot advisor dataset: %w", err)
		}
		if err := json.Unmarshal(raw, &ds); err != nil {
			return nil, fmt.Errorf("parse spot advisor dataset: %w", err)
		}
		if err := a.disk.store(key, &ds); err != nil {
			a.lg.Warn("failed to cache advisor dataset", zap.Error(err))
		}
		a.lg.Info("refreshed spot advisor dataset",
			zap.Int("regions", len(ds.SpotAdvisor)),
			zap.Int("instance-types", len(ds.InstanceTypes)),
		)
	}
	a.mem.Set(advisorMemKey, &ds, gocache.DefaultExpiration)
	return &ds, nil
}

// Band returns the interruption band for (instanceType, region):
// 0 (<5%) .. 4 (>20%), or BandUnknown when the dataset has no entry.
func (a *Advisor) Band(ctx context.Context, instanceType, region string) (int, error) {
	ds, err := a.dataset(ctx)
	if err != nil {
		return BandUnknown, err
	}
	byOS, ok := ds.SpotAdvisor[region]
	if !ok {
		return BandUnknown, nil
	}
	linux, ok := byOS["Linux"]
	if !ok {
		return BandUnknown, nil
	}
	entry, ok := linux[instanceType]
	if !ok {
		return BandUnknown, nil
	}
	if entry.R < 0 || entry.R > 4 {
		return BandUnknown, nil
	}
	return entry.R, nil
}

// Spec returns the vCPU and memory for an instance type, ok=false when the
// dataset does not know the type.
func (a *Advisor) Spec(ctx context.Context, instanceType string) (vcpus int, memoryGB float64, ok bool, err error) {
	ds, err := a.dataset(ctx)
	if err != nil {
		return 0, 0, false, err
	}
	spec, found := ds.InstanceTypes[instanceType]
	if !found {
		return 0, 0, false, nil
	}
	return spec.Cores, spec.RamGB, true, nil
}
