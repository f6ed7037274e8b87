package spot

import (
	"context"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"go.uber.org/zap"
)

// DataQuality marks whether each upstream dataset produced a value for a
// candidate type.
type DataQuality struct {
	Advisor   string `json:"advisor"`
	Placement string `json:"placement"`
	Price     string `json:"price"`
}

const (
	QualityOK      = "ok"
	QualityMissing = "missing"
)

// SpotAnalysis is one ranked candidate instance type.
type SpotAnalysis struct {
	InstanceType     string      `json:"instance-type"`
	CurrentPrice     float64     `json:"current-price"`
	AvgPrice         float64     `json:"avg-price"`
	OnDemandPrice    float64     `json:"on-demand-price,omitempty"`
	VolatilityPct    float64     `json:"volatility-pct"`
	InterruptionBand int         `json:"interruption-band"`
	PlacementScore   float64     `json:"placement-score"`
	Confidence       float64     `json:"confidence"`
	Vcpus            int         `json:"vcpus"`
	MemoryGB         float64     `json:"memory-gb"`
	DataQuality      DataQuality `json:"data-quality"`
	Degraded         bool        `json:"degraded,omitempty"`
}

// Filters narrows the candidate set before scoring.
type Filters struct {
	MinVcpus    int
	MaxVcpus    int
	MinMemoryGB float64
	MaxMemoryGB float64
	TargetVcpu  int

	// FailFast gates out any type whose advisor or placement data is
	// missing; when false such types are returned flagged Degraded.
	FailFast bool
}

// analyzeAPI is the slice of the EC2 API Analyze needs.
type analyzeAPI interface {
	placementAPI
	ec2.DescribeSpotPriceHistoryAPIClient
}

// familyPrefixes maps a workload class to the instance family prefixes it
// admits; "mixed" admits everything.
var familyPrefixes = map[string][]string{
	"general":     {"m", "t", "a1"},
	"compute":     {"c"},
	"memory":      {"r", "x", "z", "u-"},
	"storage":     {"i", "d", "h1", "im", "is"},
	"accelerated": {"p", "g", "inf", "trn", "f1", "dl", "vt"},
}

// matchesFamily reports whether the instance type belongs to the workload
// class. Prefixes are matched against the family portion before the first
// dot, longest prefix first so "inf1" is accelerated rather than storage.
func matchesFamily(instanceType, workloadClass string) bool {
	if workloadClass == "" || workloadClass == "mixed" {
		return true
	}
	if _, ok := familyPrefixes[workloadClass]; !ok {
		return false
	}
	family := instanceType
	if i := strings.IndexByte(instanceType, '.'); i >= 0 {
		family = instanceType[:i]
	}
	best := 0
	bestClass := ""
	for class, ps := range familyPrefixes {
		for _, p := range ps {
			if strings.HasPrefix(family, p) && len(p) > best {
				best = len(p)
				bestClass = class
			}
		}
	}
	return bestClass == workloadClass
}

// bandPoints maps interruption bands to their contribution base; band 5
// (unknown) scores zero.
var bandPoints = [...]float64{100, 80, 60, 40, 20, 0}

// volatilityPoints buckets price volatility at the 5/10/20/30 percent
// thresholds.
func volatilityPoints(volPct float64) float64 {
	switch {
	case volPct < 5:
		return 100
	case volPct < 10:
		return 75
	case volPct < 20:
		return 50
	case volPct < 30:
		return 25
	default:
		return 0
	}
}

// confidence is the weighted score: interruption 45%, placement 40%,
// volatility 15%.
func confidence(band int, placementScore, volPct float64) float64 {
	return 0.45*bandPoints[band] + 0.40*placementScore*10 + 0.15*volatilityPoints(volPct)
}

// Analyze ranks the instance types available in the region for the workload
// class, best candidate first. Missing advisor or placement data gates a
// type out under FailFast; otherwise the type is kept and flagged degraded.
// pricingAPI annotates each candidate with its on-demand hourly price for
// the spot-vs-on-demand comparison; nil skips the annotation, and a pricing
// failure never gates a candidate.
func (a *Advisor) Analyze(ctx context.Context, api analyzeAPI, pricingAPI pricing.GetProductsAPIClient, region, workloadClass string, f Filters) ([]SpotAnalysis, error) {
	ds, err := a.dataset(ctx)
	if err != nil {
		return nil, err
	}

	candidates := a.candidateTypes(ds, region, workloadClass, f)
	if len(candidates) == 0 {
		a.lg.Warn("no candidate instance types after filtering",
			zap.String("region", region),
			zap.String("workload-class", workloadClass),
		)
		return nil, nil
	}

	targetVcpu := f.TargetVcpu
	if targetVcpu <= 0 {
		targetVcpu = 16
	}
	placement, err := a.PlacementScores(ctx, api, region, candidates, targetVcpu)
	if err != nil {
		if f.FailFast {
			return nil, err
		}
		a.lg.Warn("placement scores unavailable, continuing degraded", zap.Error(err))
		placement = map[string]float64{}
	}
	prices, err := a.PriceHistory(ctx, api, region, candidates, 7)
	if err != nil {
		if f.FailFast {
			return nil, err
		}
		a.lg.Warn("price history unavailable, continuing degraded", zap.Error(err))
		prices = map[string]PriceSummary{}
	}
	onDemand := map[string]float64{}
	if pricingAPI != nil {
		if onDemand, err = a.OnDemandPrices(ctx, pricingAPI, region, candidates); err != nil {
			a.lg.Warn("on-demand prices unavailable", zap.Error(err))
			onDemand = map[string]float64{}
		}
	}

	results := make([]SpotAnalysis, 0, len(candidates))
	for _, it := range candidates {
		band, err := a.Band(ctx, it, region)
		if err != nil {
			return nil, err
		}
		spec := ds.InstanceTypes[it]

		analysis := SpotAnalysis{
			InstanceType:     it,
			InterruptionBand: band,
			Vcpus:            spec.Cores,
			MemoryGB:         spec.RamGB,
			DataQuality: DataQuality{
				Advisor:   QualityOK,
				Placement: QualityMissing,
				Price:     QualityMissing,
			},
		}
		if band == BandUnknown {
			analysis.DataQuality.Advisor = QualityMissing
		}
		if score, ok := placement[it]; ok {
			analysis.PlacementScore = score
			analysis.DataQuality.Placement = QualityOK
		}
		if ps, ok := prices[it]; ok {
			analysis.CurrentPrice = ps.CurrentPrice
			analysis.AvgPrice = ps.AvgPrice
			analysis.VolatilityPct = ps.BestAZVolPct
			analysis.DataQuality.Price = QualityOK
		}
		analysis.OnDemandPrice = onDemand[it]

		gated := analysis.DataQuality.Advisor == QualityMissing ||
			analysis.DataQuality.Placement == QualityMissing
		if gated {
			if f.FailFast {
				a.lg.Debug("gating out instance type",
					zap.String("instance-type", it),
					zap.String("advisor", analysis.DataQuality.Advisor),
					zap.String("placement", analysis.DataQuality.Placement),
				)
				continue
			}
			analysis.Degraded = true
		}
		if analysis.DataQuality.Price == QualityMissing {
			analysis.Degraded = true
		}

		analysis.Confidence = confidence(band, analysis.PlacementScore, analysis.VolatilityPct)
		results = append(results, analysis)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Confidence != results[j].Confidence {
			return results[i].Confidence > results[j].Confidence
		}
		return results[i].CurrentPrice < results[j].CurrentPrice
	})
	return results, nil
}

// candidateTypes lists the types the advisor dataset knows in the region
// that pass the family and hardware filters, in stable order.
func (a *Advisor) candidateTypes(ds *advisorDataset, region, workloadClass string, f Filters) []string {
	linux := ds.SpotAdvisor[region]["Linux"]
	types := make([]string, 0, len(linux))
	for it := range linux {
		if !matchesFamily(it, workloadClass) {
			continue
		}
		spec, ok := ds.InstanceTypes[it]
		if !ok {
			continue
		}
		if f.MinVcpus > 0 && spec.Cores < f.MinVcpus {
			continue
		}
		if f.MaxVcpus > 0 && spec.Cores > f.MaxVcpus {
			continue
		}
		if f.MinMemoryGB > 0 && spec.RamGB < f.MinMemoryGB {
			continue
		}
		if f.MaxMemoryGB > 0 && spec.RamGB > f.MaxMemoryGB {
			continue
		}
		types = append(types, it)
	}
	sort.Strings(types)
	return types
}
