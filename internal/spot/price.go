package spot

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	aws_v2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	pricingtypes "github.com/aws/aws-sdk-go-v2/service/pricing/types"
	"go.uber.org/zap"
)

// AZPriceSummary aggregates the spot price samples of one availability zone.
type AZPriceSummary struct {
	AvailabilityZone string  `json:"availability-zone"`
	Avg              float64 `json:"avg"`
	Min              float64 `json:"min"`
	Max              float64 `json:"max"`
	VolatilityPct    float64 `json:"volatility-pct"`
	SampleCount      int     `json:"sample-count"`
	Latest           float64 `json:"latest"`
}

// PriceSummary is the per-type price history roll-up.
type PriceSummary struct {
	InstanceType   string           `json:"instance-type"`
	ByAZ           []AZPriceSummary `json:"by-az"`
	CurrentPrice   float64          `json:"current-price"`
	AvgPrice       float64          `json:"avg-price"`
	BestAZVolPct   float64          `json:"best-az-vol-pct"`
	MedianAZVolPct float64          `json:"median-az-vol-pct"`
}

// priceInput is the disk-cache key material for one price-history request.
type priceInput struct {
	Region string
	Types  []string
	Days   int
}

// PriceHistory fetches spot price history for the types over the trailing
// window and summarizes it per AZ with region roll-ups. Results are cached
// on disk for one hour.
func (a *Advisor) PriceHistory(ctx context.Context, api ec2.DescribeSpotPriceHistoryAPIClient, region string, types []string, days int) (map[string]PriceSummary, error) {
	if days <= 0 {
		days = 7
	}
	key, err := a.disk.key("price-history", priceInput{Region: region, Types: types, Days: days})
	if err != nil {
		return nil, err
	}
	summaries := map[string]PriceSummary{}
	if hit, err := a.disk.load(key, priceTTL, &summaries); err != nil {
		return nil, err
	} else if hit {
		return summaries, nil
	}

	instanceTypes := make([]ec2types.InstanceType, 0, len(types))
	for _, t := range types {
		instanceTypes = append(instanceTypes, ec2types.InstanceType(t))
	}
	end := time.Now().UTC()
	start := end.Add(-time.Duration(days) * 24 * time.Hour)

	// samples[type][az] in ascending timestamp order
	samples := map[string]map[string][]priceSample{}

	paginator := ec2.NewDescribeSpotPriceHistoryPaginator(api, &ec2.DescribeSpotPriceHistoryInput{
		InstanceTypes: instanceTypes,
		ProductDescriptions: []string{
			"Linux/UNIX",
			"Linux/UNIX (Amazon VPC)",
		},
		StartTime: aws_v2.Time(start),
		EndTime:   aws_v2.Time(end),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, sp := range page.SpotPriceHistory {
			price, err := strconv.ParseFloat(aws_v2.ToString(sp.SpotPrice), 64)
			if err != nil || sp.Timestamp == nil {
				// malformed records are skipped, matching how the
				// price feed is consumed elsewhere
				continue
			}
			it := string(sp.InstanceType)
			az := aws_v2.ToString(sp.AvailabilityZone)
			if samples[it] == nil {
				samples[it] = map[string][]priceSample{}
			}
			samples[it][az] = append(samples[it][az], priceSample{price: price, ts: *sp.Timestamp})
		}
	}

	for it, byAZ := range samples {
		summary := PriceSummary{InstanceType: it}
		var vols []float64
		var allAvgs []float64
		current := math.MaxFloat64
		for az, ss := range byAZ {
			sort.Slice(ss, func(i, j int) bool { return ss[i].ts.Before(ss[j].ts) })
			azs := summarizeAZ(az, ss)
			summary.ByAZ = append(summary.ByAZ, azs)
			vols = append(vols, azs.VolatilityPct)
			allAvgs = append(allAvgs, azs.Avg)
			if azs.Latest < current {
				current = azs.Latest
			}
		}
		sort.Slice(summary.ByAZ, func(i, j int) bool {
			return summary.ByAZ[i].AvailabilityZone < summary.ByAZ[j].AvailabilityZone
		})
		sort.Float64s(vols)
		summary.BestAZVolPct = vols[0]
		summary.MedianAZVolPct = vols[len(vols)/2]
		summary.AvgPrice = mean(allAvgs)
		summary.CurrentPrice = current
		summaries[it] = summary
	}

	if err := a.disk.store(key, summaries); err != nil {
		a.lg.Warn("failed to cache price history", zap.Error(err))
	}
	return summaries, nil
}

type priceSample struct {
	price float64
	ts    time.Time
}

func summarizeAZ(az string, ss []priceSample) AZPriceSummary {
	out := AZPriceSummary{
		AvailabilityZone: az,
		Min:              math.MaxFloat64,
		SampleCount:      len(ss),
	}
	prices := make([]float64, 0, len(ss))
	for _, s := range ss {
		prices = append(prices, s.price)
		if s.price < out.Min {
			out.Min = s.price
		}
		if s.price > out.Max {
			out.Max = s.price
		}
	}
	out.Avg = mean(prices)
	out.Latest = ss[len(ss)-1].price
	if out.Avg > 0 {
		out.VolatilityPct = stddev(prices) / out.Avg * 100
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		sum += (x - m) * (x - m)
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

// OnDemandPrices returns the Linux on-demand hourly price per instance type
// in the region, via the pricing API. The result is cached on disk for
// 24 hours; the price feed moves slowly.
func (a *Advisor) OnDemandPrices(ctx context.Context, api pricing.GetProductsAPIClient, region string, types []string) (map[string]float64, error) {
	key, err := a.disk.key("ondemand", priceInput{Region: region, Types: types})
	if err != nil {
		return nil, err
	}
	prices := map[string]float64{}
	if hit, err := a.disk.load(key, advisorTTL, &prices); err != nil {
		return nil, err
	} else if hit {
		return prices, nil
	}

	wanted := map[string]bool{}
	for _, t := range types {
		wanted[t] = true
	}

	paginator := pricing.NewGetProductsPaginator(api, &pricing.GetProductsInput{
		ServiceCode: aws_v2.String("AmazonEC2"),
		Filters: []pricingtypes.Filter{
			{Field: aws_v2.String("regionCode"), Type: pricingtypes.FilterTypeTermMatch, Value: aws_v2.String(region)},
			{Field: aws_v2.String("serviceCode"), Type: pricingtypes.FilterTypeTermMatch, Value: aws_v2.String("AmazonEC2")},
			{Field: aws_v2.String("preInstalledSw"), Type: pricingtypes.FilterTypeTermMatch, Value: aws_v2.String("NA")},
			{Field: aws_v2.String("operatingSystem"), Type: pricingtypes.FilterTypeTermMatch, Value: aws_v2.String("Linux")},
			{Field: aws_v2.String("capacitystatus"), Type: pricingtypes.FilterTypeTermMatch, Value: aws_v2.String("Used")},
			{Field: aws_v2.String("tenancy"), Type: pricingtypes.FilterTypeTermMatch, Value: aws_v2.String("Shared")},
			{Field: aws_v2.String("marketoption"), Type: pricingtypes.FilterTypeTermMatch, Value: aws_v2.String("OnDemand")},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, doc := range page.PriceList {
			it, price, ok := parsePriceDoc(doc, region)
			if !ok || !wanted[it] {
				continue
			}
			prices[it] = price
		}
	}

	if err := a.disk.store(key, prices); err != nil {
		a.lg.Warn("failed to cache on-demand prices", zap.Error(err))
	}
	return prices, nil
}

// parsePriceDoc extracts (instanceType, hourly price) from one pricing API
// product document. Only the portions we care about are decoded.
func parsePriceDoc(doc string, region string) (string, float64, bool) {
	type priceItem struct {
		Product struct {
			Attributes struct {
				InstanceType string
			}
		}
		Terms struct {
			OnDemand map[string]struct {
				PriceDimensions map[string]struct {
					PricePerUnit map[string]string
				}
			}
		}
	}
	var item priceItem
	if err := json.Unmarshal([]byte(doc), &item); err != nil {
		return "", 0, false
	}
	if item.Product.Attributes.InstanceType == "" {
		return "", 0, false
	}
	currency := "USD"
	if strings.HasPrefix(region, "cn-") {
		currency = "CNY"
	}
	for _, term := range item.Terms.OnDemand {
		for _, dim := range term.PriceDimensions {
			price, err := strconv.ParseFloat(dim.PricePerUnit[currency], 64)
			if err != nil || price == 0 {
				continue
			}
			return item.Product.Attributes.InstanceType, price, true
		}
	}
	return "", 0, false
}
