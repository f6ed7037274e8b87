package spot

import (
	"context"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	aws_v2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// placementBatchSize bounds how many placement lookups are in flight at
// once. GetSpotPlacementScores scores the request's instance-type set as a
// whole (the response has no per-type dimension), so per-type scores take
// one request per type; batches of ten keep the fan-out at the API's own
// per-request type limit.
const placementBatchSize = 10

// placementAPI is the slice of the EC2 API the placement fetcher needs.
type placementAPI interface {
	GetSpotPlacementScores(ctx context.Context, in *ec2.GetSpotPlacementScoresInput, optFns ...func(*ec2.Options)) (*ec2.GetSpotPlacementScoresOutput, error)
}

// placementInput is the disk-cache key material for one placement request.
type placementInput struct {
	Region     string
	Types      []string
	TargetVcpu int
}

// PlacementScores returns the spot placement score per instance type in
// [0,10]; types the API returned nothing for are absent from the result.
// Results are cached on disk for 24 hours.
func (a *Advisor) PlacementScores(ctx context.Context, api placementAPI, region string, types []string, targetVcpu int) (map[string]float64, error) {
	key, err := a.disk.key("placement", placementInput{Region: region, Types: types, TargetVcpu: targetVcpu})
	if err != nil {
		return nil, err
	}
	scores := map[string]float64{}
	if hit, err := a.disk.load(key, placementTTL, &scores); err != nil {
		return nil, err
	} else if hit {
		return scores, nil
	}

	for _, batch := range lo.Chunk(types, placementBatchSize) {
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			firstErr error
		)
		for _, instanceType := range batch {
			wg.Add(1)
			go func(instanceType string) {
				defer wg.Done()
				score, ok, err := a.placementScoreOne(ctx, api, region, instanceType, targetVcpu)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
					return
				}
				if ok {
					scores[instanceType] = score
				}
			}(instanceType)
		}
		wg.Wait()
		if firstErr != nil {
			return nil, firstErr
		}
	}

	if err := a.disk.store(key, scores); err != nil {
		a.lg.Warn("failed to cache placement scores", zap.Error(err))
	}
	return scores, nil
}

// placementScoreOne queries the score for a single type, retrying transient
// API failures.
func (a *Advisor) placementScoreOne(ctx context.Context, api placementAPI, region, instanceType string, targetVcpu int) (float64, bool, error) {
	var out *ec2.GetSpotPlacementScoresOutput
	err := retry.Do(
		func() error {
			var err error
			out, err = api.GetSpotPlacementScores(ctx, &ec2.GetSpotPlacementScoresInput{
				InstanceTypes:          []string{instanceType},
				TargetCapacity:         aws_v2.Int32(int32(targetVcpu)),
				TargetCapacityUnitType: ec2types.TargetCapacityUnitTypeVcpu,
				RegionNames:            []string{region},
			})
			return err
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		a.lg.Warn("placement score request failed",
			zap.String("instance-type", instanceType),
			zap.String("region", region),
			zap.Error(err),
		)
		return 0, false, err
	}

	best := 0.0
	found := false
	for _, s := range out.SpotPlacementScores {
		if s.Score == nil {
			continue
		}
		found = true
		if v := float64(aws_v2.ToInt32(s.Score)); v > best {
			best = v
		}
	}
	return best, found, nil
}
