// Package httputil implements HTTP download utilities.
package httputil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Download fetches the contents of a URL, retrying transient failures.
func Download(ctx context.Context, lg *zap.Logger, u string, retries int, interval time.Duration) ([]byte, error) {
	var lastErr error
	for retries > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		d, err := get(ctx, u)
		if err == nil {
			lg.Info("downloaded", zap.String("url", u), zap.Int("response-size", len(d)))
			return d, nil
		}
		lastErr = err
		lg.Warn("download failed, retrying",
			zap.String("url", u),
			zap.Int("retries-left", retries-1),
			zap.Error(err),
		)
		retries--
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil, fmt.Errorf("download %q failed: %w", u, lastErr)
}

func get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %q", resp.Status)
	}
	return io.ReadAll(resp.Body)
}
