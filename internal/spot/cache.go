package spot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/varadharajaan/aws-infra-setup-sub002/pkg/fileutil"
)

// Cache TTLs per dataset class.
const (
	advisorTTL   = 24 * time.Hour
	placementTTL = 24 * time.Hour
	priceTTL     = time.Hour
)

// cacheEnvelope wraps cached payloads with their write time so TTL checks
// survive process restarts.
type cacheEnvelope struct {
	WrittenAt time.Time       `json:"written-at"`
	Payload   json.RawMessage `json:"payload"`
}

// diskCache persists JSON payloads under a directory, keyed by a stable
// hash of the request inputs. Writes go through a temp-file-and-rename so
// concurrent readers never see a torn file.
type diskCache struct {
	dir string
	now func() time.Time
}

func newDiskCache(dir string) *diskCache {
	return &diskCache{dir: dir, now: time.Now}
}

// key computes a stable cache key for any comparable input set.
func (d *diskCache) key(prefix string, input interface{}) (string, error) {
	h, err := hashstructure.Hash(input, hashstructure.FormatV2, nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%016x.json", prefix, h), nil
}

func (d *diskCache) path(key string) string {
	return filepath.Join(d.dir, key)
}

// load reads a cached payload into out; ok is false when the entry is
// absent or older than ttl.
func (d *diskCache) load(key string, ttl time.Duration, out interface{}) (ok bool, err error) {
	data, err := os.ReadFile(d.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	var env cacheEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		// a corrupt cache entry is treated as a miss
		return false, nil
	}
	if d.now().Sub(env.WrittenAt) > ttl {
		return false, nil
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return false, nil
	}
	return true, nil
}

// store writes a payload under the key.
func (d *diskCache) store(key string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := cacheEnvelope{WrittenAt: d.now(), Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return fileutil.WriteAtomic(d.path(key), data, 0600)
}
