package sessionvalkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"
)

// compareAndSet writes ARGV[2] with a PX of ARGV[3] only if the version
// field of the stored JSON equals ARGV[1] (0 when the key is absent).
var compareAndSet = valkey.NewLuaScript(`
local current = redis.call('GET', KEYS[1])
local version = 0
if current then
  version = tonumber(cjson.decode(current)['version']) or 0
end
if version ~= tonumber(ARGV[1]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

type store struct {
	valkey valkey.Client
	prefix string
}

func newStore(valkeyClient valkey.Client, prefix string) *store {
	prefix = strings.TrimSuffix(prefix, ":")
	return &store{
		valkey: valkeyClient,
		prefix: prefix,
	}
}

// get decodes the object into decodeInto. found is false for a missing key.
func (s *store) get(ctx context.Context, objectType, objectID string, decodeInto any) (found bool, _ error) {
	key := s.key(objectType, objectID)

	bytes, err := s.valkey.Do(ctx, s.valkey.B().Get().Key(key).Build()).AsBytes()
	if err != nil {
		valkeyErr, ok := valkey.IsValkeyErr(err)
		if ok && valkeyErr.IsNil() {
			return false, nil
		}

		return false, fmt.Errorf("executing get command: %w", err)
	}

	if err := json.Unmarshal(bytes, decodeInto); err != nil {
		return false, fmt.Errorf("unmarshaling json: %w", err)
	}

	return true, nil
}

// casSet stores val if the stored version equals expectedVersion. swapped
// is false when the versions differ.
func (s *store) casSet(ctx context.Context, objectType, id string, expectedVersion int64, val any, ttl time.Duration) (swapped bool, _ error) {
	key := s.key(objectType, id)

	bytes, err := json.Marshal(val)
	if err != nil {
		return false, fmt.Errorf("marshaling json: %w", err)
	}

	res, err := compareAndSet.Exec(ctx, s.valkey,
		[]string{key},
		[]string{strconv.FormatInt(expectedVersion, 10), string(bytes), strconv.FormatInt(ttl.Milliseconds(), 10)},
	).AsInt64()
	if err != nil {
		return false, fmt.Errorf("executing compare-and-set script: %w", err)
	}

	return res == 1, nil
}

func (s *store) destroy(ctx context.Context, objectType, id string) error {
	key := s.key(objectType, id)
	if err := s.valkey.Do(ctx, s.valkey.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("executing del command: %w", err)
	}

	return nil
}

func (s *store) key(objectType string, objectID string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, objectType, objectID)
}
