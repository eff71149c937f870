package dict

import (
	"b3hybrid/config"
	"b3hybrid/internal/types"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const DictRedisKey = "artifacts:%s:dicts" // artifacts:<harness_name>:dicts

var errNotQuoted = errors.New("token is not a quoted string")

// Dictionary holds the tokens mutations may splice into inputs.
type Dictionary struct {
	Tokens [][]byte
}

func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Tokens)
}

type DictGrabber struct {
	logger      *zap.Logger
	redisClient *redis.Client
}

type DictGrabberParams struct {
	fx.In

	Logger      *zap.Logger
	RedisClient *redis.Client `optional:"true"`
}

func NewDictGrabber(params DictGrabberParams) *DictGrabber {
	return &DictGrabber{
		params.Logger.Named("dict"),
		params.RedisClient,
	}
}

// NewDictionary loads the configured dictionaries at startup. A dictionary
// that fails to load is logged and left out.
func NewDictionary(grabber *DictGrabber, target *types.Target, appConfig *config.AppConfig) *Dictionary {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return grabber.GrabDict(ctx, target.Harness, appConfig.Target.DictPaths)
}

// GrabDict merges the given dictionary files with the ones recorded in redis
// for the harness. Tokens are deduplicated; unreadable files are skipped.
func (d *DictGrabber) GrabDict(ctx context.Context, harness string, paths []string) *Dictionary {
	dictPaths := append([]string(nil), paths...)

	if d.redisClient != nil {
		key := fmt.Sprintf(DictRedisKey, harness)
		redisPaths, err := d.redisClient.SMembers(ctx, key).Result()
		if err != nil {
			d.logger.Warn("failed to get dict set from redis", zap.String("key", key), zap.Error(err))
		} else {
			d.logger.Info("Got dicts from Redis", zap.String("harness", harness), zap.Int("numDicts", len(redisPaths)))
			dictPaths = append(dictPaths, redisPaths...)
		}
	}

	dict := &Dictionary{}
	seen := make(map[string]struct{})
	for _, path := range dictPaths {
		content, err := os.ReadFile(path)
		if err != nil {
			d.logger.Warn("failed to read dict file", zap.String("path", path), zap.Error(err))
			continue
		}
		for lineNo, line := range strings.Split(string(content), "\n") {
			token, err := ParseLine(line)
			if err != nil {
				d.logger.Debug("skipping dict line", zap.String("path", path), zap.Int("line", lineNo+1), zap.Error(err))
				continue
			}
			if token == nil {
				continue
			}
			if _, ok := seen[string(token)]; ok {
				continue
			}
			seen[string(token)] = struct{}{}
			dict.Tokens = append(dict.Tokens, token)
		}
	}

	if len(dictPaths) > 0 {
		d.logger.Info("loaded dictionary", zap.Int("files", len(dictPaths)), zap.Int("tokens", len(dict.Tokens)))
	}
	return dict
}

// ParseLine decodes one line of an AFL-style dictionary:
//
//	# comment
//	keyword_name="value with \x00 escapes"
//	"bare value"
//
// Blank lines and comments yield a nil token.
func ParseLine(line string) ([]byte, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, nil
	}
	if idx := strings.IndexByte(line, '"'); idx > 0 {
		line = line[idx:]
	}
	if len(line) < 2 || line[0] != '"' || line[len(line)-1] != '"' {
		return nil, errNotQuoted
	}
	body := line[1 : len(line)-1]

	var token []byte
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' {
			token = append(token, c)
			continue
		}
		if i+1 >= len(body) {
			return nil, errors.New("dangling escape")
		}
		i++
		switch body[i] {
		case '\\', '"':
			token = append(token, body[i])
		case 'x':
			if i+2 >= len(body) {
				return nil, errors.New("short hex escape")
			}
			b, err := strconv.ParseUint(body[i+1:i+3], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("bad hex escape: %w", err)
			}
			token = append(token, byte(b))
			i += 2
		default:
			return nil, fmt.Errorf("unknown escape \\%c", body[i])
		}
	}
	if len(token) == 0 {
		return nil, errors.New("empty token")
	}
	return token, nil
}
