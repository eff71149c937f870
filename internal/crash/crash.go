package crash

import (
	"b3hybrid/internal/session"
	"b3hybrid/internal/types"
	"b3hybrid/pkg/database"
	"b3hybrid/pkg/watchdog"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	KindCrash = "crash"
	KindHang  = "hang"
)

// CrashManager follows the crashes/ and hangs/ directories of the session and
// records every distinct fault as a bug.
type CrashManager struct {
	db          *gorm.DB
	logger      *zap.Logger
	watchDogFac *watchdog.WatchDogFactory
	target      *types.Target
	paths       session.Paths

	mu   sync.Mutex
	seen map[string]struct{} // md5 of reported faults
	done chan struct{}
}

type CrashManagerParams struct {
	fx.In

	Lc          fx.Lifecycle
	DB          *gorm.DB `optional:"true"`
	Logger      *zap.Logger
	WatchDogFac *watchdog.WatchDogFactory
	Target      *types.Target
	Paths       session.Paths
}

func NewCrashManager(p CrashManagerParams) *CrashManager {
	c := &CrashManager{
		db:          p.DB,
		logger:      p.Logger.Named("crash"),
		watchDogFac: p.WatchDogFac,
		target:      p.Target,
		paths:       p.Paths,
		seen:        make(map[string]struct{}),
		done:        make(chan struct{}),
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c.logger.Debug("starting crash manager")
			return c.start(watchCtx)
		},
		OnStop: func(ctx context.Context) error {
			c.logger.Info("stopping crash manager")
			cancel()
			select {
			case <-c.done:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	})

	return c
}

func (c *CrashManager) start(watchCtx context.Context) error {
	crashChan := make(chan string, 1024)
	watchDog, err := c.watchDogFac.New(watchCtx, crashChan, notHidden)
	if err != nil {
		close(c.done)
		return err
	}
	for _, dir := range []string{c.paths.CrashesDir(), c.paths.HangsDir()} {
		if err := watchDog.AddDir(dir); err != nil {
			c.logger.Error("failed to watch fault directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	go func() {
		defer close(c.done)
		for path := range crashChan {
			msg := types.CrashMessage{CrashFile: path, Kind: kindOf(path), Target: c.target}
			if err := c.processCrashFile(msg); err != nil {
				c.logger.Error("failed to process crash file", zap.Error(err))
			}
		}
		c.logger.Debug("crash channel closed")
	}()
	return nil
}

// processCrashFile processes a single crash file
func (c *CrashManager) processCrashFile(msg types.CrashMessage) error {
	crashData, err := os.ReadFile(msg.CrashFile)
	if err != nil {
		return fmt.Errorf("failed to read crash file: %w", err)
	}
	if len(crashData) == 0 {
		return nil
	}
	crashMd5 := md5.Sum(crashData)
	digest := hex.EncodeToString(crashMd5[:])

	c.mu.Lock()
	_, dup := c.seen[digest]
	c.seen[digest] = struct{}{}
	c.mu.Unlock()
	if dup {
		c.logger.Debug("duplicate fault", zap.String("file", msg.CrashFile), zap.String("md5", digest))
		return nil
	}

	c.logger.Info("new fault found",
		zap.String("kind", msg.Kind),
		zap.String("file", msg.CrashFile),
		zap.String("md5", digest))

	if c.db == nil {
		return nil
	}
	bug := database.NewBug(msg.Target.SessionID, msg.CrashFile, msg.Target.Harness, msg.Kind)
	if err := database.AddBugs(context.Background(), c.db, []*database.Bug{bug}); err != nil {
		return fmt.Errorf("failed to add bug: %w", err)
	}
	return nil
}

// Distinct reports how many distinct faults were seen.
func (c *CrashManager) Distinct() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func notHidden(path string) bool {
	return !strings.HasPrefix(filepath.Base(path), ".")
}

func kindOf(path string) string {
	if filepath.Base(filepath.Dir(path)) == session.HangsDir {
		return KindHang
	}
	return KindCrash
}
