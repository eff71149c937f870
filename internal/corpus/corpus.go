package corpus

import (
	"context"

	"go.uber.org/fx"
)

type Grabber interface {
	// grab extra seeds for the given harness. It should always return a path to a tar.gz file
	GrabCorpusBlob(ctx context.Context, harness string) (string, error)
}

var CorpusModule = fx.Options(
	fx.Provide(NewStore),
	fx.Provide(NewSeedCollector),
	fx.Provide(NewCminSeedGrabber),
	fx.Provide(NewDBSeedGrabber),
)
