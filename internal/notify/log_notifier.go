package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/chairwatch/chairwatch/internal/catalog"
)

// LogNotifier writes digests to the log. It backs dry runs and local
// development where no delivery channel is configured.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify logs the digest. An empty posting list is a no-op.
func (n *LogNotifier) Notify(_ context.Context, postings []catalog.Posting) error {
	if len(postings) == 0 {
		return nil
	}
	digest := BuildDigest(postings)
	n.log.Info("digest",
		zap.Int("count", digest.Count),
		zap.String("summary", digest.Summary()))
	return nil
}
