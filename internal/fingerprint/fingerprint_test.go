package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentIgnoresWhitespaceReflow(t *testing.T) {
	t.Parallel()

	a := Content("Senior Lecturer in   Psychology\nKing's College London")
	b := Content("Senior Lecturer in Psychology King's College London")
	require.Equal(t, a, b)
	require.Len(t, a, 64)
}

func TestContentDetectsDrift(t *testing.T) {
	t.Parallel()

	require.NotEqual(t, Content("closing date 2025-06-01"), Content("closing date 2025-07-01"))
}

func TestEnrichmentKeyVariesByPromptVersion(t *testing.T) {
	t.Parallel()

	fp := Content("advert text")
	v1 := EnrichmentKey("relevance-v1", fp)
	v2 := EnrichmentKey("relevance-v2", fp)
	require.NotEqual(t, v1, v2)
	require.Equal(t, v1, EnrichmentKey("relevance-v1", fp))
}
