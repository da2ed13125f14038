package extractor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/kiln/pkg/models"
)

const authSnippet = `// AuthMiddleware validates the JWT bearer token on every request.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			http.Error(w, "malformed authorization header", http.StatusUnauthorized)
			return
		}
		claims, err := validateToken(parts[1])
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), userKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validateToken parses and verifies a JWT using the shared signing key.
// Authentication fails closed: any parse error rejects the request.
func validateToken(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return signingKey, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid claims")
	}
	return claims, nil
}`

func testExtractor(t *testing.T) *Extractor {
	t.Helper()
	ext, err := New(24)
	require.NoError(t, err)
	return ext
}

func TestParse_EmptyPayload(t *testing.T) {
	ext := testExtractor(t)
	_, err := ext.Parse(models.SourceCode, "   \n\t  ")
	assert.Error(t, err)
}

func TestParse_NormalizesLineEndings(t *testing.T) {
	ext := testExtractor(t)
	parsed, err := ext.Parse(models.SourceDocument, "line one\r\nline two")
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", parsed.Text)
}

func TestExtract_BelowInformationThreshold(t *testing.T) {
	ext := testExtractor(t)
	parsed, err := ext.Parse(models.SourceCode, "def foo(): pass")
	require.NoError(t, err)

	candidates, err := ext.Extract(parsed)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestExtract_AuthSnippet(t *testing.T) {
	ext := testExtractor(t)
	parsed, err := ext.Parse(models.SourceCode, authSnippet)
	require.NoError(t, err)

	candidates, err := ext.Extract(parsed)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	cand := candidates[0]
	assert.NotEmpty(t, cand.Title)
	assert.NotEmpty(t, cand.Fingerprint)
	assert.Equal(t, models.Fingerprint(parsed.Text), cand.Fingerprint)

	names := make([]string, 0, len(cand.Entities))
	for _, e := range cand.Entities {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "jwt")
	assert.Contains(t, names, "authentication")
}

func TestExtract_Deterministic(t *testing.T) {
	ext := testExtractor(t)
	parsed, err := ext.Parse(models.SourceCode, authSnippet)
	require.NoError(t, err)

	first, err := ext.Extract(parsed)
	require.NoError(t, err)
	second, err := ext.Extract(parsed)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExtract_DocumentSections(t *testing.T) {
	ext := testExtractor(t)
	doc := "# Caching strategy\n\n" + strings.Repeat("Redis caching keeps hot patterns close to the reader. ", 5) +
		"\n\n# Migration plan\n\n" + strings.Repeat("Postgres migration steps must stay additive and idempotent. ", 5)

	parsed, err := ext.Parse(models.SourceDocument, doc)
	require.NoError(t, err)

	candidates, err := ext.Extract(parsed)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "Caching strategy", candidates[0].Title)
	assert.Equal(t, "Migration plan", candidates[1].Title)
	assert.NotEqual(t, candidates[0].Fingerprint, candidates[1].Fingerprint)
}

func TestDetectEntities_ConfidenceGrowsWithOccurrences(t *testing.T) {
	once := DetectEntities("redis")
	many := DetectEntities("redis redis redis redis")
	require.Len(t, once, 1)
	require.Len(t, many, 1)
	assert.Greater(t, many[0].Confidence, once[0].Confidence)
	assert.Less(t, many[0].Confidence, 1.0)
	assert.GreaterOrEqual(t, once[0].Confidence, 0.5)
}

func TestDetectEntities_SortedByName(t *testing.T) {
	entities := DetectEntities("sqlite redis postgres jwt")
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"jwt", "postgres", "redis", "sqlite"}, names)
}
