package sqlite

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/scrypster/vibegraph/pkg/types"
)

// vibeColumns is the column order shared by every SELECT and by scanVibe.
const vibeColumns = `id, name, description, category, keywords, sources, domains, sentiment,
	strength, current_relevance, half_life, decay_rate, first_seen, last_seen, timestamp,
	embedding, related_vibes, influences, metadata, geography`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// vibeRow holds the encoded form of a vibe.
type vibeRow struct {
	keywords, sources, domains     sql.NullString
	relatedVibes, influences       sql.NullString
	metadata, geography            sql.NullString
	embedding                      []byte
	firstSeen, lastSeen, timestamp int64
}

func encodeVibe(v *types.Vibe) (*vibeRow, error) {
	r := &vibeRow{
		embedding: encodeEmbedding(v.Embedding),
		firstSeen: v.FirstSeen.UnixNano(),
		lastSeen:  v.LastSeen.UnixNano(),
		timestamp: v.Timestamp.UnixNano(),
	}
	var err error
	for _, f := range []struct {
		dst  *sql.NullString
		val  interface{}
		skip bool
	}{
		{&r.keywords, v.Keywords, v.Keywords == nil},
		{&r.sources, v.Sources, v.Sources == nil},
		{&r.domains, v.Domains, v.Domains == nil},
		{&r.relatedVibes, v.RelatedVibes, v.RelatedVibes == nil},
		{&r.influences, v.Influences, v.Influences == nil},
		{&r.metadata, v.Metadata, v.Metadata == nil},
		{&r.geography, v.Geography, v.Geography == nil},
	} {
		if f.skip {
			continue
		}
		if *f.dst, err = encodeJSON(f.val); err != nil {
			return nil, goerr.Wrap(err, "failed to encode vibe", goerr.V("id", v.ID))
		}
	}
	return r, nil
}

func encodeJSON(v interface{}) (sql.NullString, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func scanVibe(sc rowScanner) (*types.Vibe, error) {
	var (
		v        types.Vibe
		category string
		r        vibeRow
	)
	err := sc.Scan(&v.ID, &v.Name, &v.Description, &category,
		&r.keywords, &r.sources, &r.domains, &v.Sentiment,
		&v.Strength, &v.CurrentRelevance, &v.HalfLife, &v.DecayRate,
		&r.firstSeen, &r.lastSeen, &r.timestamp,
		&r.embedding, &r.relatedVibes, &r.influences, &r.metadata, &r.geography)
	if err != nil {
		return nil, err
	}

	v.Category = types.Category(category)
	v.FirstSeen = fromNanos(r.firstSeen)
	v.LastSeen = fromNanos(r.lastSeen)
	v.Timestamp = fromNanos(r.timestamp)
	v.Embedding = decodeEmbedding(r.embedding)

	for _, f := range []struct {
		src sql.NullString
		dst interface{}
	}{
		{r.keywords, &v.Keywords},
		{r.sources, &v.Sources},
		{r.domains, &v.Domains},
		{r.relatedVibes, &v.RelatedVibes},
		{r.influences, &v.Influences},
		{r.metadata, &v.Metadata},
		{r.geography, &v.Geography},
	} {
		if !f.src.Valid {
			continue
		}
		if err := json.Unmarshal([]byte(f.src.String), f.dst); err != nil {
			return nil, goerr.Wrap(err, "corrupt vibe column", goerr.V("id", v.ID))
		}
	}
	return &v, nil
}

// encodeEmbedding serializes a vector as little-endian float32.
func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, x := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// indexKeywords returns the lower-cased, de-duplicated keywords stored in
// vibe_keywords.
func indexKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
