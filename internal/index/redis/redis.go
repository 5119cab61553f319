// Package redis queries a prebuilt RediSearch/Valkey vector index with FT.SEARCH KNN.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/rueidis"

	"github.com/spigell/biz-matcher/internal/index"
)

const scoreField = "__vector_score"

var _ index.Index = (*Index)(nil)

// Config holds connection and schema parameters.
type Config struct {
	Addrs    []string
	Username string
	Password string
	DB       int
	// Index is the FT index name.
	Index string
	// VectorField and RowField default to "vector" and "row".
	VectorField string
	RowField    string
}

// Index searches a remote vector index.
type Index struct {
	client      rueidis.Client
	name        string
	vectorField string
	rowField    string
}

// New connects to Redis. The index itself must already exist.
func New(cfg Config) (*Index, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("redis addrs are required")
	}
	if cfg.Index == "" {
		return nil, errors.New("redis index name is required")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
		AlwaysRESP2:  true, // FT.SEARCH replies are parsed as RESP2 arrays
	})
	if err != nil {
		return nil, fmt.Errorf("creating redis client: %w", err)
	}

	return newWithClient(client, cfg), nil
}

func newWithClient(client rueidis.Client, cfg Config) *Index {
	idx := &Index{client: client, name: cfg.Index, vectorField: cfg.VectorField, rowField: cfg.RowField}
	if idx.vectorField == "" {
		idx.vectorField = "vector"
	}
	if idx.rowField == "" {
		idx.rowField = "row"
	}
	return idx
}

// Ping checks connectivity.
func (i *Index) Ping(ctx context.Context) error {
	if err := i.client.Do(ctx, i.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Search runs a KNN query and maps each document to its dataset row.
func (i *Index) Search(ctx context.Context, vector []float32, k int) ([]index.Hit, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(vector) == 0 {
		return nil, errors.New("vector is required")
	}

	kStr := strconv.Itoa(k)
	args := []string{
		i.name,
		fmt.Sprintf("*=>[KNN %d @%s $BLOB]", k, i.vectorField),
		"RETURN", "2", i.rowField, scoreField,
		"SORTBY", scoreField,
		"LIMIT", "0", kStr,
		"PARAMS", "2", "BLOB", string(index.EncodeVector(vector)),
		"DIALECT", "2",
	}

	raw, err := i.client.Do(ctx, i.client.B().Arbitrary("FT.SEARCH").Args(args...).Build()).ToArray()
	if err != nil {
		return nil, fmt.Errorf("ft.search %s: %w", i.name, err)
	}

	hits, err := i.parse(raw)
	if err != nil {
		return nil, err
	}
	index.SortHits(hits)
	return hits, nil
}

// parse reads a RESP2 FT.SEARCH reply: [total, key1, [field, value, ...], key2, ...].
func (i *Index) parse(raw []rueidis.RedisMessage) ([]index.Hit, error) {
	hits := []index.Hit{}
	if len(raw) == 0 {
		return hits, nil
	}
	if _, err := raw[0].AsInt64(); err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}

	for n := 1; n+1 < len(raw); n += 2 {
		key, err := raw[n].ToString()
		if err != nil {
			return nil, fmt.Errorf("parse key: %w", err)
		}
		fields, err := raw[n+1].ToArray()
		if err != nil {
			return nil, fmt.Errorf("parse fields of %s: %w", key, err)
		}

		values := make(map[string]string, len(fields)/2)
		for j := 0; j+1 < len(fields); j += 2 {
			name, errName := fields[j].ToString()
			value, errValue := fields[j+1].ToString()
			if errName == nil && errValue == nil {
				values[name] = value
			}
		}

		row, err := strconv.Atoi(values[i.rowField])
		if err != nil {
			return nil, fmt.Errorf("document %s: invalid %s field %q", key, i.rowField, values[i.rowField])
		}
		dist, err := strconv.ParseFloat(values[scoreField], 32)
		if err != nil {
			return nil, fmt.Errorf("document %s: invalid score %q", key, values[scoreField])
		}
		hits = append(hits, index.Hit{Row: row, Distance: float32(dist)})
	}
	return hits, nil
}

func (i *Index) Close() error {
	i.client.Close()
	return nil
}
