package index

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"strconv"

	chromem "github.com/philippgille/chromem-go"

	"github.com/threadwise/ragcore/common/logger"
	"github.com/threadwise/ragcore/config"
	"github.com/threadwise/ragcore/schema"
)

// ChromemIndex is the embedded-database backend. It keeps vectors in a
// chromem-go collection, persisted to disk when a path is configured.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewChromem opens (or creates) the chromem collection. An empty Path
// selects a purely in-memory database.
func NewChromem(cfg config.IndexConfig) (*ChromemIndex, error) {
	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem database failed, err: %w", err)
		}
	}
	coll, err := db.GetOrCreateCollection(cfg.Collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get chromem collection failed, err: %w", err)
	}
	return &ChromemIndex{db: db, collection: coll}, nil
}

func (c *ChromemIndex) Add(ctx context.Context, chunks []schema.TextChunk) error {
	docs := make([]chromem.Document, 0, len(chunks))
	for _, chunk := range chunks {
		if !chunk.HasEmbedding() {
			logger.Warnf("index: skipping chunk %s without embedding", chunk.ID)
			continue
		}
		docs = append(docs, chromem.Document{
			ID:        chunk.ID,
			Content:   chunk.Text,
			Embedding: chunk.Embedding,
			Metadata: map[string]string{
				"parent_id":   chunk.ParentID,
				"order_index": strconv.FormatUint(uint64(chunk.OrderIndex), 10),
				"author_name": chunk.AuthorName,
				"author_type": string(chunk.AuthorType),
			},
		})
	}
	if len(docs) == 0 {
		return nil
	}
	if err := c.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return &schema.RepositoryError{Op: "chromem add", Err: err}
	}
	return nil
}

func (c *ChromemIndex) Search(ctx context.Context, vector []float32, topK int) ([]schema.Match, error) {
	if topK <= 0 {
		topK = 5
	}
	count := c.collection.Count()
	if count == 0 {
		return []schema.Match{}, nil
	}
	n := topK
	if n > count {
		n = count
	}
	results, err := c.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vector,
		NResults:       n,
	})
	if err != nil {
		return nil, &schema.RepositoryError{Op: "chromem query", Err: err}
	}

	matches := make([]schema.Match, 0, len(results))
	for _, res := range results {
		var order uint64
		if v, ok := res.Metadata["order_index"]; ok {
			order, _ = strconv.ParseUint(v, 10, 32)
		}
		chunk := schema.TextChunk{
			ID:         res.ID,
			ParentID:   res.Metadata["parent_id"],
			OrderIndex: uint32(order),
			Text:       res.Content,
			AuthorName: res.Metadata["author_name"],
			AuthorType: schema.AuthorType(res.Metadata["author_type"]),
		}
		matches = append(matches, schema.Match{Chunk: chunk, Distance: cosineToL2(res.Similarity)})
	}
	sortMatches(matches)
	return matches, nil
}

func (c *ChromemIndex) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return &schema.RepositoryError{Op: "chromem delete", Err: err}
	}
	return nil
}

func (c *ChromemIndex) Count(ctx context.Context) (int, error) {
	return c.collection.Count(), nil
}

// cosineToL2 converts a cosine similarity over unit vectors to the
// equivalent euclidean distance: d^2 = 2 - 2*sim.
func cosineToL2(sim float32) float64 {
	d2 := 2 - 2*float64(sim)
	if d2 < 0 {
		d2 = 0
	}
	return math.Sqrt(d2)
}
