package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/threadwise/ragcore/common/logger"
	"github.com/threadwise/ragcore/config"
	"github.com/threadwise/ragcore/schema"
)

const (
	milvusFieldID         = "id"
	milvusFieldParentID   = "parent_id"
	milvusFieldOrderIndex = "order_index"
	milvusFieldText       = "text"
	milvusFieldAuthor     = "author_name"
	milvusFieldAuthorType = "author_type"
	milvusFieldVector     = "vector"
)

// MilvusIndex is the external-storage-backed backend. The collection is
// created on demand with an IVF_FLAT index over the L2 metric.
type MilvusIndex struct {
	cli        client.Client
	collection string
	dimension  int
}

// NewMilvus connects to a Milvus deployment and ensures the collection
// exists and is loaded.
func NewMilvus(cfg config.IndexConfig, dimension int) (*MilvusIndex, error) {
	if dimension <= 0 {
		dimension = schema.TargetDimension
	}
	ctx := context.Background()
	cli, err := client.NewClient(ctx, client.Config{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DBName:   cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("create milvus client failed, err: %w", err)
	}

	m := &MilvusIndex{cli: cli, collection: cfg.Collection, dimension: dimension}
	if err := m.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MilvusIndex) ensureCollection(ctx context.Context) error {
	has, err := m.cli.HasCollection(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("check milvus collection failed, err: %w", err)
	}
	if !has {
		sch := &entity.Schema{
			CollectionName: m.collection,
			Fields: []*entity.Field{
				entity.NewField().WithName(milvusFieldID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64).WithIsPrimaryKey(true),
				entity.NewField().WithName(milvusFieldParentID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64),
				entity.NewField().WithName(milvusFieldOrderIndex).WithDataType(entity.FieldTypeInt64),
				entity.NewField().WithName(milvusFieldText).WithDataType(entity.FieldTypeVarChar).WithMaxLength(10240),
				entity.NewField().WithName(milvusFieldAuthor).WithDataType(entity.FieldTypeVarChar).WithMaxLength(256),
				entity.NewField().WithName(milvusFieldAuthorType).WithDataType(entity.FieldTypeVarChar).WithMaxLength(32),
				entity.NewField().WithName(milvusFieldVector).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(m.dimension)),
			},
		}
		if err := m.cli.CreateCollection(ctx, sch, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("create milvus collection failed, err: %w", err)
		}
		idx, err := entity.NewIndexIvfFlat(entity.L2, 128)
		if err != nil {
			return fmt.Errorf("create milvus index params failed, err: %w", err)
		}
		if err := m.cli.CreateIndex(ctx, m.collection, milvusFieldVector, idx, false); err != nil {
			return fmt.Errorf("create milvus index failed, err: %w", err)
		}
		logger.Infof("index: created milvus collection %s (dim %d)", m.collection, m.dimension)
	}
	if err := m.cli.LoadCollection(ctx, m.collection, false); err != nil {
		return fmt.Errorf("load milvus collection failed, err: %w", err)
	}
	return nil
}

func (m *MilvusIndex) Add(ctx context.Context, chunks []schema.TextChunk) error {
	ids := make([]string, 0, len(chunks))
	parents := make([]string, 0, len(chunks))
	orders := make([]int64, 0, len(chunks))
	texts := make([]string, 0, len(chunks))
	authors := make([]string, 0, len(chunks))
	authorTypes := make([]string, 0, len(chunks))
	vectors := make([][]float32, 0, len(chunks))

	for _, c := range chunks {
		if !c.HasEmbedding() || len(c.Embedding) != m.dimension {
			continue
		}
		ids = append(ids, c.ID)
		parents = append(parents, c.ParentID)
		orders = append(orders, int64(c.OrderIndex))
		texts = append(texts, c.Text)
		authors = append(authors, c.AuthorName)
		authorTypes = append(authorTypes, string(c.AuthorType))
		vectors = append(vectors, c.Embedding)
	}
	if len(ids) == 0 {
		return nil
	}

	_, err := m.cli.Insert(ctx, m.collection, "",
		entity.NewColumnVarChar(milvusFieldID, ids),
		entity.NewColumnVarChar(milvusFieldParentID, parents),
		entity.NewColumnInt64(milvusFieldOrderIndex, orders),
		entity.NewColumnVarChar(milvusFieldText, texts),
		entity.NewColumnVarChar(milvusFieldAuthor, authors),
		entity.NewColumnVarChar(milvusFieldAuthorType, authorTypes),
		entity.NewColumnFloatVector(milvusFieldVector, m.dimension, vectors),
	)
	if err != nil {
		return &schema.RepositoryError{Op: "milvus insert", Err: err}
	}
	if err := m.cli.Flush(ctx, m.collection, false); err != nil {
		return &schema.RepositoryError{Op: "milvus flush", Err: err}
	}
	return nil
}

func (m *MilvusIndex) Search(ctx context.Context, vector []float32, topK int) ([]schema.Match, error) {
	if topK <= 0 {
		topK = 5
	}
	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, &schema.RepositoryError{Op: "milvus search params", Err: err}
	}

	results, err := m.cli.Search(ctx, m.collection, nil, "",
		[]string{milvusFieldID, milvusFieldParentID, milvusFieldOrderIndex, milvusFieldText, milvusFieldAuthor, milvusFieldAuthorType},
		[]entity.Vector{entity.FloatVector(vector)},
		milvusFieldVector, entity.L2, topK, sp)
	if err != nil {
		return nil, &schema.RepositoryError{Op: "milvus search", Err: err}
	}

	matches := make([]schema.Match, 0, topK)
	for _, res := range results {
		for i := 0; i < res.ResultCount; i++ {
			chunk, err := m.rowToChunk(res, i)
			if err != nil {
				return nil, &schema.RepositoryError{Op: "milvus decode", Err: err}
			}
			matches = append(matches, schema.Match{Chunk: chunk, Distance: float64(res.Scores[i])})
		}
	}

	// milvus orders by distance but knows nothing of OrderIndex ties
	sortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *MilvusIndex) rowToChunk(res client.SearchResult, i int) (schema.TextChunk, error) {
	var chunk schema.TextChunk

	id, err := varcharAt(res.Fields.GetColumn(milvusFieldID), i)
	if err != nil {
		return chunk, err
	}
	parent, err := varcharAt(res.Fields.GetColumn(milvusFieldParentID), i)
	if err != nil {
		return chunk, err
	}
	text, err := varcharAt(res.Fields.GetColumn(milvusFieldText), i)
	if err != nil {
		return chunk, err
	}
	author, err := varcharAt(res.Fields.GetColumn(milvusFieldAuthor), i)
	if err != nil {
		return chunk, err
	}
	authorType, err := varcharAt(res.Fields.GetColumn(milvusFieldAuthorType), i)
	if err != nil {
		return chunk, err
	}
	order, err := int64At(res.Fields.GetColumn(milvusFieldOrderIndex), i)
	if err != nil {
		return chunk, err
	}

	chunk.ID = id
	chunk.ParentID = parent
	chunk.OrderIndex = uint32(order)
	chunk.Text = text
	chunk.AuthorName = author
	chunk.AuthorType = schema.AuthorType(authorType)
	return chunk, nil
}

func (m *MilvusIndex) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := m.cli.DeleteByPks(ctx, m.collection, "", entity.NewColumnVarChar(milvusFieldID, ids)); err != nil {
		return &schema.RepositoryError{Op: "milvus delete", Err: err}
	}
	return nil
}

func (m *MilvusIndex) Count(ctx context.Context) (int, error) {
	stats, err := m.cli.GetCollectionStatistics(ctx, m.collection)
	if err != nil {
		return 0, &schema.RepositoryError{Op: "milvus stats", Err: err}
	}
	var count int
	if v, ok := stats["row_count"]; ok {
		_, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &count)
		if err != nil {
			return 0, &schema.RepositoryError{Op: "milvus stats", Err: err}
		}
	}
	return count, nil
}

func varcharAt(col entity.Column, i int) (string, error) {
	vc, ok := col.(*entity.ColumnVarChar)
	if !ok {
		return "", fmt.Errorf("column %s is not varchar", col.Name())
	}
	data := vc.Data()
	if i >= len(data) {
		return "", fmt.Errorf("column %s has no row %d", col.Name(), i)
	}
	return data[i], nil
}

func int64At(col entity.Column, i int) (int64, error) {
	ic, ok := col.(*entity.ColumnInt64)
	if !ok {
		return 0, fmt.Errorf("column %s is not int64", col.Name())
	}
	data := ic.Data()
	if i >= len(data) {
		return 0, fmt.Errorf("column %s has no row %d", col.Name(), i)
	}
	return data[i], nil
}
