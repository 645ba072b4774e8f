package service

import (
	"context"

	"github.com/hatlonely/secidx/backfill"
	"github.com/hatlonely/secidx/colstore"
	"github.com/hatlonely/secidx/errs"
	"github.com/hatlonely/secidx/field"
	"github.com/hatlonely/secidx/index"
	"github.com/pkg/errors"
)

type indexWrite struct {
	index  *index.Index
	bucket int64
	entry  *colstore.IndexEntry
}

// entries 计算文档在每个索引中的索引行，主字段缺失的索引跳过
func (s *Service) entries(indexes []*index.Index, doc *colstore.Document) ([]indexWrite, error) {
	var writes []indexWrite
	for _, idx := range indexes {
		b, entry, err := backfill.Entry(s.locator, idx, doc)
		if err != nil {
			if errors.Is(err, backfill.ErrPrimaryAbsent) {
				continue
			}
			return nil, err
		}
		writes = append(writes, indexWrite{index: idx, bucket: b, entry: entry})
	}
	return writes, nil
}

// checkUnique 唯一索引中已有其他文档使用同样的字段值时返回 errs.ErrDuplicate
func (s *Service) checkUnique(ctx context.Context, writes []indexWrite) error {
	for _, w := range writes {
		if !w.index.Unique {
			continue
		}
		other, err := backfill.FindDuplicate(ctx, s.store, w.index, w.bucket, w.entry)
		if err != nil {
			return err
		}
		if other != "" {
			return errs.Duplicate("document %s already has %v on unique index %s", other, w.entry.Values, w.index.Name)
		}
	}
	return nil
}

// InsertDocument 写入文档并维护表上所有的索引，ID 为空时生成
func (s *Service) InsertDocument(ctx context.Context, database, table string, doc *colstore.Document) (*colstore.Document, error) {
	if doc == nil {
		return nil, errs.Contract("document is nil")
	}
	doc = &colstore.Document{ID: doc.ID, Fields: field.StorableFields(doc.Fields)}
	if doc.ID == "" {
		id, err := s.ids.Generate()
		if err != nil {
			return nil, errors.WithMessage(err, "generate document id failed")
		}
		doc.ID = id
	}

	defer s.lockTable(database, table)()

	if _, err := s.store.GetDocument(ctx, database, table, doc.ID); err == nil {
		return nil, errs.Duplicate("document %s already exists in %s.%s", doc.ID, database, table)
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	if err := s.write(ctx, database, table, nil, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// UpdateDocument 替换文档的全部字段
func (s *Service) UpdateDocument(ctx context.Context, database, table string, doc *colstore.Document) (*colstore.Document, error) {
	if doc == nil || doc.ID == "" {
		return nil, errs.Contract("document id is required")
	}
	doc = &colstore.Document{ID: doc.ID, Fields: field.StorableFields(doc.Fields)}

	defer s.lockTable(database, table)()

	old, err := s.store.GetDocument(ctx, database, table, doc.ID)
	if err != nil {
		return nil, err
	}
	if err := s.write(ctx, database, table, old, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Service) write(ctx context.Context, database, table string, old, doc *colstore.Document) error {
	indexes, err := s.registry.ListIndexes(ctx, database, table)
	if err != nil {
		return errors.WithMessage(err, "list indexes failed")
	}
	writes, err := s.entries(indexes, doc)
	if err != nil {
		return err
	}
	if err := s.checkUnique(ctx, writes); err != nil {
		return err
	}

	if err := s.store.PutDocument(ctx, database, table, doc); err != nil {
		return errors.WithMessagef(err, "put document %s failed", doc.ID)
	}
	if old != nil {
		s.removeEntries(ctx, indexes, old)
	}
	for _, w := range writes {
		if err := s.store.PutIndexEntry(ctx, w.index.PhysicalTable(), w.bucket, w.entry); err != nil {
			return errors.WithMessagef(err, "put index entry of document %s into %s failed", doc.ID, w.index.PhysicalTable())
		}
	}
	return nil
}

// removeEntries 删除旧文档的索引行，旧值无法解析时没有对应的索引行
func (s *Service) removeEntries(ctx context.Context, indexes []*index.Index, doc *colstore.Document) {
	for _, idx := range indexes {
		b, _, err := backfill.Entry(s.locator, idx, doc)
		if err != nil {
			continue
		}
		if err := s.store.DeleteIndexEntry(ctx, idx.PhysicalTable(), b, doc.ID); err != nil {
			s.logger.WarnContext(ctx, "delete index entry failed", "index", idx.PhysicalTable(), "document", doc.ID, "error", err.Error())
		}
	}
}

// DeleteDocument 删除文档和它的索引行，文档不存在时返回 errs.ErrNotFound
func (s *Service) DeleteDocument(ctx context.Context, database, table, id string) error {
	defer s.lockTable(database, table)()

	doc, err := s.store.GetDocument(ctx, database, table, id)
	if err != nil {
		return err
	}
	indexes, err := s.registry.ListIndexes(ctx, database, table)
	if err != nil {
		return errors.WithMessage(err, "list indexes failed")
	}
	s.removeEntries(ctx, indexes, doc)
	if err := s.store.DeleteDocument(ctx, database, table, id); err != nil {
		return errors.WithMessagef(err, "delete document %s failed", id)
	}
	return nil
}

func (s *Service) GetDocument(ctx context.Context, database, table, id string) (*colstore.Document, error) {
	return s.store.GetDocument(ctx, database, table, id)
}
