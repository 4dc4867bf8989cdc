package search

import (
	"context"
	"log/slog"

	"mindmap/api/internal/observability"
)

// Service tries Meilisearch first and falls back to Postgres.
type Service struct {
	meili    *Meili
	postgres Searcher
	loader   *Postgres
	logger   *slog.Logger
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, postgres *Postgres, logger *slog.Logger) *Service {
	if logger == nil {
		logger = observability.Discard()
	}
	s := &Service{meili: meili, loader: postgres, logger: logger}
	if postgres != nil {
		s.postgres = postgres
	}
	return s
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

func (s *Service) Search(q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to postgres", "error", err)
	}
	if s.postgres == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.postgres.Search(q)
	if err != nil {
		s.logger.Error("postgres search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexMap pushes a map to Meilisearch in the background.
func (s *Service) IndexMap(record MapRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexMap(record); err != nil {
			s.logger.Warn("index map", "map_id", record.ID, "error", err)
		}
	}()
}

// DeleteMap removes a map from the index in the background.
func (s *Service) DeleteMap(id string) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeleteMap(id); err != nil {
			s.logger.Warn("delete map from index", "map_id", id, "error", err)
		}
	}()
}

// ReindexAll reloads every map from Postgres into Meilisearch.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.meiliReady() || s.loader == nil {
		return
	}
	records, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("reindex load failed", "error", err)
		return
	}
	if err := s.meili.IndexMaps(records); err != nil {
		s.logger.Error("reindex maps", "error", err)
		return
	}
	s.logger.Info("search index rebuilt", "maps", len(records))
}

func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
