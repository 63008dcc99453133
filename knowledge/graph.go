// Package knowledge mirrors indexed reports into a Neo4j graph of funds,
// holdings, sectors and attached sources, so cross-document questions can
// be answered without a vector search.
package knowledge

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fabfab/fundlens/models"
)

type Source struct {
	ID          string
	ParentDocID string
	Name        string
	Type        string
}

// SharedHolding is a company held by more than one of the compared
// documents. Weights are keyed by document id.
type SharedHolding struct {
	Company string
	Sector  string
	Weights map[string]float64
}

type Graph interface {
	SyncDocument(ctx context.Context, doc models.Document, data models.ExtractedData) error
	SyncSource(ctx context.Context, src Source) error
	DeleteDocument(ctx context.Context, docID string) error
	DeleteSource(ctx context.Context, sourceID string) error
	SharedHoldings(ctx context.Context, docIDs []string) ([]SharedHolding, error)
	Purge(ctx context.Context) error
}

// Noop is used when Neo4j is disabled.
type Noop struct{}

var _ Graph = Noop{}

func (Noop) SyncDocument(context.Context, models.Document, models.ExtractedData) error { return nil }
func (Noop) SyncSource(context.Context, Source) error                                  { return nil }
func (Noop) DeleteDocument(context.Context, string) error                              { return nil }
func (Noop) DeleteSource(context.Context, string) error                                { return nil }
func (Noop) SharedHoldings(context.Context, []string) ([]SharedHolding, error)         { return nil, nil }
func (Noop) Purge(context.Context) error                                               { return nil }

type Neo4jGraph struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jGraph(driver neo4j.DriverWithContext) *Neo4jGraph {
	return &Neo4jGraph{driver: driver}
}

var _ Graph = (*Neo4jGraph)(nil)

func (g *Neo4jGraph) write(ctx context.Context, fn func(tx neo4j.ManagedTransaction) error) error {
	if g.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(tx)
	})
	return err
}

// SyncDocument replaces the document's holdings, sector weights and
// sections. Attached sources are left in place.
func (g *Neo4jGraph) SyncDocument(ctx context.Context, doc models.Document, data models.ExtractedData) error {
	params := documentParams(doc, data)

	err := g.write(ctx, func(tx neo4j.ManagedTransaction) error {
		if _, err := tx.Run(ctx, `
			MERGE (d:Document {id: $id})
			SET d.filename = $filename,
			    d.period = $period,
			    d.currency = $currency,
			    d.fund_return = $fund_return,
			    d.benchmark_return = $benchmark_return,
			    d.updated_at = datetime()
		`, params); err != nil {
			return fmt.Errorf("upsert document node: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[r:REPORTS_ON|HOLDS|ALLOCATES|BENCHMARKED_AGAINST]->()
			DELETE r
		`, params); err != nil {
			return fmt.Errorf("clear document relations: %w", err)
		}
		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[:HAS_SECTION]->(s:Section)
			DETACH DELETE s
		`, params); err != nil {
			return fmt.Errorf("clear existing sections: %w", err)
		}

		if data.FundName != "" {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {id: $id})
				MERGE (f:Fund {name: $fund})
				MERGE (d)-[:REPORTS_ON]->(f)
			`, params); err != nil {
				return fmt.Errorf("upsert fund relation: %w", err)
			}
		}
		if data.BenchmarkIndex != "" {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {id: $id})
				MERGE (b:Benchmark {name: $benchmark})
				MERGE (d)-[:BENCHMARKED_AGAINST]->(b)
			`, params); err != nil {
				return fmt.Errorf("upsert benchmark relation: %w", err)
			}
		}

		for _, h := range holdingParams(doc.ID, data.Holdings) {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {id: $doc_id})
				MERGE (c:Company {name: $company})
				MERGE (d)-[r:HOLDS]->(c)
				SET r.weight = $weight, r.contribution = $contribution, r.rank = $rank
				WITH c
				WHERE $sector <> ''
				MERGE (s:Sector {name: $sector})
				MERGE (c)-[:IN_SECTOR]->(s)
			`, h); err != nil {
				return fmt.Errorf("upsert holding: %w", err)
			}
		}

		for _, s := range data.Sectors {
			if s.Sector == "" {
				continue
			}
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {id: $doc_id})
				MERGE (s:Sector {name: $sector})
				MERGE (d)-[r:ALLOCATES]->(s)
				SET r.weight = $weight
			`, map[string]any{"doc_id": doc.ID, "sector": s.Sector, "weight": s.Weight}); err != nil {
				return fmt.Errorf("upsert sector allocation: %w", err)
			}
		}

		for i, section := range data.Sections {
			if section.Title == "" {
				continue
			}
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {id: $doc_id})
				MERGE (s:Section {id: $section_id})
				SET s.title = $section_title,
				    s.page = $section_page,
				    s.order = $section_order
				MERGE (d)-[:HAS_SECTION {order: $section_order}]->(s)
			`, map[string]any{
				"doc_id":        doc.ID,
				"section_id":    fmt.Sprintf("%s_section_%d", doc.ID, i),
				"section_title": section.Title,
				"section_page":  section.Page,
				"section_order": i,
			}); err != nil {
				return fmt.Errorf("upsert section: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sync document %s: %w", doc.ID, err)
	}
	return nil
}

func (g *Neo4jGraph) SyncSource(ctx context.Context, src Source) error {
	err := g.write(ctx, func(tx neo4j.ManagedTransaction) error {
		_, err := tx.Run(ctx, `
			MATCH (d:Document {id: $parent})
			MERGE (s:Source {id: $id})
			SET s.name = $name, s.type = $type
			MERGE (d)-[:HAS_SOURCE]->(s)
		`, map[string]any{"parent": src.ParentDocID, "id": src.ID, "name": src.Name, "type": src.Type})
		return err
	})
	if err != nil {
		return fmt.Errorf("sync source %s: %w", src.ID, err)
	}
	return nil
}

// DeleteDocument removes the document with its sections and sources, then
// drops companies, sectors and funds nothing refers to any more.
func (g *Neo4jGraph) DeleteDocument(ctx context.Context, docID string) error {
	err := g.write(ctx, func(tx neo4j.ManagedTransaction) error {
		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})
			OPTIONAL MATCH (d)-[:HAS_SECTION|HAS_SOURCE]->(child)
			DETACH DELETE child, d
		`, map[string]any{"id": docID}); err != nil {
			return fmt.Errorf("delete document node: %w", err)
		}
		return pruneOrphans(ctx, tx)
	})
	if err != nil {
		return fmt.Errorf("delete document %s from graph: %w", docID, err)
	}
	return nil
}

func (g *Neo4jGraph) DeleteSource(ctx context.Context, sourceID string) error {
	err := g.write(ctx, func(tx neo4j.ManagedTransaction) error {
		_, err := tx.Run(ctx, "MATCH (s:Source {id: $id}) DETACH DELETE s", map[string]any{"id": sourceID})
		return err
	})
	if err != nil {
		return fmt.Errorf("delete source %s from graph: %w", sourceID, err)
	}
	return nil
}

func pruneOrphans(ctx context.Context, tx neo4j.ManagedTransaction) error {
	for _, stmt := range []string{
		"MATCH (c:Company) WHERE NOT (c)<-[:HOLDS]-(:Document) DETACH DELETE c",
		"MATCH (s:Sector) WHERE NOT (s)<-[:ALLOCATES]-(:Document) AND NOT (s)<-[:IN_SECTOR]-(:Company) DELETE s",
		"MATCH (f:Fund) WHERE NOT (f)<-[:REPORTS_ON]-(:Document) DELETE f",
		"MATCH (b:Benchmark) WHERE NOT (b)<-[:BENCHMARKED_AGAINST]-(:Document) DELETE b",
	} {
		if _, err := tx.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("prune orphan nodes: %w", err)
		}
	}
	return nil
}

// SharedHoldings lists companies held by at least two of docIDs, most
// widely held first.
func (g *Neo4jGraph) SharedHoldings(ctx context.Context, docIDs []string) ([]SharedHolding, error) {
	if g.driver == nil {
		return nil, fmt.Errorf("neo4j driver is nil")
	}
	if len(docIDs) < 2 {
		return nil, nil
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (d:Document)-[r:HOLDS]->(c:Company)
		WHERE d.id IN $ids
		OPTIONAL MATCH (c)-[:IN_SECTOR]->(s:Sector)
		WITH c, head(collect(DISTINCT s.name)) AS sector, collect({doc: d.id, weight: r.weight}) AS weights
		WHERE size(weights) > 1
		RETURN c.name AS company, sector, weights
		ORDER BY size(weights) DESC, company
	`, map[string]any{"ids": docIDs})
	if err != nil {
		return nil, fmt.Errorf("run shared holdings query: %w", err)
	}

	var shared []SharedHolding
	for result.Next(ctx) {
		record := result.Record()
		company, _ := record.Get("company")
		sector, _ := record.Get("sector")
		weights, _ := record.Get("weights")

		name, ok := company.(string)
		if !ok {
			continue
		}
		sectorName, _ := sector.(string)
		shared = append(shared, SharedHolding{
			Company: name,
			Sector:  sectorName,
			Weights: convertWeights(weights),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("shared holdings result error: %w", err)
	}
	return shared, nil
}

// Purge removes every node this package manages.
func (g *Neo4jGraph) Purge(ctx context.Context) error {
	return g.write(ctx, func(tx neo4j.ManagedTransaction) error {
		_, err := tx.Run(ctx, `
			MATCH (n)
			WHERE n:Document OR n:Fund OR n:Company OR n:Sector OR n:Section OR n:Source OR n:Benchmark
			DETACH DELETE n
		`, nil)
		return err
	})
}
