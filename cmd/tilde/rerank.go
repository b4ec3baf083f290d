package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	tilde "github.com/ielab/tilde-go"
	"github.com/ielab/tilde-go/models"
	"github.com/ielab/tilde-go/rank"
	"github.com/ielab/tilde-go/retrieve"
)

func newRerankCmd() *cobra.Command {
	var collectionPath string
	var queriesPath string
	var candidates int
	var topK int
	var batchSize int

	cmd := &cobra.Command{
		Use:   "rerank",
		Short: "Retrieve with BM25 and re-rank with TILDEv2 token weights",
		Long: `Indexes a collection of "id<TAB>text" passages with BM25, retrieves a
candidate list per query, and re-ranks the candidates with TILDEv2
exact-match token weights. Writes "qid<TAB>docid<TAB>rank<TAB>score" lines.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := resolveModelPaths()
			if err != nil {
				return err
			}

			backbone, err := loadBackbone(paths)
			if err != nil {
				return err
			}
			defer backbone.Close()

			tok, err := loadTokenizer(paths)
			if err != nil {
				return err
			}
			defer tok.Close()

			proj, err := models.LoadProjection(filepath.Join(paths.dir, models.ProjectionFileName))
			if err != nil {
				return err
			}
			model, err := models.NewTILDEv2(models.TILDEv2Config{
				Backbone:   backbone,
				Projection: proj,
				ModelDir:   paths.dir,
			})
			if err != nil {
				return err
			}

			// Load the collection.
			var docs []tilde.Document
			err = readTSV(collectionPath, func(fields []string) error {
				if len(fields) < 2 {
					return fmt.Errorf("expected id<TAB>text, got %d fields", len(fields))
				}
				docs = append(docs, tilde.Document{"id": fields[0], "text": fields[1]})
				return nil
			})
			if err != nil {
				return err
			}

			var qids, queries []string
			err = readTSV(queriesPath, func(fields []string) error {
				if len(fields) < 2 {
					return fmt.Errorf("expected qid<TAB>text, got %d fields", len(fields))
				}
				qids = append(qids, fields[0])
				queries = append(queries, fields[1])
				return nil
			})
			if err != nil {
				return err
			}

			// First stage: BM25.
			bm25 := retrieve.NewBM25("id", []string{"text"}, 1.5, 0.75, 0)
			docEmb, err := bm25.EncodeDocuments(docs)
			if err != nil {
				return err
			}
			if err := bm25.Add(docEmb); err != nil {
				return err
			}
			qryEmb, err := bm25.EncodeQueries(queries)
			if err != nil {
				return err
			}
			firstStage, err := bm25.Search(queries, qryEmb, candidates)
			if err != nil {
				return err
			}
			slog.Info("first-stage retrieval done", "queries", len(queries), "candidates", candidates)

			// Second stage: TILDEv2 re-ranking. Index documents by id so
			// candidate lists can carry the full text for encoding.
			byID := make(map[string]tilde.Document, len(docs))
			for _, d := range docs {
				byID[d["id"]] = d
			}
			candidateLists := make([][]tilde.Document, len(firstStage))
			var toEncode []tilde.Document
			seen := make(map[string]bool)
			for i, hits := range firstStage {
				candidateLists[i] = make([]tilde.Document, 0, len(hits))
				for _, hit := range hits {
					doc := byID[hit.Document["id"]]
					candidateLists[i] = append(candidateLists[i], doc)
					if !seen[doc["id"]] {
						seen[doc["id"]] = true
						toEncode = append(toEncode, doc)
					}
				}
			}

			ranker := rank.NewTILDEv2Ranker("id", []string{"text"}, model, tok, batchSize)
			embeddings, err := ranker.EncodeDocuments(toEncode)
			if err != nil {
				return err
			}
			reranked, err := ranker.Rank(queries, candidateLists, embeddings, topK)
			if err != nil {
				return err
			}

			for i, hits := range reranked {
				for r, hit := range hits {
					fmt.Fprintf(os.Stdout, "%s\t%s\t%d\t%f\n", qids[i], hit.Document["id"], r+1, hit.Score)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&collectionPath, "collection", "", "collection TSV file (id<TAB>text)")
	cmd.Flags().StringVar(&queriesPath, "queries", "", "queries TSV file (qid<TAB>text)")
	cmd.Flags().IntVar(&candidates, "candidates", 100, "BM25 candidates per query")
	cmd.Flags().IntVar(&topK, "k", 10, "results per query after re-ranking")
	cmd.Flags().IntVar(&batchSize, "batch-size", 32, "encoding batch size")
	_ = cmd.MarkFlagRequired("collection")
	_ = cmd.MarkFlagRequired("queries")

	return cmd
}
