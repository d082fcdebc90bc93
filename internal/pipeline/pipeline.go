// Package pipeline wires the reconciliation stages together: normalize,
// match, merge, validate. Normalization and merging fan out across a
// bounded worker pool; the stages themselves run strictly in order, with
// a barrier before validation so the report always describes a fully
// merged store.
package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/apexgrid/f1data/internal/config"
	"github.com/apexgrid/f1data/internal/match"
	"github.com/apexgrid/f1data/internal/merge"
	"github.com/apexgrid/f1data/internal/model"
	"github.com/apexgrid/f1data/internal/normalize"
	"github.com/apexgrid/f1data/internal/validate"
)

// Pipeline runs raw observations through the full reconciliation flow
// into one canonical store. A Pipeline may be run repeatedly with new
// batches; the store accumulates and merging stays order-independent.
type Pipeline struct {
	cfg       config.PipelineConfig
	policy    *config.Policy
	norm      *normalize.Normalizer
	matcher   *match.Matcher
	merger    *merge.Merger
	validator *validate.Validator
}

// Result is the outcome of one pipeline run.
type Result struct {
	Store  *merge.Store
	Report *model.QualityReport
	Review []model.ReviewCandidate
}

// New builds a pipeline over a fresh canonical store.
func New(cfg config.PipelineConfig, policy *config.Policy) (*Pipeline, error) {
	return NewWithStore(cfg, policy, merge.NewStore(cfg.MergeShards))
}

// NewWithStore builds a pipeline over an existing store, for incremental
// batches on top of previously merged data.
func NewWithStore(cfg config.PipelineConfig, policy *config.Policy, store *merge.Store) (*Pipeline, error) {
	norm, err := normalize.New(policy)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: building normalizer")
	}
	return &Pipeline{
		cfg:       cfg,
		policy:    policy,
		norm:      norm,
		matcher:   match.New(policy, nil),
		merger:    merge.New(policy, store),
		validator: validate.New(policy),
	}, nil
}

// Store returns the canonical store the pipeline merges into.
func (p *Pipeline) Store() *merge.Store { return p.merger.Store() }

// Validator exposes the validator so callers can pin its clock.
func (p *Pipeline) Validator() *validate.Validator { return p.validator }

// Run processes one batch end to end and returns the merged store with
// a fresh quality report. Malformed records degrade to anomalies; only
// configuration errors and context cancellation abort the run.
func (p *Pipeline) Run(ctx context.Context, raws []model.RawRecord) (*Result, error) {
	records, anomalies, err := p.normalizeAll(ctx, raws)
	if err != nil {
		return nil, err
	}

	var entityRecs, relRecs []model.NormalizedRecord
	for _, rec := range records {
		if rec.Kind.IsRelationship() {
			relRecs = append(relRecs, rec)
		} else {
			entityRecs = append(entityRecs, rec)
		}
	}

	matched := p.matcher.Match(entityRecs, p.Store())
	for _, rc := range matched.Review {
		anomalies = append(anomalies, model.Anomaly{
			Kind:     model.AnomalyUnresolvedMatch,
			Severity: model.SeverityWarning,
			Table:    string(rc.Record.Kind),
			Key:      string(rc.BestKey),
			Message:  "ambiguous match for " + recordLabel(rc.Record) + ": best candidate " + rc.BestName,
			Sources:  []model.SourceID{rc.Record.Source},
		})
	}

	mergeAs, err := p.mergeEntities(ctx, matched.Candidates)
	if err != nil {
		return nil, err
	}
	anomalies = append(anomalies, mergeAs...)

	// Entity merges are complete here; relationship resolution sees the
	// final entity set.
	relAs, err := p.mergeRelationships(ctx, relRecs)
	if err != nil {
		return nil, err
	}
	anomalies = append(anomalies, relAs...)

	report, err := p.validator.Validate(ctx, p.Store(), anomalies)
	if err != nil {
		return nil, err
	}
	report.Summary.ReviewCandidates = len(matched.Review)

	entities, rels := p.Store().Counts()
	zap.L().Info("pipeline: run complete",
		zap.Int("raw_records", len(raws)),
		zap.Int("entities", entities),
		zap.Int("relationships", rels),
		zap.Int("review", len(matched.Review)),
		zap.Int("anomalies", report.Summary.Anomalies),
	)

	return &Result{Store: p.Store(), Report: report, Review: matched.Review}, nil
}

// normalizeAll fans normalization out across the worker pool. Output
// order matches input order regardless of scheduling, so downstream
// matching is deterministic.
func (p *Pipeline) normalizeAll(ctx context.Context, raws []model.RawRecord) ([]model.NormalizedRecord, []model.Anomaly, error) {
	records := make([]model.NormalizedRecord, len(raws))
	perRecord := make([][]model.Anomaly, len(raws))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for i, raw := range raws {
		i, raw := i, raw
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records[i], perRecord[i] = p.norm.Normalize(raw)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: normalizing batch")
	}

	var anomalies []model.Anomaly
	out := records[:0]
	for i, rec := range records {
		anomalies = append(anomalies, perRecord[i]...)
		if rec.Kind != "" {
			out = append(out, rec)
		}
	}
	return out, anomalies, nil
}

// mergeEntities groups match candidates by canonical key and merges each
// group as one unit. Units run in parallel; cancellation is honored
// between units, never inside one, so a cancelled run leaves no
// half-merged entity.
func (p *Pipeline) mergeEntities(ctx context.Context, cands []model.MatchCandidate) ([]model.Anomaly, error) {
	type unit struct {
		key      model.CanonicalKey
		kind     model.EntityKind
		contribs []merge.Contribution
	}
	byKey := make(map[model.CanonicalKey]*unit)
	var order []model.CanonicalKey
	for _, c := range cands {
		u := byKey[c.Key]
		if u == nil {
			u = &unit{key: c.Key, kind: c.Record.Kind}
			byKey[c.Key] = u
			order = append(order, c.Key)
		}
		u.contribs = append(u.contribs, merge.Contribution{Record: c.Record, Confidence: c.Confidence})
	}

	var (
		mu        sync.Mutex
		anomalies []model.Anomaly
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for _, key := range order {
		u := byKey[key]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			as, err := p.merger.MergeEntity(u.key, u.kind, u.contribs)
			if err != nil {
				return err
			}
			mu.Lock()
			anomalies = append(anomalies, as...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: merging entities")
	}
	return anomalies, nil
}

// mergeRelationships resolves each relationship record to its natural
// key against the now-complete entity set and merges per tuple. Records
// that cannot even be keyed become anomalies; dangling but keyable
// references merge anyway and surface as foreign-key errors in the
// report.
func (p *Pipeline) mergeRelationships(ctx context.Context, recs []model.NormalizedRecord) ([]model.Anomaly, error) {
	type relID struct {
		kind model.EntityKind
		nk   model.NaturalKey
	}
	type relUnit struct {
		id       relID
		contribs []merge.Contribution
	}
	byID := make(map[relID]*relUnit)
	var order []relID
	var anomalies []model.Anomaly

	for _, rec := range recs {
		nk, _ := p.matcher.ResolveTuple(rec, p.Store())
		if nk.Driver == "" || nk.Race == "" {
			anomalies = append(anomalies, model.Anomaly{
				Kind:     model.AnomalyMalformedInput,
				Severity: model.SeverityWarning,
				Table:    string(rec.Kind),
				Message:  "record missing identifying fields, dropped",
				Sources:  []model.SourceID{rec.Source},
			})
			continue
		}
		id := relID{kind: rec.Kind, nk: nk}
		u := byID[id]
		if u == nil {
			u = &relUnit{id: id}
			byID[id] = u
			order = append(order, id)
		}
		u.contribs = append(u.contribs, merge.Contribution{Record: rec, Confidence: 1.0})
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for _, id := range order {
		u := byID[id]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			as, err := p.merger.MergeRelationship(u.id.kind, u.id.nk, u.contribs)
			if err != nil {
				return err
			}
			mu.Lock()
			anomalies = append(anomalies, as...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: merging relationships")
	}
	return anomalies, nil
}

func (p *Pipeline) workers() int {
	if p.cfg.NormalizerWorkers > 0 {
		return p.cfg.NormalizerWorkers
	}
	return 1
}

func recordLabel(rec model.NormalizedRecord) string {
	for _, k := range []string{"full_name", "name", "code", "ref"} {
		if s := rec.String(k); s != "" {
			return s
		}
	}
	keys := make([]string, 0, len(rec.Fields))
	for k := range rec.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s := model.FieldString(rec.Fields[k]); s != "" {
			return s
		}
	}
	return string(rec.Kind)
}
