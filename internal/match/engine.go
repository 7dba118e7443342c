// Package match resolves reconstructed label text against the card/set
// reference data. Search is hierarchical: cheap exact structured lookups
// run before fuzzy text search, and every hit is tagged with the strategy
// that produced it so review and audit layers know which heuristic fired.
//
// Matching failure is a normal outcome, not an exceptional one: the engine
// never returns an error, only an empty candidate list.
package match

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"gradescan/internal/card"
	"gradescan/internal/logger"
)

// Strategy tags for match candidates, in fixed priority order. The set is
// closed on purpose: confidence comparability across strategies is part of
// the contract, not an accident of whoever registered a plugin.
const (
	StrategyExactCertification = "exact_certification"
	StrategyExactCardNumber    = "exact_card_number"
	StrategyFuzzyName          = "fuzzy_name"
)

// Confidence scoring per strategy. Scores are comparable across
// strategies: an exact certification hit always outranks a card-number
// hit, which outranks any fuzzy hit.
const (
	certConfidence          = 1.0
	cardNumberSetConfidence = 0.9
	cardNumberConfidence    = 0.8
	fuzzyConfidenceCeiling  = 0.75
	fuzzyMinimumSimilarity  = 0.3
)

// maxCandidates bounds the returned list; review screens show a handful.
const maxCandidates = 10

// Result is the outcome of matching one label's text.
type Result struct {
	// Extraction is the best-effort structured read of the label text
	// that the queries were built from.
	Extraction card.GradedData `json:"extraction"`

	// Candidates is ordered by confidence, highest first, deduplicated by
	// card ID.
	Candidates []card.MatchCandidate `json:"candidates"`
}

// Engine runs the staged search against a read-only card lookup.
type Engine struct {
	lookup card.CardLookup
	log    zerolog.Logger
}

// NewEngine returns an engine over the given reference lookup.
func NewEngine(lookup card.CardLookup) *Engine {
	return &Engine{
		lookup: lookup,
		log:    logger.WithComponent("match"),
	}
}

// Match extracts structured fields from label text and searches the
// reference data stage by stage. Lookup failures are logged and treated as
// empty stages; the caller always gets a usable (possibly empty) result.
func (e *Engine) Match(ctx context.Context, text string) *Result {
	extraction := ExtractGradedData(text)
	cardNumber := CardNumber(text)

	candidates := make([]card.MatchCandidate, 0, maxCandidates)
	candidates = append(candidates, e.byCertification(ctx, extraction.CertificationNumber)...)
	candidates = append(candidates, e.byCardNumber(ctx, cardNumber, extraction.SetName)...)
	candidates = append(candidates, e.byFuzzyName(ctx, extraction)...)

	candidates = dedupeByCardID(candidates)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}

	return &Result{
		Extraction: extraction,
		Candidates: candidates,
	}
}

func (e *Engine) byCertification(ctx context.Context, certNumber string) []card.MatchCandidate {
	if certNumber == "" {
		return nil
	}
	hit, err := e.lookup.FindByCertification(ctx, certNumber)
	if err != nil {
		if !errors.Is(err, card.ErrCardNotFound) {
			e.log.Warn().Err(err).Str("certification", certNumber).Msg("Certification lookup failed")
		}
		return nil
	}
	return []card.MatchCandidate{toCandidate(hit, certConfidence, StrategyExactCertification)}
}

func (e *Engine) byCardNumber(ctx context.Context, number, setName string) []card.MatchCandidate {
	if number == "" {
		return nil
	}
	hits, err := e.lookup.FindByCardNumber(ctx, number, setName)
	if err != nil {
		e.log.Warn().Err(err).Str("card_number", number).Msg("Card number lookup failed")
		return nil
	}
	confidence := cardNumberConfidence
	if setName != "" {
		confidence = cardNumberSetConfidence
	}
	out := make([]card.MatchCandidate, 0, len(hits))
	for _, hit := range hits {
		out = append(out, toCandidate(hit, confidence, StrategyExactCardNumber))
	}
	return out
}

func (e *Engine) byFuzzyName(ctx context.Context, extraction card.GradedData) []card.MatchCandidate {
	query := strings.TrimSpace(extraction.CardName + " " + extraction.SetName)
	if query == "" {
		return nil
	}
	queryPrint := NewFingerprint(query)
	if queryPrint == nil {
		return nil
	}

	hits, err := e.lookup.SearchByName(ctx, extraction.CardName)
	if err != nil {
		e.log.Warn().Err(err).Str("query", query).Msg("Fuzzy name search failed")
		return nil
	}

	out := make([]card.MatchCandidate, 0, len(hits))
	for _, hit := range hits {
		refPrint := NewFingerprint(hit.Name + " " + hit.SetName)
		similarity := CosineSimilarity(queryPrint, refPrint)
		if similarity < fuzzyMinimumSimilarity {
			continue
		}
		out = append(out, toCandidate(hit, similarity*fuzzyConfidenceCeiling, StrategyFuzzyName))
	}
	return out
}

// dedupeByCardID keeps the highest-confidence candidate per card; ties
// resolve to the earlier (higher-priority) strategy.
func dedupeByCardID(candidates []card.MatchCandidate) []card.MatchCandidate {
	best := make(map[string]card.MatchCandidate, len(candidates))
	order := make([]string, 0, len(candidates))
	for _, c := range candidates {
		existing, seen := best[c.CardID]
		if !seen {
			best[c.CardID] = c
			order = append(order, c.CardID)
			continue
		}
		if c.Confidence > existing.Confidence {
			best[c.CardID] = c
		}
	}
	out := make([]card.MatchCandidate, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	return out
}

func toCandidate(ref *card.ReferenceCard, confidence float64, strategy string) card.MatchCandidate {
	return card.MatchCandidate{
		CardID:              ref.ID,
		CardName:            ref.Name,
		CardNumber:          ref.Number,
		CertificationNumber: ref.CertificationNumber,
		SetName:             ref.SetName,
		Confidence:          confidence,
		Strategy:            strategy,
	}
}
