package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
	"github.com/sblumenf/podcastknowledge-sub007/internal/extraction"
	"github.com/sblumenf/podcastknowledge-sub007/internal/keymanager"
	"github.com/sblumenf/podcastknowledge-sub007/internal/resilience"
	"github.com/sblumenf/podcastknowledge-sub007/internal/speaker"
	"github.com/sblumenf/podcastknowledge-sub007/internal/transcript"
)

// stageIdentifySpeakers runs the speaker cascade over
// every generic label present in the episode, rewrites matched segment
// speaker fields in place, and appends one audit record per changed
// label.
func (d *Driver) stageIdentifySpeakers(ctx context.Context, ep *episode.Episode, podcast episode.Podcast) error {
	labelSet := make(map[string]bool)
	for _, seg := range ep.Segments {
		if speaker.IsGeneric(seg.Speaker) {
			labelSet[seg.Speaker] = true
		}
	}
	if len(labelSet) == 0 {
		return nil
	}
	labels := make([]string, 0, len(labelSet))
	for l := range labelSet {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	result, err := d.cfg.Speakers.Identify(ctx, speaker.Input{
		Podcast:       podcast,
		Episode:       *ep,
		GenericLabels: labels,
	})
	if err != nil {
		return &StageError{Stage: string(episode.StageIdentifySpeakers), Kind: KindTransientTransport, Message: "speaker identification", Err: err}
	}

	// One audit record (and one rollup tally) per changed label, not per
	// segment the label appears in; the segment rewrite happens after.
	now := time.Now().UTC().Format(time.RFC3339)
	applied := make(map[string]string, len(labels))
	for _, label := range labels {
		m, ok := result.Mappings[label]
		if !ok || m.IdentifiedName == "" || m.IdentifiedName == label {
			continue
		}
		applied[label] = m.IdentifiedName
		if d.cfg.Audit != nil {
			_ = d.cfg.Audit.Record(ctx, podcast.ID, episode.AuditRecord{
				EpisodeID: ep.ID,
				OldLabel:  label,
				NewLabel:  m.IdentifiedName,
				Timestamp: now,
				Reason:    m.Source,
			})
		}
		if d.cfg.Rollup != nil {
			d.cfg.Rollup.Record(podcast.ID, m.Source, m.Confidence)
		}
	}

	for i := range ep.Segments {
		if name, ok := applied[ep.Segments[i].Speaker]; ok {
			ep.Segments[i].Speaker = name
		}
	}
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.RecordSpeakersIdentified(podcast.ID, len(result.Mappings))
	}
	return nil
}

// stageEmitTranscript writes the final transcript file with embedded
// NOTE metadata to transcripts/<podcast_id>/<episode_id>.vtt beside
// InboxDir (or beside ProcessedDir when InboxDir is empty).
func (d *Driver) stageEmitTranscript(ctx context.Context, ep *episode.Episode, podcast episode.Podcast) error {
	meta := &transcript.Metadata{
		PodcastID:    podcast.ID,
		EpisodeID:    ep.ID,
		EpisodeTitle: ep.Title,
	}
	text, err := transcript.Emit(meta, ep.Segments)
	if err != nil {
		return &StageError{Stage: string(episode.StageEmitTranscript), Kind: KindInvariantViolation, Message: "emit transcript", Err: err}
	}

	dir := filepath.Join(d.cfg.ProcessedDir, "..", "transcripts", podcast.ID)
	if d.cfg.InboxDir != "" {
		dir = filepath.Join(filepath.Dir(d.cfg.InboxDir), "transcripts", podcast.ID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &StageError{Stage: string(episode.StageEmitTranscript), Kind: KindResourceExhaustion, Message: "create transcript dir", Err: err}
	}
	path := filepath.Join(dir, ep.ID+".vtt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return &StageError{Stage: string(episode.StageEmitTranscript), Kind: KindResourceExhaustion, Message: "write transcript file", Err: err}
	}
	ep.EmittedPath = path
	return nil
}

// stageExtractKnowledge runs the four extraction operations over
// fixed-size segment batches, accumulating results into
// acc for the caller's checkpoint write.
func (d *Driver) stageExtractKnowledge(ctx context.Context, ep *episode.Episode, podcast episode.Podcast, acc *stageAccumulator) error {
	cacheKey := ""
	if totalLen(ep.Segments) >= d.cfg.CacheMinSize {
		cacheKey = ep.ID
		apiKey, _, err := d.cfg.Keys.GetNextKey(d.cfg.ExtractionModel)
		if err == nil {
			_, _ = d.cfg.Extractor.PrepareEpisodeCache(ctx, apiKey, ep.ID, combineAll(ep.Segments))
		}
	}

	batches := batchSegments(ep.Segments, d.cfg.ExtractionBatch)
	for _, batch := range batches {
		var entities []episode.Entity
		if err := d.callLLM(ctx, func(ctx context.Context, apiKey string) (int, error) {
			start := time.Now()
			es, err := d.cfg.Extractor.ExtractEntities(ctx, apiKey, batch, cacheKey)
			d.recordLLMCall(podcast.ID, start, err, cacheKey != "")
			entities = es
			return approxTokens(batch), err
		}); err != nil {
			if serr := exhaustedKeysError(err); serr != nil {
				return serr
			}
			d.cfg.Logger.Warn("entity extraction batch failed, continuing", "episode_id", ep.ID, "error", err)
		}
		maxEntities := d.cfg.Extractor.Config.MaxEntitiesPerSegment
		if maxEntities <= 0 {
			maxEntities = 50
		}
		acc.entities = extraction.ValidateEntities(append(acc.entities, entities...), maxEntities)

		if len(entities) > 0 {
			var relationships []episode.Relationship
			if err := d.callLLM(ctx, func(ctx context.Context, apiKey string) (int, error) {
				start := time.Now()
				rs, err := d.cfg.Extractor.ExtractRelationships(ctx, apiKey, batch, entities, cacheKey)
				d.recordLLMCall(podcast.ID, start, err, cacheKey != "")
				relationships = rs
				return approxTokens(batch), err
			}); err != nil {
				if serr := exhaustedKeysError(err); serr != nil {
					return serr
				}
				d.cfg.Logger.Warn("relationship extraction batch failed, continuing", "episode_id", ep.ID, "error", err)
			}
			acc.relationships = append(acc.relationships, relationships...)
		}

		var quotes []episode.Quote
		if err := d.callLLM(ctx, func(ctx context.Context, apiKey string) (int, error) {
			start := time.Now()
			qs, err := d.cfg.Extractor.ExtractQuotes(ctx, apiKey, batch, cacheKey)
			d.recordLLMCall(podcast.ID, start, err, cacheKey != "")
			quotes = qs
			return approxTokens(batch), err
		}); err != nil {
			if serr := exhaustedKeysError(err); serr != nil {
				return serr
			}
			d.cfg.Logger.Warn("quote extraction batch failed, continuing", "episode_id", ep.ID, "error", err)
		}
		acc.quotes = append(acc.quotes, quotes...)

		entityCtx := extraction.BuildEntityContext(entities)
		var insights []episode.Insight
		if err := d.callLLM(ctx, func(ctx context.Context, apiKey string) (int, error) {
			start := time.Now()
			is, err := d.cfg.Extractor.ExtractInsights(ctx, apiKey, batch, entityCtx, cacheKey)
			d.recordLLMCall(podcast.ID, start, err, cacheKey != "")
			insights = is
			return approxTokens(batch), err
		}); err != nil {
			if serr := exhaustedKeysError(err); serr != nil {
				return serr
			}
			d.cfg.Logger.Warn("insight extraction batch failed, continuing", "episode_id", ep.ID, "error", err)
		}
		acc.insights = append(acc.insights, insights...)
	}

	if d.cfg.Metrics != nil {
		d.cfg.Metrics.RecordEntities(podcast.ID, len(acc.entities))
		d.cfg.Metrics.RecordRelationships(podcast.ID, len(acc.relationships))
		d.cfg.Metrics.RecordSegments(podcast.ID, len(ep.Segments))
	}
	return nil
}

// stageStore upserts the episode's podcast/episode/segment/entity/
// relationship/quote/insight records into the per-podcast graph
// database.
func (d *Driver) stageStore(ctx context.Context, ep *episode.Episode, podcast episode.Podcast, acc *stageAccumulator) error {
	if d.cfg.Store == nil {
		return nil
	}

	d.mu.Lock()
	ready := d.schemaReady[podcast.ID]
	d.mu.Unlock()
	if !ready {
		if err := d.cfg.Store.SetupSchema(ctx, podcast.ID); err != nil {
			return &StageError{Stage: string(episode.StageStore), Kind: KindResourceExhaustion, Message: "setup schema", Err: err}
		}
		d.mu.Lock()
		d.schemaReady[podcast.ID] = true
		d.mu.Unlock()
	}

	if err := d.cfg.Store.StorePodcast(ctx, podcast); err != nil {
		return &StageError{Stage: string(episode.StageStore), Kind: KindResourceExhaustion, Message: "store podcast", Err: err}
	}
	if _, err := d.cfg.Store.StoreEpisode(ctx, podcast.ID, *ep); err != nil {
		return &StageError{Stage: string(episode.StageStore), Kind: KindResourceExhaustion, Message: "store episode", Err: err}
	}
	if _, err := d.cfg.Store.StoreSegments(ctx, podcast.ID, *ep); err != nil {
		return &StageError{Stage: string(episode.StageStore), Kind: KindResourceExhaustion, Message: "store segments", Err: err}
	}

	// Entities, quotes, and insights all upsert keyed on a natural key
	// scoped to this episode (entities: episode_id, normalized_name, type;
	// quotes: episode_id, lowercased text; insights: episode_id, lowercased
	// title), so re-processing the same episode (a crash-recovered run, a
	// deliberate re-run) refreshes the existing nodes instead of
	// duplicating them.
	nodeIDs := make(map[string]string, len(acc.entities))
	for _, e := range acc.entities {
		props := map[string]any{
			"name":        e.Name,
			"confidence":  e.Confidence,
			"importance":  e.Importance,
			"description": e.Description,
			"episode_id":  ep.ID,
		}
		for k, v := range e.Properties {
			props[k] = v
		}
		naturalKey := ep.ID + "\x00" + episode.NormalizeEntityName(e.Name) + "\x00" + e.Type
		id, err := d.cfg.Store.UpsertNode(ctx, podcast.ID, e.Type, naturalKey, props)
		if err != nil {
			return &StageError{Stage: string(episode.StageStore), Kind: KindResourceExhaustion, Message: "upsert entity node", Err: err}
		}
		nodeIDs[e.Name] = id
	}
	acc.nodeIDs = nodeIDs

	for _, r := range acc.relationships {
		srcID, okSrc := nodeIDs[r.SourceName]
		dstID, okDst := nodeIDs[r.TargetName]
		if !okSrc || !okDst {
			continue
		}
		props := map[string]any{"confidence": r.Confidence}
		for k, v := range r.Properties {
			props[k] = v
		}
		// CreateRelationship itself MERGEs on (source, target, type) in
		// both backing stores, so no separate upsert entry point is
		// needed here.
		if err := d.cfg.Store.CreateRelationship(ctx, podcast.ID, srcID, dstID, r.Type, props); err != nil {
			return &StageError{Stage: string(episode.StageStore), Kind: KindResourceExhaustion, Message: "create relationship", Err: err}
		}
	}

	for _, q := range acc.quotes {
		naturalKey := ep.ID + "\x00" + strings.ToLower(strings.TrimSpace(q.Text))
		if _, err := d.cfg.Store.UpsertNode(ctx, podcast.ID, "Quote", naturalKey, map[string]any{
			"text": q.Text, "speaker": q.Speaker, "timestamp": q.Timestamp,
			"context": q.Context, "confidence": q.Confidence, "episode_id": ep.ID,
		}); err != nil {
			return &StageError{Stage: string(episode.StageStore), Kind: KindResourceExhaustion, Message: "upsert quote node", Err: err}
		}
	}
	for _, in := range acc.insights {
		naturalKey := ep.ID + "\x00" + strings.ToLower(strings.TrimSpace(in.Title))
		if _, err := d.cfg.Store.UpsertNode(ctx, podcast.ID, "Insight", naturalKey, map[string]any{
			"title": in.Title, "description": in.Description, "category": in.Category,
			"confidence": in.Confidence, "episode_id": ep.ID,
		}); err != nil {
			return &StageError{Stage: string(episode.StageStore), Kind: KindResourceExhaustion, Message: "upsert insight node", Err: err}
		}
	}
	return nil
}

// stageMove moves ep's source transcript file from the inbox to the
// processed directory. A move failure is surfaced as
// KindResourceExhaustion so processEpisode can apply the
// stored-but-not-moved semantics instead of failing the episode
// outright.
func (d *Driver) stageMove(ctx context.Context, ep *episode.Episode) error {
	if ep.SourcePath == "" {
		return nil
	}
	dest, err := moveFile(ep.SourcePath, d.cfg.InboxDir, d.cfg.ProcessedDir)
	if err != nil {
		return &StageError{Stage: string(episode.StageMove), Kind: KindResourceExhaustion, Message: "move transcript file", Err: err}
	}
	ep.SourcePath = dest
	return nil
}

// exhaustedKeysError promotes key-pool exhaustion to a stage failure:
// the stage's checkpoint state is unchanged, so the episode is retryable
// on a later run once quota recovers, rather than silently stored with a
// partial extraction.
func exhaustedKeysError(err error) *StageError {
	if !errors.Is(err, keymanager.ErrNoKeyAvailable) {
		return nil
	}
	return &StageError{
		Stage:   string(episode.StageExtractKnowledge),
		Kind:    KindResourceExhaustion,
		Message: "every API key exhausted",
		Err:     err,
	}
}

// callLLM composes the token-bucket limiter, circuit breaker, and retry
// policy around a single logical extraction call, rotating API keys via
// keymanager on each retry attempt.
func (d *Driver) callLLM(ctx context.Context, fn func(ctx context.Context, apiKey string) (int, error)) error {
	if d.cfg.Limiter != nil {
		if _, err := d.cfg.Limiter.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	call := func(ctx context.Context) error {
		return resilience.WithRetry(ctx, d.cfg.Retry, func(ctx context.Context) error {
			return keymanager.WithKey(ctx, d.cfg.Keys, d.cfg.ExtractionModel, fn)
		})
	}
	if d.cfg.Breaker != nil {
		return d.cfg.Breaker.Call(ctx, call)
	}
	return call(ctx)
}

func (d *Driver) recordLLMCall(podcastID string, start time.Time, err error, cacheHit bool) {
	if d.cfg.Metrics == nil {
		return
	}
	timedOut := false
	if err != nil {
		timedOut = err == context.DeadlineExceeded
	}
	d.cfg.Metrics.RecordLLMCall(podcastID, time.Since(start), timedOut, err != nil && !timedOut, cacheHit)
}

func batchSegments(segments []episode.Segment, size int) [][]episode.Segment {
	if size <= 0 {
		size = 10
	}
	var out [][]episode.Segment
	for i := 0; i < len(segments); i += size {
		end := i + size
		if end > len(segments) {
			end = len(segments)
		}
		out = append(out, segments[i:end])
	}
	return out
}

func totalLen(segments []episode.Segment) int {
	n := 0
	for _, s := range segments {
		n += len(s.Text)
	}
	return n
}

func combineAll(segments []episode.Segment) string {
	out := ""
	for _, s := range segments {
		out += fmt.Sprintf("[%s] %s\n", s.Speaker, s.Text)
	}
	return out
}

// approxTokens estimates token usage for usage-counter accounting at
// roughly 4 characters per token, close enough for pre-flight quota
// checks.
func approxTokens(segments []episode.Segment) int {
	return totalLen(segments) / 4
}
