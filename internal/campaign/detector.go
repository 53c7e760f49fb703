// Package campaign clusters a document's high-scoring neighbourhood into a
// campaign and manages campaign status over time.
package campaign

import (
	"cmp"
	"context"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/datastore"
	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/datastore/repository"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/logger"
	"github.com/tphakala/threatlink/internal/observability/metrics"
)

// Outcome describes what a detection did.
type Outcome string

const (
	// OutcomeNone means no campaign was formed.
	OutcomeNone Outcome = "none"
	// OutcomeCreated means a new campaign was created.
	OutcomeCreated Outcome = "created"
	// OutcomeExisting means the document already belonged to a campaign.
	OutcomeExisting Outcome = "existing"
	// OutcomeJoined means the cluster yielded to a campaign that already
	// holds some of its documents.
	OutcomeJoined Outcome = "joined"
)

// Reasons reported with OutcomeNone.
const (
	ReasonTooFewRelationships = "too_few_relationships"
	ReasonWeakSignature       = "weak_signature"
	ReasonSpanTooWide         = "span_too_wide"
)

// Detection is the result of one Detect call.
type Detection struct {
	Outcome  Outcome
	Reason   string
	Campaign *entities.Campaign
	// Added lists documents that became members during this call.
	Added []string
}

// Detector runs campaign detection against the store.
type Detector struct {
	store    *repository.Store
	retrier  *datastore.Retrier
	recorder metrics.Recorder
	now      func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(d *Detector) { d.recorder = metrics.OrNop(r) }
}

// NewDetector creates a Detector.
func NewDetector(store *repository.Store, retrier *datastore.Retrier, opts ...Option) *Detector {
	if retrier == nil {
		retrier = datastore.NewRetrier(nil)
	}
	d := &Detector{store: store, retrier: retrier, recorder: metrics.NopRecorder{}, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// cluster is the seed document plus its high-score neighbours.
type cluster struct {
	seed      string
	docs      []string // seed first, then neighbours ascending
	rels      []*entities.Relationship
	scores    map[string]float64 // neighbour -> overall score
	signature *Signature
	first     time.Time
	last      time.Time
}

func (c *cluster) confidence() float64 {
	if len(c.rels) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range c.rels {
		sum += r.OverallScore
	}
	return sum / float64(len(c.rels))
}

func (c *cluster) relationshipIDs() []uint {
	ids := make([]uint, len(c.rels))
	for i, r := range c.rels {
		ids[i] = r.ID
	}
	return ids
}

// Detect evaluates the document's relationships at or above the campaign
// score threshold and creates, joins or returns a campaign.
func (d *Detector) Detect(ctx context.Context, documentID string, settings *conf.CorrelationSettings) (*Detection, error) {
	start := time.Now()
	log := GetLogger().With(logger.String("document_id", documentID))

	rels, err := d.store.Relationships.ListBySource(ctx, documentID, settings.CampaignScoreThreshold, 0)
	if err != nil {
		return nil, d.fail(err, documentID)
	}
	if len(rels) < settings.CampaignMinArticles-1 {
		return d.none(ReasonTooFewRelationships), nil
	}

	if existing, err := d.existingFor(ctx, d.store, documentID); err != nil {
		return nil, d.fail(err, documentID)
	} else if existing != nil {
		d.recorder.RecordOperation(metrics.OpCampaign, string(OutcomeExisting))
		return &Detection{Outcome: OutcomeExisting, Campaign: existing}, nil
	}

	cl, err := d.buildCluster(ctx, documentID, rels)
	if err != nil {
		return nil, d.fail(err, documentID)
	}
	if cl.signature.Size() < settings.CampaignMinSharedEntities {
		return d.none(ReasonWeakSignature), nil
	}
	window := time.Duration(settings.CampaignTimeWindowDays) * 24 * time.Hour
	if cl.last.Sub(cl.first) > window {
		return d.none(ReasonSpanTooWide), nil
	}

	name, err := d.campaignName(ctx, cl.signature)
	if err != nil {
		return nil, d.fail(err, documentID)
	}

	var detection *Detection
	err = d.retrier.Do(ctx, "campaign", func(ctx context.Context) error {
		return d.store.Transaction(ctx, func(tx *repository.Store) error {
			var err error
			detection, err = d.commit(ctx, tx, cl, name)
			return err
		})
	})
	if err != nil {
		return nil, d.fail(err, documentID)
	}

	d.recorder.RecordOperation(metrics.OpCampaign, string(detection.Outcome))
	d.recorder.RecordDuration(metrics.OpCampaign, time.Since(start).Seconds())
	if detection.Outcome != OutcomeExisting {
		log.Info("campaign updated",
			logger.String("outcome", string(detection.Outcome)),
			logger.String("campaign_key", detection.Campaign.CampaignKey),
			logger.String("name", detection.Campaign.Name),
			logger.Int("articles", detection.Campaign.ArticleCount),
			logger.Int("added", len(detection.Added)))
	}
	return detection, nil
}

func (d *Detector) none(reason string) *Detection {
	d.recorder.RecordOperation(metrics.OpCampaign, string(OutcomeNone))
	return &Detection{Outcome: OutcomeNone, Reason: reason}
}

// existingFor returns the campaign holding documentID, or nil.
func (d *Detector) existingFor(ctx context.Context, store *repository.Store, documentID string) (*entities.Campaign, error) {
	m, err := store.Campaigns.MembershipForDocument(ctx, documentID)
	if errors.Is(err, repository.ErrMembershipNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return store.Campaigns.Get(ctx, m.CampaignID)
}

func (d *Detector) buildCluster(ctx context.Context, seed string, rels []*entities.Relationship) (*cluster, error) {
	cl := &cluster{seed: seed, scores: make(map[string]float64, len(rels))}
	for _, r := range rels {
		if r.RelatedDocumentID == seed {
			continue
		}
		if _, dup := cl.scores[r.RelatedDocumentID]; dup {
			continue
		}
		cl.scores[r.RelatedDocumentID] = r.OverallScore
		cl.rels = append(cl.rels, r)
	}
	neighbours := make([]string, 0, len(cl.scores))
	for id := range cl.scores {
		neighbours = append(neighbours, id)
	}
	slices.Sort(neighbours)
	cl.docs = append([]string{seed}, neighbours...)

	sets, err := d.store.Links.EntitySetsForDocuments(ctx, cl.docs)
	if err != nil {
		return nil, err
	}
	acc := newSignatureAccumulator()
	for _, id := range cl.docs {
		acc.Add(sets[id])
	}
	cl.signature = acc.Signature()

	docs, err := d.store.Documents.GetByIDs(ctx, cl.docs)
	if err != nil {
		return nil, err
	}
	for _, id := range cl.docs {
		doc, ok := docs[id]
		if !ok {
			continue
		}
		at := doc.CreatedAt.UTC()
		if cl.first.IsZero() || at.Before(cl.first) {
			cl.first = at
		}
		if at.After(cl.last) {
			cl.last = at
		}
	}
	if cl.first.IsZero() {
		now := d.now().UTC()
		cl.first, cl.last = now, now
	}
	return cl, nil
}

// campaignName uses the primary signature actor's display name.
func (d *Detector) campaignName(ctx context.Context, sig *Signature) (string, error) {
	actorID, ok := sig.PrimaryActor()
	if !ok {
		return entities.UnattributedCampaignName, nil
	}
	actor, err := d.store.Entities.Get(ctx, actorID)
	if errors.Is(err, repository.ErrEntityNotFound) {
		return entities.UnattributedCampaignName, nil
	}
	if err != nil {
		return "", err
	}
	return actor.CanonicalValue + " Campaign", nil
}

// commit re-checks memberships inside the transaction and then creates a
// campaign or joins the one already holding cluster documents.
func (d *Detector) commit(ctx context.Context, tx *repository.Store, cl *cluster, name string) (*Detection, error) {
	memberships, err := tx.Campaigns.MembershipsForDocuments(ctx, cl.docs)
	if err != nil {
		return nil, err
	}

	if m, ok := memberships[cl.seed]; ok {
		c, err := tx.Campaigns.Get(ctx, m.CampaignID)
		if err != nil {
			return nil, err
		}
		return &Detection{Outcome: OutcomeExisting, Campaign: c}, nil
	}
	if len(memberships) > 0 {
		return d.join(ctx, tx, cl, memberships)
	}
	return d.create(ctx, tx, cl, name)
}

func (d *Detector) create(ctx context.Context, tx *repository.Store, cl *cluster, name string) (*Detection, error) {
	now := d.now().UTC()
	confidence := cl.confidence()

	c := &entities.Campaign{
		CampaignKey:           uuid.NewString(),
		Name:                  name,
		SignatureIndicatorIDs: cl.signature.Indicators,
		SignatureTechniqueIDs: cl.signature.Techniques,
		SignatureActorIDs:     cl.signature.Actors,
		ArticleCount:          len(cl.docs),
		FirstSeenAt:           cl.first,
		LastSeenAt:            cl.last,
		DurationDays:          spanDays(cl.first, cl.last),
		DetectionConfidence:   confidence,
		Status:                entities.CampaignActive,
	}
	if actorID, ok := cl.signature.PrimaryActor(); ok {
		c.PrimaryActorID = &actorID
	}
	if err := tx.Campaigns.Create(ctx, c); err != nil {
		return nil, err
	}

	members := make([]*entities.CampaignMembership, 0, len(cl.docs))
	for _, id := range cl.docs {
		members = append(members, &entities.CampaignMembership{
			CampaignID: c.ID,
			DocumentID: id,
			Confidence: d.memberConfidence(cl, id, confidence),
			IsSeed:     true,
			JoinedAt:   now,
		})
	}
	if err := tx.Campaigns.AddMembers(ctx, members); err != nil {
		return nil, err
	}
	if err := tx.Relationships.MarkCampaign(ctx, cl.relationshipIDs(), c.ID); err != nil {
		return nil, err
	}
	return &Detection{Outcome: OutcomeCreated, Campaign: c, Added: slices.Clone(cl.docs)}, nil
}

// join adds the seed and every unaffiliated cluster document to the
// campaign holding most of the cluster, lowest campaign id on ties.
func (d *Detector) join(ctx context.Context, tx *repository.Store, cl *cluster, memberships map[string]*entities.CampaignMembership) (*Detection, error) {
	votes := make(map[uint]int)
	for _, m := range memberships {
		votes[m.CampaignID]++
	}
	ids := make([]uint, 0, len(votes))
	for id := range votes {
		ids = append(ids, id)
	}
	target := slices.MaxFunc(ids, func(a, b uint) int {
		if c := cmp.Compare(votes[a], votes[b]); c != 0 {
			return c
		}
		return cmp.Compare(b, a)
	})

	c, err := tx.Campaigns.Get(ctx, target)
	if err != nil {
		return nil, err
	}

	now := d.now().UTC()
	confidence := cl.confidence()
	var added []string
	var members []*entities.CampaignMembership
	for _, id := range cl.docs {
		if _, taken := memberships[id]; taken {
			continue
		}
		added = append(added, id)
		members = append(members, &entities.CampaignMembership{
			CampaignID: c.ID,
			DocumentID: id,
			Confidence: d.memberConfidence(cl, id, confidence),
			JoinedAt:   now,
		})
	}
	if err := tx.Campaigns.AddMembers(ctx, members); err != nil {
		return nil, err
	}

	// only relationships between campaign members are campaign evidence
	var evidence []uint
	for _, r := range cl.rels {
		if m, ok := memberships[r.RelatedDocumentID]; (ok && m.CampaignID == c.ID) || slices.Contains(added, r.RelatedDocumentID) {
			evidence = append(evidence, r.ID)
		}
	}
	if err := tx.Relationships.MarkCampaign(ctx, evidence, c.ID); err != nil {
		return nil, err
	}

	c.ArticleCount += len(added)
	if cl.first.Before(c.FirstSeenAt) {
		c.FirstSeenAt = cl.first
	}
	if cl.last.After(c.LastSeenAt) {
		c.LastSeenAt = cl.last
	}
	c.DurationDays = spanDays(c.FirstSeenAt, c.LastSeenAt)
	if c.Status == entities.CampaignDormant {
		c.Status = entities.CampaignActive
	}
	if err := tx.Campaigns.Update(ctx, c); err != nil {
		return nil, err
	}
	return &Detection{Outcome: OutcomeJoined, Campaign: c, Added: added}, nil
}

// memberConfidence is the relationship score for neighbours and the mean
// score for the seed.
func (d *Detector) memberConfidence(cl *cluster, documentID string, mean float64) float64 {
	if s, ok := cl.scores[documentID]; ok {
		return s
	}
	return mean
}

func spanDays(first, last time.Time) int {
	return int(math.Ceil(last.Sub(first).Hours() / 24))
}

func (d *Detector) fail(err error, documentID string) error {
	category := errors.CategoryProcessing
	switch {
	case errors.IsConflict(err):
		category = errors.CategoryConflict
	case errors.IsCategory(err, errors.CategoryCancellation):
		category = errors.CategoryCancellation
	}
	d.recorder.RecordError(metrics.OpCampaign, string(category))
	return errors.New(err).
		Component("campaign").
		Category(category).
		Context("document_id", documentID).
		Build()
}
