package challenge

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/NeuralTrust/TrustShield/pkg/cache"
	"github.com/NeuralTrust/TrustShield/pkg/common"
	domain "github.com/NeuralTrust/TrustShield/pkg/domain/errors"
	"github.com/NeuralTrust/TrustShield/pkg/infra/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	MaxAttempts = 3

	maxWaitSeconds    = 300
	baseBlockDuration = 5 * time.Minute
	defaultSiteKey    = "dummy-site-key"

	errNotFound    = "challenge not found or expired"
	errExpired     = "challenge expired"
	errMaxAttempts = "maximum attempts exceeded"
	errInvalid     = "invalid response"
	errBlocked     = "access is blocked until the challenge expires"
)

var ErrUnknownType = errors.New("unknown challenge type")

// ProblemSource produces jsChallenge questions.
type ProblemSource func() (Problem, error)

type SystemDI struct {
	Store        cache.Store
	Logger       *logrus.Logger
	Captcha      CaptchaVerifier
	SiteKey      string
	Random       io.Reader
	Problems     ProblemSource
	TimeProvider func() time.Time
}

// System issues challenges and verifies responses. Records live in the store
// so any instance can verify a challenge another one issued.
type System struct {
	store    cache.Store
	logger   *logrus.Logger
	captcha  CaptchaVerifier
	siteKey  string
	random   io.Reader
	problems ProblemSource
	now      func() time.Time
}

func NewSystem(di SystemDI) *System {
	s := &System{
		store:    di.Store,
		logger:   di.Logger,
		captcha:  di.Captcha,
		siteKey:  di.SiteKey,
		random:   di.Random,
		problems: di.Problems,
		now:      di.TimeProvider,
	}
	if s.captcha == nil {
		s.captcha = NewTokenPresenceVerifier()
	}
	if s.siteKey == "" {
		s.siteKey = defaultSiteKey
	}
	if s.random == nil {
		s.random = rand.Reader
	}
	if s.problems == nil {
		s.problems = s.randomProblem
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func recordKey(ip, id string) string { return "challenge:" + ip + ":" + id }

func activeKey(ip string) string { return "challenge:active:" + ip }

func verifiedKey(ip string) string { return "challenge:verified:" + ip }

func attemptsKey(ip, id string) string { return "challenge:attempts:" + ip + ":" + id }

func (s *System) randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(s.random, b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (s *System) randomInt(n int64) (int, error) {
	v, err := rand.Int(s.random, big.NewInt(n))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

func (s *System) randomProblem() (Problem, error) {
	a, err := s.randomInt(50)
	if err != nil {
		return Problem{}, err
	}
	b, err := s.randomInt(50)
	if err != nil {
		return Problem{}, err
	}
	op, err := s.randomInt(2)
	if err != nil {
		return Problem{}, err
	}
	p := Problem{A: a + 1, B: b + 1, Op: "+"}
	if op == 1 {
		p.Op = "*"
	}
	return p, nil
}

func hashAnswer(salt, answer string) string {
	raw, err := hex.DecodeString(salt)
	if err != nil {
		raw = []byte(salt)
	}
	sum := sha256.Sum256(append(raw, answer...))
	return hex.EncodeToString(sum[:])
}

// WaitTime is the rateLimit challenge delay in seconds for a threat score.
func WaitTime(score int) int {
	wait := int(math.Floor(float64(score) * 3))
	if wait > maxWaitSeconds {
		return maxWaitSeconds
	}
	if wait < 0 {
		return 0
	}
	return wait
}

// BlockDuration doubles for every 20 points of threat score.
func BlockDuration(score int) time.Duration {
	if score < 0 {
		score = 0
	}
	return baseBlockDuration * time.Duration(1<<(score/20))
}

// Create issues a challenge of the given type and registers it as active
// for ip.
func (s *System) Create(ctx context.Context, ip string, typ Type, score int) (*Challenge, error) {
	id, err := s.randomHex(16)
	if err != nil {
		return nil, err
	}

	ttl := common.ChallengeTTL
	var data Data
	switch typ {
	case TypeJS:
		problem, err := s.problems()
		if err != nil {
			return nil, fmt.Errorf("failed to generate problem: %w", err)
		}
		salt, err := s.randomHex(16)
		if err != nil {
			return nil, err
		}
		data = Data{
			Problem:      problem.String(),
			Salt:         salt,
			ExpectedHash: hashAnswer(salt, fmt.Sprint(problem.Answer())),
		}
	case TypeCaptcha:
		captchaID, err := s.randomHex(16)
		if err != nil {
			return nil, err
		}
		data = Data{SiteKey: s.siteKey, CaptchaID: captchaID}
	case TypeRateLimit:
		wait := WaitTime(score)
		data = Data{
			WaitTime: wait,
			Message:  fmt.Sprintf("Please wait %d seconds before trying again", wait),
		}
	case TypeBlock:
		ttl = BlockDuration(score)
		data = Data{Duration: int64(ttl / time.Second)}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}

	now := s.now()
	ch := &Challenge{
		ID:          id,
		Type:        typ,
		Data:        data,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		MaxAttempts: MaxAttempts,
	}
	if err := s.save(ctx, ip, ch, ttl); err != nil {
		return nil, err
	}
	if err := s.store.AddMember(ctx, activeKey(ip), id, ttl); err != nil {
		return nil, fmt.Errorf("failed to register active challenge: %w", err)
	}

	prometheus.ChallengesTotal.WithLabelValues(string(typ), "issued").Inc()
	s.logger.WithFields(logrus.Fields{
		"ip":           ip,
		"challenge_id": id,
		"type":         typ,
		"score":        score,
	}).Debug("challenge issued")
	return ch, nil
}

func (s *System) save(ctx context.Context, ip string, ch *Challenge, ttl time.Duration) error {
	raw, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("failed to marshal challenge: %w", err)
	}
	if err := s.store.Set(ctx, recordKey(ip, ch.ID), string(raw), ttl); err != nil {
		return fmt.Errorf("failed to save challenge: %w", err)
	}
	return nil
}

// Get returns nil when the record does not exist.
func (s *System) Get(ctx context.Context, ip, id string) (*Challenge, error) {
	raw, err := s.store.Get(ctx, recordKey(ip, id))
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	var ch Challenge
	if err := json.Unmarshal([]byte(raw), &ch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal challenge: %w", err)
	}
	return &ch, nil
}

// Find is Get for callers that treat a missing or expired record as an
// error.
func (s *System) Find(ctx context.Context, ip, id string) (*Challenge, error) {
	ch, err := s.Get(ctx, ip, id)
	if err != nil {
		return nil, err
	}
	if ch == nil || s.now().After(ch.ExpiresAt) {
		return nil, domain.NewNotFoundError("challenge", id)
	}
	return ch, nil
}

func (s *System) discard(ctx context.Context, ip, id string) {
	if err := s.store.Delete(ctx, recordKey(ip, id)); err != nil {
		s.logger.WithError(err).WithField("challenge_id", id).Warn("failed to delete challenge")
	}
	if err := s.store.RemoveMember(ctx, activeKey(ip), id); err != nil {
		s.logger.WithError(err).WithField("challenge_id", id).Warn("failed to deregister challenge")
	}
}

// Verify checks a response. Missing and expired records never consume an
// attempt. Block challenges cannot be solved: they stay active until they
// expire whatever is submitted.
func (s *System) Verify(ctx context.Context, ip, id string, resp Response) (Result, error) {
	ch, err := s.Get(ctx, ip, id)
	if err != nil {
		return Result{}, err
	}
	if ch == nil {
		return Result{State: StateNotFound, Error: errNotFound}, nil
	}

	now := s.now()
	if now.After(ch.ExpiresAt) {
		s.discard(ctx, ip, id)
		prometheus.ChallengesTotal.WithLabelValues(string(ch.Type), "expired").Inc()
		return Result{State: StateExpired, Error: errExpired, Attempts: ch.Attempts}, nil
	}
	if ch.Type == TypeBlock {
		prometheus.ChallengesTotal.WithLabelValues(string(ch.Type), "rejected").Inc()
		return Result{State: StateFailed, Error: errBlocked}, nil
	}

	// The counter lives beside the record so concurrent submissions each
	// take their own attempt. It is left to expire with the challenge so a
	// late submission never starts again from zero.
	ttl := ch.ExpiresAt.Sub(now)
	if ttl < time.Second {
		ttl = time.Second
	}
	n, err := s.store.IncrWithExpiry(ctx, attemptsKey(ip, id), ttl)
	if err != nil {
		return Result{}, fmt.Errorf("failed to count attempt: %w", err)
	}
	ch.Attempts = int(n)
	if ch.Attempts > ch.MaxAttempts {
		s.discard(ctx, ip, id)
		prometheus.ChallengesTotal.WithLabelValues(string(ch.Type), "failed").Inc()
		return Result{State: StateFailed, Error: errMaxAttempts, Attempts: ch.Attempts}, nil
	}

	ok, err := s.check(ctx, ip, ch, resp)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		prometheus.ChallengesTotal.WithLabelValues(string(ch.Type), "rejected").Inc()
		return Result{State: StatePending, Error: errInvalid, Attempts: ch.Attempts}, nil
	}

	if err := s.store.Delete(ctx, recordKey(ip, id), activeKey(ip)); err != nil {
		return Result{}, fmt.Errorf("failed to clear challenges: %w", err)
	}
	if err := s.store.Set(ctx, verifiedKey(ip), "1", common.VerifiedTTL); err != nil {
		return Result{}, fmt.Errorf("failed to mark ip verified: %w", err)
	}
	prometheus.ChallengesTotal.WithLabelValues(string(ch.Type), "verified").Inc()
	s.logger.WithFields(logrus.Fields{
		"ip":           ip,
		"challenge_id": id,
		"type":         ch.Type,
	}).Debug("challenge passed")
	return Result{State: StateVerified, Success: true, Attempts: ch.Attempts}, nil
}

func (s *System) check(ctx context.Context, ip string, ch *Challenge, resp Response) (bool, error) {
	switch ch.Type {
	case TypeJS:
		answer := strings.TrimSpace(resp.Answer)
		if answer == "" {
			return false, nil
		}
		got := hashAnswer(ch.Data.Salt, answer)
		return subtle.ConstantTimeCompare([]byte(got), []byte(ch.Data.ExpectedHash)) == 1, nil
	case TypeCaptcha:
		ok, err := s.captcha.Verify(ctx, resp.Token, ip)
		if err != nil {
			return false, fmt.Errorf("failed to verify captcha: %w", err)
		}
		return ok, nil
	case TypeRateLimit:
		return true, nil
	default:
		return false, nil
	}
}

func (s *System) IsChallenged(ctx context.Context, ip string) (bool, error) {
	ids, err := s.store.Members(ctx, activeKey(ip))
	if err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

func (s *System) IsVerified(ctx context.Context, ip string) (bool, error) {
	v, err := s.store.Get(ctx, verifiedKey(ip))
	if errors.Is(err, cache.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

// List returns the live challenges of ip, newest first. Ids whose record is
// gone or expired are pruned from the active set.
func (s *System) List(ctx context.Context, ip string) ([]*Challenge, error) {
	ids, err := s.store.Members(ctx, activeKey(ip))
	if err != nil {
		return nil, err
	}
	now := s.now()
	live := make([]*Challenge, 0, len(ids))
	for _, id := range ids {
		ch, err := s.Get(ctx, ip, id)
		if err != nil {
			return nil, err
		}
		if ch == nil || now.After(ch.ExpiresAt) {
			s.discard(ctx, ip, id)
			continue
		}
		live = append(live, ch)
	}
	sort.SliceStable(live, func(i, j int) bool {
		return live[i].CreatedAt.After(live[j].CreatedAt)
	})
	return live, nil
}

// Active returns the newest live challenge of ip, or nil.
func (s *System) Active(ctx context.Context, ip string) (*Challenge, error) {
	live, err := s.List(ctx, ip)
	if err != nil || len(live) == 0 {
		return nil, err
	}
	return live[0], nil
}

func (s *System) ClearActive(ctx context.Context, ip string) error {
	return s.store.Delete(ctx, activeKey(ip))
}
