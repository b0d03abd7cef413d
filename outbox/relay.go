package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Envelope is what a Publisher receives for one outbox row. Token, when set,
// is an HS256 JWT over the topic and payload so consumers can check origin.
type Envelope struct {
	ID      string
	Topic   string
	Payload json.RawMessage
	Token   string
}

// Publisher delivers envelopes to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Signer issues envelope tokens.
type Signer struct {
	key    []byte
	issuer string
	now    func() time.Time
}

var errEmptyKey = errors.New("outbox: empty signing key")

func NewSigner(key []byte, issuer string) (*Signer, error) {
	if len(key) == 0 {
		return nil, errEmptyKey
	}
	return &Signer{key: key, issuer: issuer, now: time.Now}, nil
}

func (s *Signer) Sign(m Message) (string, error) {
	claims := jwt.MapClaims{
		"iss":     s.issuer,
		"jti":     m.ID,
		"iat":     s.now().Unix(),
		"topic":   m.Topic,
		"payload": json.RawMessage(m.Payload),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("outbox: sign %s: %w", m.ID, err)
	}
	return token, nil
}

// Verify parses a token produced by Sign and returns its topic.
func (s *Signer) Verify(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.key, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		return "", fmt.Errorf("outbox: parse token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return "", fmt.Errorf("outbox: invalid token")
	}
	topic, ok := claims["topic"].(string)
	if !ok {
		return "", fmt.Errorf("outbox: token without topic")
	}
	return topic, nil
}

// Metrics counts relay outcomes.
type Metrics interface {
	OutboxPublished(topic string)
	OutboxFailed(topic string)
}

type noopMetrics struct{}

func (noopMetrics) OutboxPublished(string) {}
func (noopMetrics) OutboxFailed(string)    {}

// RelayConfig tunes draining. Zero fields use defaults.
type RelayConfig struct {
	BatchSize   int
	MaxAttempts int
}

// Relay moves committed outbox rows to a Publisher.
type Relay struct {
	pool      TxBeginner
	store     Store
	publisher Publisher
	signer    *Signer
	metrics   Metrics
	cfg       RelayConfig
	log       zerolog.Logger
	now       func() time.Time
}

func NewRelay(pool TxBeginner, store Store, publisher Publisher, cfg RelayConfig, log zerolog.Logger) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Relay{
		pool:      pool,
		store:     store,
		publisher: publisher,
		metrics:   noopMetrics{},
		cfg:       cfg,
		log:       log.With().Str("component", "outbox_relay").Logger(),
		now:       time.Now,
	}
}

func (r *Relay) WithSigner(s *Signer) *Relay {
	r.signer = s
	return r
}

func (r *Relay) WithMetrics(m Metrics) *Relay {
	r.metrics = m
	return r
}

func (r *Relay) WithClock(now func() time.Time) *Relay {
	r.now = now
	return r
}

// Drain publishes one batch. It returns how many rows were published; publish
// failures are reported in the error but do not stop the batch.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	msgs, err := r.store.ClaimPending(ctx, tx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var (
		published int
		errs      *multierror.Error
	)
	for _, m := range msgs {
		at := r.now().UTC()
		if err := r.publish(ctx, m); err != nil {
			r.metrics.OutboxFailed(m.Topic)
			dead := m.Attempts+1 >= r.cfg.MaxAttempts
			if markErr := r.store.MarkFailed(ctx, tx, m.ID, at, dead); markErr != nil {
				return 0, markErr
			}
			if dead {
				r.log.Error().Err(err).Str("message_id", m.ID).Str("topic", m.Topic).Msg("outbox message is dead")
			}
			errs = multierror.Append(errs, fmt.Errorf("outbox: publish %s: %w", m.ID, err))
			continue
		}
		if err := r.store.MarkProcessed(ctx, tx, m.ID, at); err != nil {
			return 0, err
		}
		r.metrics.OutboxPublished(m.Topic)
		published++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("outbox: commit drain: %w", err)
	}
	return published, errs.ErrorOrNil()
}

func (r *Relay) publish(ctx context.Context, m Message) error {
	env := Envelope{ID: m.ID, Topic: m.Topic, Payload: json.RawMessage(m.Payload)}
	if r.signer != nil {
		token, err := r.signer.Sign(m)
		if err != nil {
			return err
		}
		env.Token = token
	}
	return r.publisher.Publish(ctx, env)
}

// Run drains every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.Drain(ctx)
			if err != nil && ctx.Err() == nil {
				r.log.Warn().Err(err).Msg("outbox drain incomplete")
			}
			if n > 0 {
				r.log.Debug().Int("published", n).Msg("outbox drained")
			}
		}
	}
}

// LogPublisher writes envelopes to the log.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log.With().Str("component", "outbox_publisher").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, env Envelope) error {
	p.log.Info().Str("message_id", env.ID).Str("topic", env.Topic).RawJSON("payload", env.Payload).Bool("signed", env.Token != "").Msg("event published")
	return nil
}
