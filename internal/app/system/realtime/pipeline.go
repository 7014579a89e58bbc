// internal/app/system/realtime/pipeline.go
package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	messagestore "github.com/dalemusser/ridechat/internal/app/store/messages"
	"github.com/dalemusser/ridechat/internal/app/system/htmlsanitize"
	"github.com/dalemusser/ridechat/internal/app/system/ratelimit"
	"github.com/dalemusser/ridechat/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// MaxContentLength is the longest accepted message, in runes, after markup
// has been stripped.
const MaxContentLength = 2000

// Ingest failures. Each is reported to the sender as an error event; none
// closes the connection.
var (
	ErrNoActiveRide   = errors.New("no active ride")
	ErrInvalidMessage = errors.New("invalid message")
	ErrRateLimited    = errors.New("sending too fast, slow down")
	ErrUnknownAuthor  = errors.New("unknown author")
	ErrPersist        = errors.New("message could not be saved")
)

// UserLookup loads a user. It returns mongo.ErrNoDocuments for unknown users.
type UserLookup interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
}

// MessageStore persists and lists chat messages.
type MessageStore interface {
	Create(ctx context.Context, userID primitive.ObjectID, in messagestore.NewMessage) (models.ChatMessage, error)
	ListByRide(ctx context.Context, rideID primitive.ObjectID, limit int64) ([]models.ChatMessage, error)
}

// Broadcaster fans an event out to a ride's room and returns how many
// connections it was queued to.
type Broadcaster interface {
	Broadcast(rideID primitive.ObjectID, event any) int
}

// Sender is the connection a message arrives on.
type Sender interface {
	UserID() primitive.ObjectID
	Room() (primitive.ObjectID, bool)
}

// Pipeline validates, persists and broadcasts inbound chat messages.
type Pipeline struct {
	users    UserLookup
	messages MessageStore
	out      Broadcaster
	seq      *sequencer
	limiter  *ratelimit.Limiter
	metrics  *Metrics
	log      *zap.Logger
}

func newPipeline(users UserLookup, messages MessageStore, out Broadcaster, seq *sequencer, limiter *ratelimit.Limiter, metrics *Metrics, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		users:    users,
		messages: messages,
		out:      out,
		seq:      seq,
		limiter:  limiter,
		metrics:  metrics,
		log:      logger,
	}
}

// validate returns the cleaned content and kind of a message frame.
func validate(f FrameMessage) (content, kind string, err error) {
	content = strings.TrimSpace(htmlsanitize.PlainText(f.Content))
	if content == "" {
		return "", "", fmt.Errorf("%w: content is empty", ErrInvalidMessage)
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", "", fmt.Errorf("%w: content exceeds %d characters", ErrInvalidMessage, MaxContentLength)
	}

	kind = f.Kind
	if kind == "" {
		kind = models.MessageKindText
	}
	if !models.IsValidMessageKind(kind) {
		return "", "", fmt.Errorf("%w: unsupported kind %q", ErrInvalidMessage, kind)
	}
	return content, kind, nil
}

// Ingest handles one message frame from s. On success the persisted message
// has already been broadcast to the sender's room.
func (p *Pipeline) Ingest(ctx context.Context, s Sender, f FrameMessage) (models.ChatMessage, error) {
	rideID, ok := s.Room()
	if !ok {
		p.metrics.MessagesTotal.WithLabelValues("no_ride").Inc()
		return models.ChatMessage{}, ErrNoActiveRide
	}
	userID := s.UserID()

	content, kind, err := validate(f)
	if err != nil {
		p.metrics.MessagesTotal.WithLabelValues("invalid").Inc()
		p.log.Info("chat message rejected",
			zap.String("user_id", userID.Hex()),
			zap.String("ride_id", rideID.Hex()),
			zap.Error(err))
		return models.ChatMessage{}, err
	}

	if p.limiter != nil && !p.limiter.Allow(userID.Hex()) {
		p.metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
		return models.ChatMessage{}, ErrRateLimited
	}

	unlock := p.seq.lock(rideID)
	defer unlock()

	// An eviction may have run while we waited for the ride.
	if cur, ok := s.Room(); !ok || cur != rideID {
		p.metrics.MessagesTotal.WithLabelValues("no_ride").Inc()
		return models.ChatMessage{}, ErrNoActiveRide
	}

	author, err := p.users.GetByID(ctx, userID)
	if errors.Is(err, mongo.ErrNoDocuments) {
		p.metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return models.ChatMessage{}, ErrUnknownAuthor
	}
	if err != nil {
		p.metrics.MessagesTotal.WithLabelValues("failed").Inc()
		p.log.Error("author lookup failed",
			zap.String("user_id", userID.Hex()),
			zap.Error(err))
		return models.ChatMessage{}, fmt.Errorf("%w: %v", ErrPersist, err)
	}

	msg, err := p.messages.Create(ctx, userID, messagestore.NewMessage{
		RideID:  rideID,
		Content: content,
		Kind:    kind,
	})
	if err != nil {
		p.metrics.MessagesTotal.WithLabelValues("failed").Inc()
		p.log.Error("persist chat message failed",
			zap.String("user_id", userID.Hex()),
			zap.String("ride_id", rideID.Hex()),
			zap.Error(err))
		return models.ChatMessage{}, fmt.Errorf("%w: %v", ErrPersist, err)
	}
	msg.Username = author.DisplayName()

	p.metrics.MessagesTotal.WithLabelValues("accepted").Inc()
	p.out.Broadcast(rideID, messageEvent(msg))
	return msg, nil
}

// history loads the recent messages of a ride with author names resolved.
func (p *Pipeline) history(ctx context.Context, rideID primitive.ObjectID, limit int64) ([]models.ChatMessage, error) {
	msgs, err := p.messages.ListByRide(ctx, rideID, limit)
	if err != nil {
		return nil, err
	}

	names := make(map[primitive.ObjectID]string)
	for i := range msgs {
		uid := msgs[i].UserID
		name, ok := names[uid]
		if !ok {
			if u, err := p.users.GetByID(ctx, uid); err == nil {
				name = u.DisplayName()
			} else if !errors.Is(err, mongo.ErrNoDocuments) {
				return nil, err
			}
			names[uid] = name
		}
		msgs[i].Username = name
	}
	return msgs, nil
}
