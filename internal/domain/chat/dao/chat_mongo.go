package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vadim/neo-chat/internal/domain/chat/entity"
)

// Collection names of the document layout: one messages document per
// conversation and one chats document per user keyed by conversation id.
const (
	usersCollection    = "users"
	messagesCollection = "messages"
	chatsCollection    = "chats"
)

// conversationDocument is the messages/<conversationID> document
type conversationDocument struct {
	ID                string           `bson:"_id"`
	Participants      []string         `bson:"participants"`
	CreatedAt         time.Time        `bson:"created_at"`
	Messages          []entity.Message `bson:"messages"`
	LastMessageAt     *time.Time       `bson:"last_message_at,omitempty"`
	SummariesSyncedAt *time.Time       `bson:"summaries_synced_at,omitempty"`
}

// chatsDocument is the chats/<userID> document
type chatsDocument struct {
	ID            string                    `bson:"_id"`
	Conversations map[string]entity.Summary `bson:"conversations"`
}

// Mongo implements all chat repositories on a MongoDB database
type Mongo struct {
	db    *mongo.Database
	clock func() time.Time
}

// NewMongo creates a MongoDB-backed chat store
func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{db: db, clock: time.Now}
}

// EnsureIndexes creates the indexes the store relies on
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := m.db.Collection(usersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("creating users email index: %w", err)
	}
	return nil
}

// Ping checks connectivity
func (m *Mongo) Ping(ctx context.Context) error {
	return m.db.Client().Ping(ctx, nil)
}

// Users returns the user directory view of the store
func (m *Mongo) Users() *MongoUsers { return &MongoUsers{m} }

// Conversations returns the conversation registry view of the store
func (m *Mongo) Conversations() *MongoConversations { return &MongoConversations{m} }

// Messages returns the message log view of the store
func (m *Mongo) Messages() *MongoMessages { return &MongoMessages{m} }

// Summaries returns the summary view of the store
func (m *Mongo) Summaries() *MongoSummaries { return &MongoSummaries{m} }

// now returns a timestamp at the precision BSON dates keep
func (m *Mongo) now() time.Time {
	return m.clock().UTC().Truncate(time.Millisecond)
}

func summaryPath(conversationID, field string) string {
	if field == "" {
		return "conversations." + conversationID
	}
	return "conversations." + conversationID + "." + field
}

// MongoUsers implements the user directory on MongoDB
type MongoUsers struct{ m *Mongo }

// GetByID retrieves a user by ID
func (r *MongoUsers) GetByID(ctx context.Context, id string) (*entity.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// FindByEmail retrieves a user by exact email
func (r *MongoUsers) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

// Upsert inserts or replaces a user profile
func (r *MongoUsers) Upsert(ctx context.Context, user *entity.User) error {
	_, err := r.m.db.Collection(usersCollection).ReplaceOne(ctx,
		bson.M{"_id": user.ID},
		user,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

func (r *MongoUsers) findOne(ctx context.Context, filter bson.M) (*entity.User, error) {
	var u entity.User
	err := r.m.db.Collection(usersCollection).FindOne(ctx, filter).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}
	return &u, nil
}

// MongoConversations implements the conversation registry on MongoDB
type MongoConversations struct{ m *Mongo }

// GetByID retrieves a conversation without its messages
func (r *MongoConversations) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	var doc conversationDocument
	err := r.m.db.Collection(messagesCollection).FindOne(ctx,
		bson.M{"_id": id},
		options.FindOne().SetProjection(bson.M{"messages": 0}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding conversation: %w", err)
	}

	conv := &entity.Conversation{ID: doc.ID, CreatedAt: doc.CreatedAt}
	copy(conv.Participants[:], doc.Participants)
	return conv, nil
}

// Create inserts the messages document and seeds both chats entries.
// If seeding fails the messages document is removed so a retry starts clean.
func (r *MongoConversations) Create(ctx context.Context, conv *entity.Conversation, summaries []entity.Summary) error {
	doc := conversationDocument{
		ID:           conv.ID,
		Participants: conv.Participants[:],
		CreatedAt:    conv.CreatedAt,
		Messages:     []entity.Message{},
	}

	_, err := r.m.db.Collection(messagesCollection).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return entity.ErrConversationExists
	}
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	chats := r.m.db.Collection(chatsCollection)
	for _, s := range summaries {
		_, err := chats.UpdateOne(ctx,
			bson.M{"_id": s.UserID},
			bson.M{"$set": bson.M{summaryPath(conv.ID, ""): s}},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			if _, derr := r.m.db.Collection(messagesCollection).DeleteOne(context.WithoutCancel(ctx), bson.M{"_id": conv.ID}); derr != nil {
				return fmt.Errorf("seeding summary: %w (rollback failed: %v)", err, derr)
			}
			return fmt.Errorf("seeding summary: %w", err)
		}
	}
	return nil
}

// MongoMessages implements the message log on MongoDB
type MongoMessages struct{ m *Mongo }

// Append pushes the message onto the conversation document, then updates
// each participant's chats entry. Only the push is atomic; a failure after it
// is reported as entity.ErrSummaryStale.
func (r *MongoMessages) Append(ctx context.Context, msg *entity.Message, participants [2]string) error {
	msg.CreatedAt = r.m.now()

	res, err := r.m.db.Collection(messagesCollection).UpdateOne(ctx,
		bson.M{"_id": msg.ConversationID},
		bson.M{
			"$push": bson.M{"messages": msg},
			"$max":  bson.M{"last_message_at": msg.CreatedAt},
		},
	)
	if err != nil {
		return fmt.Errorf("pushing message: %w", err)
	}
	if res.MatchedCount == 0 {
		return entity.ErrConversationNotFound
	}

	if err := r.m.writeSummaries(ctx, msg.ConversationID, participants[:], *msg); err != nil {
		return fmt.Errorf("%w: %v", entity.ErrSummaryStale, err)
	}
	return nil
}

// GetByConversationID retrieves the conversation's messages oldest first
func (r *MongoMessages) GetByConversationID(ctx context.Context, conversationID string) ([]entity.Message, error) {
	var doc conversationDocument
	err := r.m.db.Collection(messagesCollection).FindOne(ctx,
		bson.M{"_id": conversationID},
		options.FindOne().SetProjection(bson.M{"messages": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []entity.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding messages: %w", err)
	}

	msgs := doc.Messages
	if msgs == nil {
		msgs = []entity.Message{}
	}
	entity.SortMessages(msgs)
	return msgs, nil
}

// writeSummaries moves the chats entries forward to msg, skipping entries
// that already show a newer message, and records the sync point.
func (m *Mongo) writeSummaries(ctx context.Context, conversationID string, userIDs []string, msg entity.Message) error {
	chats := m.db.Collection(chatsCollection)
	atPath := summaryPath(conversationID, "last_message_at")

	for _, userID := range userIDs {
		_, err := chats.UpdateOne(ctx,
			bson.M{
				"_id": userID,
				summaryPath(conversationID, ""): bson.M{"$exists": true},
				"$or": bson.A{
					bson.M{atPath: bson.M{"$exists": false}},
					bson.M{atPath: nil},
					bson.M{atPath: bson.M{"$lte": msg.CreatedAt}},
				},
			},
			bson.M{"$set": bson.M{
				summaryPath(conversationID, "last_message"): msg.Preview(),
				atPath: msg.CreatedAt,
			}},
		)
		if err != nil {
			return fmt.Errorf("updating summary for %s: %w", userID, err)
		}
	}

	_, err := m.db.Collection(messagesCollection).UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$max": bson.M{"summaries_synced_at": msg.CreatedAt}},
	)
	if err != nil {
		return fmt.Errorf("recording summary sync: %w", err)
	}
	return nil
}

// MongoSummaries implements summary storage on MongoDB
type MongoSummaries struct{ m *Mongo }

// GetByUserID retrieves all summaries from the user's chats document
func (r *MongoSummaries) GetByUserID(ctx context.Context, userID string) ([]entity.Summary, error) {
	var doc chatsDocument
	err := r.m.db.Collection(chatsCollection).FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []entity.Summary{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding chats: %w", err)
	}

	out := make([]entity.Summary, 0, len(doc.Conversations))
	for _, s := range doc.Conversations {
		out = append(out, s)
	}
	entity.SortSummaries(out)
	return out, nil
}

// GetStale returns conversations whose last message is newer than the last summary sync
func (r *MongoSummaries) GetStale(ctx context.Context, limit int) ([]string, error) {
	filter := bson.M{
		"last_message_at": bson.M{"$exists": true},
		"$expr": bson.M{
			"$lt": bson.A{
				bson.M{"$ifNull": bson.A{"$summaries_synced_at", time.Time{}}},
				"$last_message_at",
			},
		},
	}
	opts := options.Find().SetProjection(bson.M{"_id": 1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.m.db.Collection(messagesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("finding stale conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding conversation id: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	return ids, cursor.Err()
}

// Refresh rewrites both chats entries from the latest message of the conversation
func (r *MongoSummaries) Refresh(ctx context.Context, conversationID string) error {
	var doc conversationDocument
	err := r.m.db.Collection(messagesCollection).FindOne(ctx, bson.M{"_id": conversationID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return entity.ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("finding conversation: %w", err)
	}
	if len(doc.Messages) == 0 {
		return nil
	}

	return r.m.writeSummaries(ctx, conversationID, doc.Participants, latestMessage(doc.Messages))
}
