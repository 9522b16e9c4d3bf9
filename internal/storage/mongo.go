package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bilgisen/contentgen/internal/models"
)

const (
	contentsCollection = "contents"
	usersCollection    = "users"
)

// MongoStore implements Store on top of a MongoDB database.
type MongoStore struct {
	contents *mongo.Collection
	users    *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

// Connect opens a client and verifies the server is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// NewMongoStore wraps db and makes sure the indexes exist.
func NewMongoStore(ctx context.Context, db *mongo.Database) (*MongoStore, error) {
	s := &MongoStore{
		contents: db.Collection(contentsCollection),
		users:    db.Collection(usersCollection),
	}

	_, err := s.contents.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	if err != nil {
		return nil, fmt.Errorf("create contents index: %w", err)
	}
	_, err = s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("create users index: %w", err)
	}
	return s, nil
}

func (s *MongoStore) Create(ctx context.Context, item *models.Content) error {
	if item.ID.IsZero() {
		item.ID = primitive.NewObjectID()
	}
	if item.Comments == nil {
		item.Comments = []models.Comment{}
	}
	if _, err := s.contents.InsertOne(ctx, item); err != nil {
		return fmt.Errorf("insert content: %w", err)
	}
	return nil
}

func (s *MongoStore) FindAll(ctx context.Context, filter models.ContentFilter) ([]*models.Content, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := s.contents.Find(ctx, listFilter(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("find contents: %w", err)
	}

	items := make([]*models.Content, 0)
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("decode contents: %w", err)
	}
	return items, nil
}

func (s *MongoStore) FindByID(ctx context.Context, id string) (*models.Content, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return s.findOne(ctx, bson.M{"_id": oid})
}

func (s *MongoStore) FindOwned(ctx context.Context, id, userID string) (*models.Content, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return s.findOne(ctx, bson.M{"_id": oid, "userId": userID})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*models.Content, error) {
	var item models.Content
	if err := s.contents.FindOne(ctx, filter).Decode(&item); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find content: %w", err)
	}
	return &item, nil
}

func (s *MongoStore) Update(ctx context.Context, id string, update models.ContentUpdate) (*models.Content, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	filter := updateFilter(oid, update)
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var item models.Content
	err = s.contents.FindOneAndUpdate(ctx, filter, bson.M{"$set": updateFields(update)}, opts).Decode(&item)
	if err == nil {
		return &item, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("update content: %w", err)
	}

	// The guarded filter missed: either the record is gone or its status forbids the write.
	n, countErr := s.contents.CountDocuments(ctx, bson.M{"_id": oid})
	if countErr != nil {
		return nil, fmt.Errorf("update content: %w", countErr)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return nil, ErrInvalidTransition
}

func (s *MongoStore) Delete(ctx context.Context, id, userID string) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}
	res, err := s.contents.DeleteOne(ctx, bson.M{"_id": oid, "userId": userID})
	if err != nil {
		return fmt.Errorf("delete content: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) AddComment(ctx context.Context, contentID string, comment models.Comment) error {
	oid, err := parseID(contentID)
	if err != nil {
		return err
	}
	res, err := s.contents.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$push": bson.M{"comments": comment}},
	)
	if err != nil {
		return fmt.Errorf("add comment: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) UpdateCommentSentiment(ctx context.Context, contentID, commentID string, sentiment models.CommentSentiment) error {
	oid, err := parseID(contentID)
	if err != nil {
		return err
	}
	cid, err := parseID(commentID)
	if err != nil {
		return err
	}

	res, err := s.contents.UpdateOne(ctx, commentSentimentFilter(oid, cid), commentSentimentUpdate(sentiment))
	if err != nil {
		return fmt.Errorf("update comment sentiment: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := s.contents.CountDocuments(ctx, bson.M{"_id": oid, "comments._id": cid})
	if err != nil {
		return fmt.Errorf("update comment sentiment: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

func (s *MongoStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *MongoStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"email": email})
}

func (s *MongoStore) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return s.findUser(ctx, bson.M{"_id": oid})
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var user models.User
	if err := s.users.FindOne(ctx, filter).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

// listFilter matches the user's items whose title contains Search, ignoring case.
func listFilter(f models.ContentFilter) bson.M {
	filter := bson.M{"userId": f.UserID}
	if f.Search != "" {
		filter["title"] = bson.M{
			"$regex":   regexp.QuoteMeta(f.Search),
			"$options": "i",
		}
	}
	return filter
}

func updateFilter(oid primitive.ObjectID, update models.ContentUpdate) bson.M {
	filter := bson.M{"_id": oid}
	if update.Status != nil {
		filter["status"] = bson.M{"$in": statusesAllowing(*update.Status)}
	}
	return filter
}

func updateFields(update models.ContentUpdate) bson.M {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if update.Title != nil {
		set["title"] = *update.Title
	}
	if update.Body != nil {
		set["body"] = *update.Body
	}
	if update.Type != nil {
		set["type"] = *update.Type
	}
	if update.Status != nil {
		set["status"] = *update.Status
	}
	return set
}

func commentSentimentFilter(contentID, commentID primitive.ObjectID) bson.M {
	return bson.M{
		"_id": contentID,
		"comments": bson.M{"$elemMatch": bson.M{
			"_id":             commentID,
			"sentimentStatus": models.SentimentAnalyzing,
		}},
	}
}

// commentSentimentUpdate targets the matched array element only.
func commentSentimentUpdate(sentiment models.CommentSentiment) bson.M {
	return bson.M{"$set": bson.M{
		"comments.$.sentimentStatus": sentiment.Status,
		"comments.$.sentimentScore":  sentiment.Score,
		"comments.$.sentimentLabel":  sentiment.Label,
	}}
}
