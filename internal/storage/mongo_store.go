package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"streamnest/internal/models"
)

// MongoConfig describes connectivity for the MongoDB credential store.
type MongoConfig struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
}

func applyMongoDefaults(cfg MongoConfig) MongoConfig {
	if cfg.Database == "" {
		cfg.Database = "streamnest"
	}
	if cfg.Collection == "" {
		cfg.Collection = "users"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return cfg
}

// MongoStore implements Repository on a MongoDB collection. Unique indexes on
// username and email are the authoritative uniqueness guard; the handler-level
// pre-check is an early-exit optimization only.
type MongoStore struct {
	client *mongo.Client
	users  *mongo.Collection
}

// NewMongoStore connects to MongoDB and ensures the identity indexes exist.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	cfg = applyMongoDefaults(cfg)
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, errors.New("mongo URI is required")
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	store := &MongoStore{
		client: client,
		users:  client.Database(cfg.Database).Collection(cfg.Collection),
	}
	if err := store.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := s.users.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("mongo ensure indexes: %w", err)
	}
	return nil
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) CreateUser(ctx context.Context, params CreateUserParams) (models.User, error) {
	username := models.NormalizeUsername(params.Username)
	email := models.NormalizeEmail(params.Email)
	if username == "" || email == "" {
		return models.User{}, errors.New("username and email are required")
	}
	hashed, err := HashPassword(params.Password)
	if err != nil {
		return models.User{}, err
	}

	now := time.Now().UTC()
	user := models.User{
		ID:            uuid.NewString(),
		Username:      username,
		Email:         email,
		FullName:      strings.TrimSpace(params.FullName),
		PasswordHash:  hashed,
		AvatarURL:     params.AvatarURL,
		CoverImageURL: params.CoverImageURL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.User{}, ErrDuplicateUser
		}
		return models.User{}, fmt.Errorf("mongo insert user: %w", err)
	}
	return user, nil
}

func (s *MongoStore) GetUser(ctx context.Context, id string) (models.User, bool, error) {
	var user models.User
	err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.User{}, false, nil
	}
	if err != nil {
		return models.User{}, false, fmt.Errorf("mongo find user: %w", err)
	}
	return user, true, nil
}

func (s *MongoStore) FindByIdentity(ctx context.Context, username, email string) (models.User, bool, error) {
	username = models.NormalizeUsername(username)
	email = models.NormalizeEmail(email)

	clauses := make([]bson.M, 0, 2)
	if username != "" {
		clauses = append(clauses, bson.M{"username": username})
	}
	if email != "" {
		clauses = append(clauses, bson.M{"email": email})
	}
	if len(clauses) == 0 {
		return models.User{}, false, nil
	}

	var user models.User
	err := s.users.FindOne(ctx, bson.M{"$or": clauses}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.User{}, false, nil
	}
	if err != nil {
		return models.User{}, false, fmt.Errorf("mongo find user by identity: %w", err)
	}
	return user, true, nil
}

func (s *MongoStore) UpdateUser(ctx context.Context, id string, update UserUpdate) (models.User, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if update.Username != nil {
		candidate := models.NormalizeUsername(*update.Username)
		if candidate == "" {
			return models.User{}, errors.New("username cannot be empty")
		}
		set["username"] = candidate
	}
	if update.Email != nil {
		candidate := models.NormalizeEmail(*update.Email)
		if candidate == "" {
			return models.User{}, errors.New("email cannot be empty")
		}
		set["email"] = candidate
	}
	if update.FullName != nil {
		set["fullName"] = strings.TrimSpace(*update.FullName)
	}
	if update.AvatarURL != nil {
		set["avatarUrl"] = *update.AvatarURL
	}
	if update.CoverImageURL != nil {
		set["coverImageUrl"] = *update.CoverImageURL
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var user models.User
	err := s.users.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		// The unique indexes reject username/email collisions on write.
		if mongo.IsDuplicateKeyError(err) {
			return models.User{}, ErrDuplicateUser
		}
		return models.User{}, fmt.Errorf("mongo update user: %w", err)
	}
	return user, nil
}

func (s *MongoStore) SetRefreshToken(ctx context.Context, id, token string) error {
	var update bson.M
	if token == "" {
		update = bson.M{
			"$unset": bson.M{"refreshToken": ""},
			"$set":   bson.M{"updatedAt": time.Now().UTC()},
		}
	} else {
		update = bson.M{
			"$set": bson.M{"refreshToken": token, "updatedAt": time.Now().UTC()},
		}
	}
	result, err := s.users.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("mongo set refresh token: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *MongoStore) SetUserPassword(ctx context.Context, id, password string) error {
	hashed, err := HashPassword(password)
	if err != nil {
		return err
	}
	result, err := s.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"passwordHash": hashed, "updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("mongo set password: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

var _ Repository = (*MongoStore)(nil)
