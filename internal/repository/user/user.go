package user

import (
	"context"
	"errors"

	"github.com/Berkay2002/rsa-messenger/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"
)

var ErrAlreadyExists = errors.New("user already exists")

type (
	UserRepo struct {
		collection *mongo.Collection
	}
)

func NewUserRepo(db *mongo.Database) *UserRepo {
	return &UserRepo{
		collection: db.Collection("users"),
	}
}

// EnsureIndexes creates the unique username index.
func (r *UserRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *UserRepo) GetByName(ctx context.Context, username string) (*model.User, error) {
	filter := bson.M{
		"username": username,
	}

	var user model.User
	err := r.collection.FindOne(ctx, filter).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &user, nil
}

// Create stores a new user with a bcrypt hash of the password. The
// encrypted private key blob is stored opaque; the server never sees the
// cleartext key.
func (r *UserRepo) Create(ctx context.Context, username, password, publicKey, encryptedPrivateKey string) (primitive.ObjectID, error) {
	existing, err := r.GetByName(ctx, username)
	if err != nil {
		return primitive.NilObjectID, err
	}
	if existing != nil {
		return primitive.NilObjectID, ErrAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return primitive.NilObjectID, err
	}

	user := &model.User{
		Username:            username,
		PasswordHash:        string(hash),
		PublicKey:           publicKey,
		EncryptedPrivateKey: encryptedPrivateKey,
	}

	res, err := r.collection.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return primitive.NilObjectID, ErrAlreadyExists
		}
		return primitive.NilObjectID, err
	}

	id := res.InsertedID.(primitive.ObjectID)
	user.ID = id
	return id, nil
}

// Verify checks username/password and returns the user document on a
// match, or (nil, nil) when the password is wrong.
func (r *UserRepo) Verify(ctx context.Context, username, password string) (*model.User, error) {
	user, err := r.GetByName(ctx, username)
	if err != nil || user == nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, nil
	}
	return user, nil
}
