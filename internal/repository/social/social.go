// Package social holds the friends and groups collections.
package social

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Berkay2002/rsa-messenger/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrGroupExists   = errors.New("group name already exists")
	ErrGroupNotFound = errors.New("group does not exist")
)

type (
	SocialRepo struct {
		friends *mongo.Collection
		groups  *mongo.Collection
	}
)

func NewSocialRepo(db *mongo.Database) *SocialRepo {
	return &SocialRepo{
		friends: db.Collection("friends"),
		groups:  db.Collection("groups"),
	}
}

func (r *SocialRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.friends.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user", Value: 1}, {Key: "friend", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = r.groups.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "group_name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// AddFriend records a bidirectional friendship.
func (r *SocialRepo) AddFriend(ctx context.Context, user, friend string) error {
	if user == friend {
		return errors.New("cannot add yourself as a friend")
	}

	docs := []interface{}{
		model.Friendship{User: user, Friend: friend},
		model.Friendship{User: friend, Friend: user},
	}
	_, err := r.friends.InsertMany(ctx, docs)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s and %s are already friends", user, friend)
	}
	return err
}

func (r *SocialRepo) Friends(ctx context.Context, username string) ([]string, error) {
	cursor, err := r.friends.Find(ctx, bson.M{"user": username})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var names []string
	for cursor.Next(ctx) {
		var f model.Friendship
		if err := cursor.Decode(&f); err != nil {
			return nil, err
		}
		names = append(names, f.Friend)
	}
	return names, cursor.Err()
}

func (r *SocialRepo) CreateGroup(ctx context.Context, name, creator string, members []string) error {
	group := &model.Group{
		GroupName: name,
		Creator:   creator,
		Members:   members,
		CreatedAt: time.Now().UTC(),
	}

	_, err := r.groups.InsertOne(ctx, group)
	if mongo.IsDuplicateKeyError(err) {
		return ErrGroupExists
	}
	return err
}

// Groups returns the names of groups the user is a member of.
func (r *SocialRepo) Groups(ctx context.Context, username string) ([]string, error) {
	cursor, err := r.groups.Find(ctx, bson.M{"members": username})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var names []string
	for cursor.Next(ctx) {
		var g model.Group
		if err := cursor.Decode(&g); err != nil {
			return nil, err
		}
		names = append(names, g.GroupName)
	}
	return names, cursor.Err()
}

func (r *SocialRepo) GroupMembers(ctx context.Context, name string) ([]string, error) {
	var g model.Group
	err := r.groups.FindOne(ctx, bson.M{"group_name": name}).Decode(&g)
	if err == mongo.ErrNoDocuments {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	return g.Members, nil
}

func (r *SocialRepo) AddMember(ctx context.Context, name, username string) error {
	res, err := r.groups.UpdateOne(ctx,
		bson.M{"group_name": name},
		bson.M{"$addToSet": bson.M{"members": username}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrGroupNotFound
	}
	return nil
}
