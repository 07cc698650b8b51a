package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type (
	User struct {
		ID                  primitive.ObjectID `bson:"_id,omitempty" json:"-"`
		Username            string             `bson:"username" json:"username"`
		PasswordHash        string             `bson:"password_hash" json:"-"`
		PublicKey           string             `bson:"public_key" json:"public_key"`
		EncryptedPrivateKey string             `bson:"encrypted_private_key,omitempty" json:"encrypted_private_key,omitempty"`
	}

	Group struct {
		ID        primitive.ObjectID `bson:"_id,omitempty" json:"-"`
		GroupName string             `bson:"group_name" json:"group_name"`
		Creator   string             `bson:"creator" json:"creator"`
		Members   []string           `bson:"members" json:"members"`
		CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	}

	// Friendship is one direction of a friend pair; pairs are stored both
	// ways so lookups stay a single query.
	Friendship struct {
		ID     primitive.ObjectID `bson:"_id,omitempty" json:"-"`
		User   string             `bson:"user" json:"user"`
		Friend string             `bson:"friend" json:"friend"`
	}
)
