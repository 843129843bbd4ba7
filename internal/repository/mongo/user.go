package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/todo-api/internal/apperror"
	"github.com/sakif/todo-api/internal/model"
	"github.com/sakif/todo-api/internal/repository"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the MongoDB-backed credential store.
type UserDB struct {
	coll *mongo.Collection
}

func (r *UserDB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	if _, err := r.coll.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.Conflict("User", "already exists")
		}
		return fmt.Errorf("mongo: inserting user: %w", err)
	}
	return nil
}

func (r *UserDB) GetByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("mongo: getting user %s: %w", id, err)
	}
	return &u, nil
}

func (r *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := r.coll.FindOne(ctx, bson.M{"email": email}).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFoundMessage("User not found")
		}
		return nil, fmt.Errorf("mongo: getting user by email: %w", err)
	}
	return &u, nil
}

func (r *UserDB) SetOTP(ctx context.Context, id, code string, expiresAt time.Time) error {
	set := bson.M{
		"otp":        code,
		"updated_at": time.Now().UTC(),
	}
	update := bson.M{"$set": set}
	if expiresAt.IsZero() {
		update["$unset"] = bson.M{"otp_expires_at": ""}
	} else {
		set["otp_expires_at"] = expiresAt.UTC()
	}

	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("mongo: storing otp for user %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

func (r *UserDB) ClearOTP(ctx context.Context, id, code string) error {
	if code == "" {
		return nil
	}
	filter := bson.M{"_id": id, "otp": code}
	update := bson.M{
		"$set":   bson.M{"otp": "", "updated_at": time.Now().UTC()},
		"$unset": bson.M{"otp_expires_at": ""},
	}
	if _, err := r.coll.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("mongo: clearing otp for user %s: %w", id, err)
	}
	return nil
}

// ConsumeOTP matches on the pending code and its expiry in the filter, so
// the document can only be updated once per issued code.
func (r *UserDB) ConsumeOTP(ctx context.Context, id, code string, now time.Time, passwordHash string) error {
	if code == "" {
		return apperror.InvalidOTP()
	}
	now = now.UTC()
	filter := bson.M{
		"_id":            id,
		"otp":            code,
		"otp_expires_at": bson.M{"$gt": now},
	}
	update := bson.M{
		"$set": bson.M{
			"password_hash": passwordHash,
			"otp":           "",
			"updated_at":    now,
		},
		"$unset": bson.M{"otp_expires_at": ""},
	}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("mongo: consuming otp for user %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return apperror.InvalidOTP()
	}
	return nil
}

func (r *UserDB) ClearExpiredOTPs(ctx context.Context, now time.Time) (int64, error) {
	filter := bson.M{
		"otp":            bson.M{"$nin": bson.A{"", nil}},
		"otp_expires_at": bson.M{"$lt": now.UTC()},
	}
	update := bson.M{
		"$set":   bson.M{"otp": ""},
		"$unset": bson.M{"otp_expires_at": ""},
	}

	res, err := r.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("mongo: clearing expired otps: %w", err)
	}
	return res.ModifiedCount, nil
}
