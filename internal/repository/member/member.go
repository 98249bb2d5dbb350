package member

import (
	"context"
	"roomchat/internal/model"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	// Repo tracks which connection sits in which room under which name.
	Repo interface {
		Upsert(ctx context.Context, m *model.Member) error
		Get(ctx context.Context, id string) (*model.Member, error)
		Remove(ctx context.Context, id string) error
		ListByRoom(ctx context.Context, room string) ([]*model.Member, error)
	}

	MongoRepo struct {
		collection *mongo.Collection
	}

	MemoryRepo struct {
		mu      sync.RWMutex
		members map[string]model.Member
	}
)

func NewMongoRepo(db *mongo.Database) *MongoRepo {
	return &MongoRepo{
		collection: db.Collection("members"),
	}
}

func (r *MongoRepo) Upsert(ctx context.Context, m *model.Member) error {
	filter := bson.M{
		"_id": m.ID,
	}
	_, err := r.collection.ReplaceOne(ctx, filter, m, options.Replace().SetUpsert(true))
	return err
}

// Get returns nil, nil for an unknown id.
func (r *MongoRepo) Get(ctx context.Context, id string) (*model.Member, error) {
	filter := bson.M{
		"_id": id,
	}

	var m model.Member
	err := r.collection.FindOne(ctx, filter).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &m, nil
}

func (r *MongoRepo) Remove(ctx context.Context, id string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (r *MongoRepo) ListByRoom(ctx context.Context, room string) ([]*model.Member, error) {
	cur, err := r.collection.Find(ctx, bson.M{"room": room})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var res []*model.Member
	if err := cur.All(ctx, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Clear drops stale presence left over from a previous run.
func (r *MongoRepo) Clear(ctx context.Context) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{})
	return err
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{members: make(map[string]model.Member)}
}

func (r *MemoryRepo) Upsert(_ context.Context, m *model.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[m.ID] = *m
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, id string) (*model.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *MemoryRepo) Remove(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, id)
	return nil
}

func (r *MemoryRepo) ListByRoom(_ context.Context, room string) ([]*model.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []*model.Member
	for _, m := range r.members {
		if m.Room == room {
			m := m
			res = append(res, &m)
		}
	}
	return res, nil
}

var (
	_ Repo = (*MongoRepo)(nil)
	_ Repo = (*MemoryRepo)(nil)
)
