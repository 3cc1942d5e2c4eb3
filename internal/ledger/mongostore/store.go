// Package mongostore implements the ledger store on MongoDB. Contribution
// writes and their goal-total adjustments run inside one session transaction
// so readers never observe the pair half-applied.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/seojinlee/notiledger/internal/ledger"
)

const (
	transactionsCollection  = "transactions"
	goalsCollection         = "goals"
	contributionsCollection = "contributions"
)

// Connect establishes and verifies a MongoDB connection.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// Store is the MongoDB-backed ledger store. Transactional contribution
// writes require the server to run as a replica set.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New creates a store over an established client.
func New(client *mongo.Client, dbName string) *Store {
	return &Store{client: client, db: client.Database(dbName)}
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) transactions() *mongo.Collection {
	return s.db.Collection(transactionsCollection)
}

func (s *Store) goals() *mongo.Collection {
	return s.db.Collection(goalsCollection)
}

func (s *Store) contributions() *mongo.Collection {
	return s.db.Collection(contributionsCollection)
}

// InsertTransaction implements ledger.Store.
func (s *Store) InsertTransaction(ctx context.Context, tx *ledger.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	if _, err := s.transactions().InsertOne(ctx, tx); err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// GetTransaction implements ledger.Store.
func (s *Store) GetTransaction(ctx context.Context, id string) (*ledger.Transaction, error) {
	var tx ledger.Transaction
	err := s.transactions().FindOne(ctx, bson.M{"_id": id}).Decode(&tx)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction %s: %w", id, err)
	}
	return &tx, nil
}

// UpdateTransactionStatus implements ledger.Store.
func (s *Store) UpdateTransactionStatus(ctx context.Context, id string, status ledger.Status) error {
	res, err := s.transactions().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	if res.MatchedCount == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// UpdateTransactionDetails implements ledger.Store. Only the user-editable
// fields of a committed record change here.
func (s *Store) UpdateTransactionDetails(ctx context.Context, id, description, memo string, category *ledger.Category) error {
	update := bson.M{"$set": bson.M{"description": description, "memo": memo}}
	if category == nil {
		update["$unset"] = bson.M{"category": ""}
	} else {
		update["$set"].(bson.M)["category"] = category
	}
	res, err := s.transactions().UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to update transaction details: %w", err)
	}
	if res.MatchedCount == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// DeleteTransaction implements ledger.Store.
func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	res, err := s.transactions().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if res.DeletedCount == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// ListTransactions implements ledger.Store.
func (s *Store) ListTransactions(ctx context.Context, ledgerID string, f ledger.TransactionFilter) ([]*ledger.Transaction, error) {
	filter := bson.M{"ledger_id": ledgerID}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.Provenance != "" {
		filter["provenance"] = f.Provenance
	}
	opts := options.Find().SetSort(bson.D{{Key: "occurred_at", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	return s.findTransactions(ctx, filter, opts)
}

// RecentTransactions implements ledger.Store: committed and held records with
// OccurredAt at or after since. This is the dedup window.
func (s *Store) RecentTransactions(ctx context.Context, ledgerID string, since time.Time) ([]*ledger.Transaction, error) {
	filter := bson.M{
		"ledger_id":   ledgerID,
		"occurred_at": bson.M{"$gte": since},
		"status": bson.M{"$in": []ledger.Status{
			ledger.StatusCommitted,
			ledger.StatusHeldDuplicate,
			ledger.StatusHeldHighValue,
		}},
	}
	return s.findTransactions(ctx, filter, options.Find().SetSort(bson.D{{Key: "occurred_at", Value: 1}}))
}

func (s *Store) findTransactions(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*ledger.Transaction, error) {
	cur, err := s.transactions().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer cur.Close(ctx)

	var result []*ledger.Transaction
	for cur.Next(ctx) {
		var tx ledger.Transaction
		if err := cur.Decode(&tx); err != nil {
			return nil, fmt.Errorf("failed to decode transaction: %w", err)
		}
		result = append(result, &tx)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return result, nil
}

// CommittedTotal implements ledger.Store.
func (s *Store) CommittedTotal(ctx context.Context, ledgerID string, d ledger.Direction) (int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"ledger_id": ledgerID,
			"direction": d,
			"status":    ledger.StatusCommitted,
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": "$amount"},
		}}},
	}
	cur, err := s.transactions().Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate committed total: %w", err)
	}
	defer cur.Close(ctx)

	var row struct {
		Total int64 `bson:"total"`
	}
	if cur.Next(ctx) {
		if err := cur.Decode(&row); err != nil {
			return 0, fmt.Errorf("failed to decode committed total: %w", err)
		}
	}
	return row.Total, cur.Err()
}

// CreateGoal implements ledger.Store.
func (s *Store) CreateGoal(ctx context.Context, g *ledger.SavingsGoal) error {
	if _, err := s.goals().InsertOne(ctx, g); err != nil {
		return fmt.Errorf("failed to insert goal: %w", err)
	}
	return nil
}

// GetGoal implements ledger.Store.
func (s *Store) GetGoal(ctx context.Context, id string) (*ledger.SavingsGoal, error) {
	var g ledger.SavingsGoal
	err := s.goals().FindOne(ctx, bson.M{"_id": id}).Decode(&g)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load goal %s: %w", id, err)
	}
	return &g, nil
}

// UpdateGoal implements ledger.Store. CurrentAmount is never written here;
// it only moves through contribution operations.
func (s *Store) UpdateGoal(ctx context.Context, g *ledger.SavingsGoal) error {
	set := bson.M{
		"name":          g.Name,
		"target_amount": g.TargetAmount,
		"updated_at":    time.Now(),
	}
	update := bson.M{"$set": set}
	if g.AutoDeposit == nil {
		update["$unset"] = bson.M{"auto_deposit": ""}
	} else {
		set["auto_deposit"] = g.AutoDeposit
	}
	res, err := s.goals().UpdateOne(ctx, bson.M{"_id": g.ID}, update)
	if err != nil {
		return fmt.Errorf("failed to update goal: %w", err)
	}
	if res.MatchedCount == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// DeleteGoal implements ledger.Store. The goal and its contributions go in
// one transaction.
func (s *Store) DeleteGoal(ctx context.Context, id string) error {
	return s.inTransaction(ctx, func(sc mongo.SessionContext) error {
		res, err := s.goals().DeleteOne(sc, bson.M{"_id": id})
		if err != nil {
			return fmt.Errorf("failed to delete goal: %w", err)
		}
		if res.DeletedCount == 0 {
			return ledger.ErrNotFound
		}
		if _, err := s.contributions().DeleteMany(sc, bson.M{"goal_id": id}); err != nil {
			return fmt.Errorf("failed to delete goal contributions: %w", err)
		}
		return nil
	})
}

// ListActiveGoals implements ledger.Store: incomplete goals, most recently
// updated first.
func (s *Store) ListActiveGoals(ctx context.Context, ledgerID string) ([]*ledger.SavingsGoal, error) {
	filter := bson.M{
		"ledger_id": ledgerID,
		"$expr":     bson.M{"$lt": bson.A{"$current_amount", "$target_amount"}},
	}
	cur, err := s.goals().Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query goals: %w", err)
	}
	defer cur.Close(ctx)

	var result []*ledger.SavingsGoal
	for cur.Next(ctx) {
		var g ledger.SavingsGoal
		if err := cur.Decode(&g); err != nil {
			return nil, fmt.Errorf("failed to decode goal: %w", err)
		}
		result = append(result, &g)
	}
	return result, cur.Err()
}

// AddContribution implements ledger.Store. The insert and the goal-total
// increment are one transaction.
func (s *Store) AddContribution(ctx context.Context, c *ledger.SavingsContribution) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return s.inTransaction(ctx, func(sc mongo.SessionContext) error {
		res, err := s.goals().UpdateOne(sc, bson.M{"_id": c.GoalID}, bson.M{
			"$inc": bson.M{"current_amount": c.Amount},
			"$set": bson.M{"updated_at": time.Now()},
		})
		if err != nil {
			return fmt.Errorf("failed to increment goal total: %w", err)
		}
		if res.MatchedCount == 0 {
			return ledger.ErrNotFound
		}
		if _, err := s.contributions().InsertOne(sc, c); err != nil {
			return fmt.Errorf("failed to insert contribution: %w", err)
		}
		return nil
	})
}

// GetContribution implements ledger.Store.
func (s *Store) GetContribution(ctx context.Context, id string) (*ledger.SavingsContribution, error) {
	var c ledger.SavingsContribution
	err := s.contributions().FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load contribution %s: %w", id, err)
	}
	return &c, nil
}

// UpdateContribution implements ledger.Store. An amount change adjusts the
// parent goal total by the delta in the same transaction. The goal linkage
// itself never changes here; reattachment goes through delete and add.
func (s *Store) UpdateContribution(ctx context.Context, c *ledger.SavingsContribution) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return s.inTransaction(ctx, func(sc mongo.SessionContext) error {
		var existing ledger.SavingsContribution
		err := s.contributions().FindOne(sc, bson.M{"_id": c.ID}).Decode(&existing)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ledger.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load contribution: %w", err)
		}

		updated := *c
		updated.GoalID = existing.GoalID
		if _, err := s.contributions().ReplaceOne(sc, bson.M{"_id": c.ID}, &updated); err != nil {
			return fmt.Errorf("failed to replace contribution: %w", err)
		}

		delta := c.Amount - existing.Amount
		res, err := s.goals().UpdateOne(sc, bson.M{"_id": existing.GoalID}, bson.M{
			"$inc": bson.M{"current_amount": delta},
			"$set": bson.M{"updated_at": time.Now()},
		})
		if err != nil {
			return fmt.Errorf("failed to adjust goal total: %w", err)
		}
		if res.MatchedCount == 0 {
			return ledger.ErrNotFound
		}
		return nil
	})
}

// DeleteContribution implements ledger.Store. The delete and the goal-total
// decrement are one transaction.
func (s *Store) DeleteContribution(ctx context.Context, id string) error {
	return s.inTransaction(ctx, func(sc mongo.SessionContext) error {
		var existing ledger.SavingsContribution
		err := s.contributions().FindOne(sc, bson.M{"_id": id}).Decode(&existing)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ledger.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load contribution: %w", err)
		}
		if _, err := s.contributions().DeleteOne(sc, bson.M{"_id": id}); err != nil {
			return fmt.Errorf("failed to delete contribution: %w", err)
		}
		_, err = s.goals().UpdateOne(sc, bson.M{"_id": existing.GoalID}, bson.M{
			"$inc": bson.M{"current_amount": -existing.Amount},
			"$set": bson.M{"updated_at": time.Now()},
		})
		if err != nil {
			return fmt.Errorf("failed to decrement goal total: %w", err)
		}
		return nil
	})
}

// ListContributions implements ledger.Store, newest first.
func (s *Store) ListContributions(ctx context.Context, goalID string) ([]*ledger.SavingsContribution, error) {
	cur, err := s.contributions().Find(ctx, bson.M{"goal_id": goalID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query contributions: %w", err)
	}
	defer cur.Close(ctx)

	var result []*ledger.SavingsContribution
	for cur.Next(ctx) {
		var c ledger.SavingsContribution
		if err := cur.Decode(&c); err != nil {
			return nil, fmt.Errorf("failed to decode contribution: %w", err)
		}
		result = append(result, &c)
	}
	return result, cur.Err()
}

func (s *Store) inTransaction(ctx context.Context, fn func(mongo.SessionContext) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

var _ ledger.Store = (*Store)(nil)
