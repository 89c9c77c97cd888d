package gateway

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore adapts a Cloud Firestore client. Nested collections are
// addressed by their slash path ("posts/p1/likes").
type Firestore struct {
	client *firestore.Client
}

// OpenFirestore initializes a Firebase app and returns its Firestore client.
// credentialsFile may be empty to use application default credentials.
func OpenFirestore(ctx context.Context, projectID, credentialsFile string) (*firestore.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize firestore client: %w", err)
	}
	return client, nil
}

func NewFirestore(client *firestore.Client) *Firestore {
	return &Firestore{client: client}
}

func (f *Firestore) doc(collection, id string) *firestore.DocumentRef {
	return f.client.Collection(collection).Doc(id)
}

func (f *Firestore) Get(ctx context.Context, collection, id string) (Document, error) {
	snap, err := f.doc(collection, id).Get(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, id, translateStatus(err))
	}
	return Document{ID: snap.Ref.ID, Fields: snap.Data()}, nil
}

func (f *Firestore) buildQuery(collection string, filters []Filter) firestore.Query {
	q := f.client.Collection(collection).Query
	for _, flt := range filters {
		q = q.Where(flt.Field, string(flt.Op), flt.Value)
	}
	return q
}

func (f *Firestore) Query(ctx context.Context, q Query) (Page, error) {
	dir := firestore.Desc
	if q.Direction == Ascending {
		dir = firestore.Asc
	}

	fq := f.buildQuery(q.Collection, q.Filters)
	if q.OrderBy != "" {
		fq = fq.OrderBy(q.OrderBy, dir)
	}
	fq = fq.OrderBy(firestore.DocumentID, dir)

	if q.Cursor != "" {
		snap, err := f.doc(q.Collection, q.Cursor).Get(ctx)
		if err != nil {
			return Page{}, fmt.Errorf("query %s: cursor %s: %w", q.Collection, q.Cursor, translateStatus(err))
		}
		fq = fq.StartAfter(snap)
	}
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	if q.IDsOnly {
		fq = fq.Select()
	}

	iter := fq.Documents(ctx)
	defer iter.Stop()

	var page Page
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return Page{}, fmt.Errorf("query %s: %w", q.Collection, translateStatus(err))
		}
		fields := map[string]any{}
		if !q.IDsOnly {
			fields = snap.Data()
		}
		page.Items = append(page.Items, Document{ID: snap.Ref.ID, Fields: fields})
	}
	if len(page.Items) > 0 {
		page.Cursor = page.Items[len(page.Items)-1].ID
	}
	return page, nil
}

func (f *Firestore) Count(ctx context.Context, collection string, filters []Filter) (int64, error) {
	fq := f.buildQuery(collection, filters)
	res, err := fq.NewAggregationQuery().WithCount("total").Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, translateStatus(err))
	}
	v, ok := res["total"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("count %s: unexpected aggregation result %T", collection, res["total"])
	}
	return v.GetIntegerValue(), nil
}

func (f *Firestore) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	if _, err := f.doc(collection, id).Set(ctx, fields); err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, translateStatus(err))
	}
	return nil
}

func (f *Firestore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if _, err := f.doc(collection, id).Update(ctx, toUpdates(fields)); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, translateStatus(err))
	}
	return nil
}

func (f *Firestore) Delete(ctx context.Context, collection, id string) error {
	if _, err := f.doc(collection, id).Delete(ctx); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, translateStatus(err))
	}
	return nil
}

// Increment uses the server-side increment transform for positive deltas.
// Negative deltas need the zero clamp, so they go through a transaction.
func (f *Firestore) Increment(ctx context.Context, collection, id, field string, delta int64) error {
	if delta >= 0 {
		_, err := f.doc(collection, id).Update(ctx, []firestore.Update{
			{FieldPath: firestore.FieldPath{field}, Value: firestore.Increment(delta)},
		})
		if err != nil {
			return fmt.Errorf("increment %s/%s: %w", collection, id, translateStatus(err))
		}
		return nil
	}
	b := f.Batch()
	b.Increment(collection, id, field, delta)
	return b.Commit(ctx)
}

func (f *Firestore) ArrayUnion(ctx context.Context, collection, id, field string, values ...any) error {
	_, err := f.doc(collection, id).Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{field}, Value: firestore.ArrayUnion(values...)},
	})
	if err != nil {
		return fmt.Errorf("array union %s/%s: %w", collection, id, translateStatus(err))
	}
	return nil
}

func (f *Firestore) ArrayRemove(ctx context.Context, collection, id, field string, values ...any) error {
	_, err := f.doc(collection, id).Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{field}, Value: firestore.ArrayRemove(values...)},
	})
	if err != nil {
		return fmt.Errorf("array remove %s/%s: %w", collection, id, translateStatus(err))
	}
	return nil
}

func (f *Firestore) Batch() Batch {
	return &firestoreBatch{fs: f}
}

type firestoreBatch struct {
	opQueue
	fs *Firestore
}

type counterKey struct {
	collection, id, field string
}

// Commit runs the queued operations in one transaction. Create and
// DeleteExisting map to native preconditions. Counters that see a negative
// delta are read first and written as clamped absolute values; the
// transaction retries if they change underneath.
func (b *firestoreBatch) Commit(ctx context.Context) error {
	needsRead := make(map[counterKey]bool)
	for _, op := range b.ops {
		if op.kind == opIncrement && op.delta < 0 {
			needsRead[counterKey{op.collection, op.id, op.field}] = true
		}
	}

	err := b.fs.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// Reads must precede writes inside a transaction.
		values := make(map[counterKey]int64, len(needsRead))
		for k := range needsRead {
			snap, err := tx.Get(b.fs.doc(k.collection, k.id))
			if err != nil {
				return err
			}
			values[k], _ = Int64(snap.Data(), k.field)
		}

		summed := make(map[counterKey]int64)
		for _, op := range b.ops {
			if op.kind != opIncrement {
				continue
			}
			k := counterKey{op.collection, op.id, op.field}
			if needsRead[k] {
				next := values[k] + op.delta
				if next < 0 {
					next = 0
				}
				values[k] = next
			} else {
				summed[k] += op.delta
			}
		}

		written := make(map[counterKey]bool)
		for _, op := range b.ops {
			ref := b.fs.doc(op.collection, op.id)
			var err error
			switch op.kind {
			case opSet:
				err = tx.Set(ref, op.fields)
			case opUpdate:
				err = tx.Update(ref, toUpdates(op.fields))
			case opDelete:
				err = tx.Delete(ref)
			case opCreate:
				err = tx.Create(ref, op.fields)
			case opDeleteExisting:
				err = tx.Delete(ref, firestore.Exists)
			case opIncrement:
				k := counterKey{op.collection, op.id, op.field}
				if written[k] {
					continue
				}
				written[k] = true
				value := any(firestore.Increment(summed[k]))
				if needsRead[k] {
					value = values[k]
				}
				err = tx.Update(ref, []firestore.Update{{FieldPath: firestore.FieldPath{op.field}, Value: value}})
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit batch: %w", translateStatus(err))
	}
	return nil
}

func toUpdates(fields map[string]any) []firestore.Update {
	updates := make([]firestore.Update, 0, len(fields))
	for k, v := range fields {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: v})
	}
	return updates
}

func translateStatus(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	case codes.PermissionDenied, codes.Unauthenticated:
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
