package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"
)

// SpannerSink appends audit records to a Cloud Spanner table for
// deployments that keep their compliance trail there. Table:
//
//	CREATE TABLE AuditRecords (
//	    Id        STRING(36) NOT NULL,
//	    Kind      STRING(32) NOT NULL,
//	    RequestId STRING(36),
//	    Payload   JSON NOT NULL,
//	    CreatedAt TIMESTAMP NOT NULL OPTIONS (allow_commit_timestamp=true),
//	) PRIMARY KEY (Id);
type SpannerSink struct {
	client *spanner.Client
	logger *log.Logger
}

// NewSpannerSink connects to the given database path
// (projects/P/instances/I/databases/D).
func NewSpannerSink(ctx context.Context, dbPath string) (*SpannerSink, error) {
	client, err := spanner.NewClient(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create Spanner client: %w", err)
	}
	return &SpannerSink{
		client: client,
		logger: log.New(log.Writer(), "[SpannerSink] ", log.LstdFlags),
	}, nil
}

// Append inserts one record. Insert (not InsertOrUpdate) keeps the table
// append-only: a duplicate id is an error, never an overwrite.
func (ss *SpannerSink) Append(ctx context.Context, rec *Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	_, err = ss.client.Apply(ctx, []*spanner.Mutation{
		spanner.Insert("AuditRecords",
			[]string{"Id", "Kind", "RequestId", "Payload", "CreatedAt"},
			[]interface{}{rec.ID, rec.Kind, rec.RequestID, string(payload), spanner.CommitTimestamp}),
	})
	if err != nil {
		return fmt.Errorf("spanner insert: %w", err)
	}
	return nil
}

// ByRequest returns all records for a request in append order.
func (ss *SpannerSink) ByRequest(ctx context.Context, requestID string) ([]*Record, error) {
	stmt := spanner.Statement{
		SQL:    `SELECT Payload FROM AuditRecords WHERE RequestId = @req ORDER BY CreatedAt ASC`,
		Params: map[string]interface{}{"req": requestID},
	}

	iter := ss.client.Single().Query(ctx, stmt)
	defer iter.Stop()

	var out []*Record
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("spanner query: %w", err)
		}
		var payload string
		if err := row.Columns(&payload); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal audit record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, nil
}

// Close shuts down the Spanner client.
func (ss *SpannerSink) Close() {
	ss.client.Close()
}

var _ Sink = (*SpannerSink)(nil)
