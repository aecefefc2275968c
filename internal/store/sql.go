package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/joescharf/qagate/internal/models"
)

// dialect carries the differences between the SQL backends. Queries are
// written with ? placeholders and rebound per dialect.
type dialect struct {
	name            string
	migrationsDir   string
	migrationsTable string
	claimLock       string
	rebind          func(string) string
	timeArg         func(time.Time) any
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqlStore is the database/sql implementation shared by SQLite and Postgres.
type sqlStore struct {
	db  *sql.DB
	d   dialect
	now func() time.Time
}

func (s *sqlStore) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.d.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.d.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.d.rebind(query), args...)
}

func (s *sqlStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *sqlStore) ts(t time.Time) any { return s.d.timeArg(t.UTC()) }

func (s *sqlStore) tsPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return s.ts(*t)
}

// Migrate runs the dialect's embedded SQL migration files in order, each in
// its own transaction.
func (s *sqlStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.d.migrationsTable); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, s.d.migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		name := entry.Name()

		var count int
		if err := s.queryRow(ctx, s.db, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := fs.ReadFile(migrationsFS, s.d.migrationsDir+"/"+name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		err = s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(data)); err != nil {
				return fmt.Errorf("apply migration %s: %w", name, err)
			}
			if _, err := s.exec(ctx, tx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
				return fmt.Errorf("record migration %s: %w", name, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// --- Subjects ---

const subjectColumns = `content_id, case_name, summary_text, impact_level, label, grounding, facts, enriched_at,
	qa_verdict, qa_layer_b_verdict, qa_issues, qa_severity_score, qa_input_hash, qa_prompt_version, qa_model, qa_ran_at,
	publish_state, created_at, updated_at`

func scanSubject(r rowScanner) (*models.Subject, error) {
	s := &models.Subject{}
	var enriched, ranAt, created, updated nullTime
	var layerB sql.NullString
	err := r.Scan(&s.ContentID, &s.CaseName, &s.SummaryText, &s.ImpactLevel, &s.Label,
		jsonCol{&s.Grounding}, jsonCol{&s.Facts}, &enriched,
		&s.QA.Verdict, &layerB, jsonCol{&s.QA.Issues}, &s.QA.SeverityScore, &s.QA.InputHash,
		&s.QA.PromptVersion, &s.QA.Model, &ranAt,
		&s.QA.PublishState, &created, &updated)
	if err != nil {
		return nil, err
	}
	s.EnrichedAt = enriched.ptr()
	s.QA.RanAt = ranAt.ptr()
	s.QA.LayerBVerdict = verdictPtr(layerB)
	s.CreatedAt = created.Time
	s.UpdatedAt = updated.Time
	return s, nil
}

// UpsertSubject inserts a subject or replaces its generated content. The QA
// projection of an existing subject is left untouched.
func (s *sqlStore) UpsertSubject(ctx context.Context, subj *models.Subject) error {
	if subj.ContentID == "" {
		return fmt.Errorf("upsert subject: content_id is required")
	}
	if strings.TrimSpace(subj.SummaryText) == "" {
		return fmt.Errorf("upsert subject %s: summary_text is required", subj.ContentID)
	}
	grounding, err := marshalJSON(subj.Grounding)
	if err != nil {
		return fmt.Errorf("upsert subject: %w", err)
	}
	facts, err := marshalJSON(subj.Facts)
	if err != nil {
		return fmt.Errorf("upsert subject: %w", err)
	}

	now := s.now().UTC()
	_, err = s.exec(ctx, s.db,
		`INSERT INTO subjects (content_id, case_name, summary_text, impact_level, label, grounding, facts, enriched_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (content_id) DO UPDATE SET
			case_name = excluded.case_name,
			summary_text = excluded.summary_text,
			impact_level = excluded.impact_level,
			label = excluded.label,
			grounding = excluded.grounding,
			facts = excluded.facts,
			enriched_at = excluded.enriched_at,
			updated_at = excluded.updated_at`,
		subj.ContentID, subj.CaseName, subj.SummaryText, subj.ImpactLevel, subj.Label,
		grounding, facts, s.tsPtr(subj.EnrichedAt), s.ts(now), s.ts(now),
	)
	if err != nil {
		return fmt.Errorf("upsert subject: %w", err)
	}
	if subj.CreatedAt.IsZero() {
		subj.CreatedAt = now
	}
	subj.UpdatedAt = now
	return nil
}

func (s *sqlStore) GetSubject(ctx context.Context, contentID string) (*models.Subject, error) {
	subj, err := scanSubject(s.queryRow(ctx, s.db,
		`SELECT `+subjectColumns+` FROM subjects WHERE content_id = ?`, contentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subject %s: %w", contentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get subject: %w", err)
	}
	return subj, nil
}

func (s *sqlStore) ListSubjects(ctx context.Context, f SubjectFilter) ([]*models.Subject, error) {
	q := `SELECT ` + subjectColumns + ` FROM subjects WHERE 1=1`
	var args []any

	if len(f.ContentIDs) > 0 {
		q += " AND content_id IN (" + placeholders(len(f.ContentIDs)) + ")"
		for _, id := range f.ContentIDs {
			args = append(args, id)
		}
	}
	if len(f.Verdicts) > 0 {
		q += " AND qa_verdict IN (" + placeholders(len(f.Verdicts)) + ")"
		for _, v := range f.Verdicts {
			args = append(args, string(v))
		}
	}
	if f.Since != nil {
		q += " AND COALESCE(enriched_at, updated_at) >= ?"
		args = append(args, s.ts(*f.Since))
	}
	if f.NeedsQA {
		q += " AND (qa_ran_at IS NULL OR updated_at > qa_ran_at)"
	}
	q += " ORDER BY COALESCE(enriched_at, updated_at) DESC, content_id"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.query(ctx, s.db, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Subject
	for rows.Next() {
		subj, err := scanSubject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		out = append(out, subj)
	}
	return out, rows.Err()
}

// --- Batches ---

const batchColumns = `id, filter_criteria, total_items, status, initiated_by, created_at, started_at, completed_at`

func scanBatch(r rowScanner) (*models.Batch, error) {
	b := &models.Batch{}
	var created, started, completed nullTime
	err := r.Scan(&b.ID, jsonCol{&b.FilterCriteria}, &b.TotalItems, &b.Status, &b.InitiatedBy,
		&created, &started, &completed)
	if err != nil {
		return nil, err
	}
	b.CreatedAt = created.Time
	b.StartedAt = started.ptr()
	b.CompletedAt = completed.ptr()
	return b, nil
}

// CreateBatch writes the batch and one pending item per content ID in a
// single transaction.
func (s *sqlStore) CreateBatch(ctx context.Context, b *models.Batch, contentIDs []string) error {
	if len(contentIDs) == 0 {
		return fmt.Errorf("create batch: no items")
	}
	if b.ID == "" {
		b.ID = newULID()
	}
	now := s.now().UTC()
	b.CreatedAt = now
	b.Status = models.BatchStatusPending
	b.TotalItems = len(contentIDs)

	filter, err := marshalJSON(b.FilterCriteria)
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := s.exec(ctx, tx,
			`INSERT INTO batches (id, filter_criteria, total_items, status, initiated_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			b.ID, filter, b.TotalItems, string(b.Status), b.InitiatedBy, s.ts(now))
		if err != nil {
			return fmt.Errorf("create batch: %w", err)
		}
		for i, id := range contentIDs {
			// Stagger creation times so claim order follows filter order.
			created := now.Add(time.Duration(i) * time.Microsecond)
			_, err := s.exec(ctx, tx,
				`INSERT INTO batch_items (id, batch_id, content_id, status, created_at) VALUES (?, ?, ?, ?, ?)`,
				newULID(), b.ID, id, string(models.ItemStatusPending), s.ts(created))
			if err != nil {
				return fmt.Errorf("create batch item %s: %w", id, err)
			}
		}
		return nil
	})
}

func (s *sqlStore) GetBatch(ctx context.Context, id string) (*models.Batch, error) {
	b, err := scanBatch(s.queryRow(ctx, s.db, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

func (s *sqlStore) ListBatches(ctx context.Context, limit int) ([]*models.Batch, error) {
	q := `SELECT ` + batchColumns + ` FROM batches ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.query(ctx, s.db, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CancelBatch skips every pending item of a running batch and returns how
// many were skipped. In-flight items are left to finish.
func (s *sqlStore) CancelBatch(ctx context.Context, id string) (int64, error) {
	now := s.now().UTC()
	var skipped int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx,
			`UPDATE batches SET cancel_requested = TRUE WHERE id = ? AND status IN ('pending', 'processing')`, id)
		if err != nil {
			return fmt.Errorf("cancel batch: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var count int
			if err := s.queryRow(ctx, tx, `SELECT COUNT(*) FROM batches WHERE id = ?`, id).Scan(&count); err != nil {
				return fmt.Errorf("cancel batch: %w", err)
			}
			if count == 0 {
				return fmt.Errorf("batch %s: %w", id, ErrNotFound)
			}
			return fmt.Errorf("batch %s already finished: %w", id, ErrConflict)
		}

		res, err = s.exec(ctx, tx,
			`UPDATE batch_items SET status = ?, skip_reason = ?, completed_at = ? WHERE batch_id = ? AND status = ?`,
			string(models.ItemStatusSkipped), models.SkipReasonCancelled, s.ts(now), id, string(models.ItemStatusPending))
		if err != nil {
			return fmt.Errorf("skip pending items: %w", err)
		}
		skipped, _ = res.RowsAffected()

		_, err = s.finalizeBatches(ctx, tx, now)
		return err
	})
	return skipped, err
}

// FinalizeBatches closes every open batch that has no pending or
// processing items left.
func (s *sqlStore) FinalizeBatches(ctx context.Context) (int64, error) {
	return s.finalizeBatches(ctx, s.db, s.now().UTC())
}

func (s *sqlStore) finalizeBatches(ctx context.Context, q querier, now time.Time) (int64, error) {
	res, err := s.exec(ctx, q,
		`UPDATE batches
		SET status = CASE WHEN cancel_requested THEN 'cancelled' ELSE 'completed' END, completed_at = ?
		WHERE status IN ('pending', 'processing')
		AND NOT EXISTS (
			SELECT 1 FROM batch_items i
			WHERE i.batch_id = batches.id AND i.status IN ('pending', 'processing')
		)`, s.ts(now))
	if err != nil {
		return 0, fmt.Errorf("finalize batches: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SpentSince sums item cost for batches started by initiatedBy since the
// given time.
func (s *sqlStore) SpentSince(ctx context.Context, initiatedBy string, since time.Time) (float64, error) {
	var total float64
	err := s.queryRow(ctx, s.db,
		`SELECT COALESCE(SUM(i.cost_usd), 0) FROM batch_items i
		JOIN batches b ON b.id = i.batch_id
		WHERE b.initiated_by = ? AND i.created_at >= ?`, initiatedBy, s.ts(since)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("spent since: %w", err)
	}
	return total, nil
}

// --- Batch items ---

const itemColumns = `id, batch_id, content_id, status, input_hash, qa_verdict, layer_a_verdict, layer_b_verdict,
	qa_issues, severity_score, attempts, cost_usd, latency_ms, prompt_version, model, error_message, skip_reason,
	claimed_by, claimed_at, created_at, completed_at`

func scanItem(r rowScanner) (*models.BatchItem, error) {
	it := &models.BatchItem{}
	var layerB sql.NullString
	var claimed, created, completed nullTime
	err := r.Scan(&it.ID, &it.BatchID, &it.ContentID, &it.Status, &it.InputHash, &it.QAVerdict,
		&it.LayerAVerdict, &layerB, jsonCol{&it.QAIssues}, &it.SeverityScore, &it.Attempts, &it.CostUSD,
		&it.LatencyMS, &it.PromptVersion, &it.Model, &it.ErrorMessage, &it.SkipReason,
		&it.ClaimedBy, &claimed, &created, &completed)
	if err != nil {
		return nil, err
	}
	it.LayerBVerdict = verdictPtr(layerB)
	it.ClaimedAt = claimed.ptr()
	it.CreatedAt = created.Time
	it.CompletedAt = completed.ptr()
	return it, nil
}

func scanItems(rows *sql.Rows) ([]*models.BatchItem, error) {
	defer func() { _ = rows.Close() }()
	var out []*models.BatchItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *sqlStore) ListBatchItems(ctx context.Context, batchID string) ([]*models.BatchItem, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT `+itemColumns+` FROM batch_items WHERE batch_id = ? ORDER BY created_at, id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list batch items: %w", err)
	}
	return scanItems(rows)
}

func (s *sqlStore) GetBatchItem(ctx context.Context, id string) (*models.BatchItem, error) {
	it, err := scanItem(s.queryRow(ctx, s.db, `SELECT `+itemColumns+` FROM batch_items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch item: %w", err)
	}
	return it, nil
}

// ClaimPendingItems atomically moves up to limit items to processing under
// workerID. Items left in processing longer than reclaimAfter are claimable
// again; reclaimAfter <= 0 disables reclaiming.
func (s *sqlStore) ClaimPendingItems(ctx context.Context, workerID string, limit int, reclaimAfter time.Duration) ([]*models.BatchItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := s.now().UTC()

	where := "status = 'pending'"
	args := []any{workerID, s.ts(now)}
	if reclaimAfter > 0 {
		where = "(status = 'pending' OR (status = 'processing' AND claimed_at < ?))"
		args = append(args, s.ts(now.Add(-reclaimAfter)))
	}
	args = append(args, limit)

	var items []*models.BatchItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := s.query(ctx, tx,
			`UPDATE batch_items SET status = 'processing', claimed_by = ?, claimed_at = ?
			WHERE id IN (
				SELECT id FROM batch_items WHERE `+where+`
				ORDER BY created_at, id LIMIT ?`+s.d.claimLock+`
			)
			RETURNING `+itemColumns, args...)
		if err != nil {
			return fmt.Errorf("claim items: %w", err)
		}
		items, err = scanItems(rows)
		if err != nil {
			return err
		}

		started := map[string]bool{}
		for _, it := range items {
			if started[it.BatchID] {
				continue
			}
			started[it.BatchID] = true
			_, err := s.exec(ctx, tx,
				`UPDATE batches SET status = 'processing', started_at = ? WHERE id = ? AND status = 'pending'`,
				s.ts(now), it.BatchID)
			if err != nil {
				return fmt.Errorf("start batch %s: %w", it.BatchID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// RecordItemResult finishes a claimed item. In the same transaction it
// projects the QA result onto the subject and appends revisions.
func (s *sqlStore) RecordItemResult(ctx context.Context, item *models.BatchItem, update *SubjectUpdate, revisions []*models.Revision) error {
	if !item.Status.Terminal() {
		return fmt.Errorf("record item %s: status %q is not terminal", item.ID, item.Status)
	}
	now := s.now().UTC()
	if item.CompletedAt == nil {
		item.CompletedAt = &now
	}
	issues, err := marshalJSON(nonNilIssues(item.QAIssues))
	if err != nil {
		return fmt.Errorf("record item: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx,
			`UPDATE batch_items SET status = ?, input_hash = ?, qa_verdict = ?, layer_a_verdict = ?, layer_b_verdict = ?,
				qa_issues = ?, severity_score = ?, attempts = ?, cost_usd = ?, latency_ms = ?, prompt_version = ?,
				model = ?, error_message = ?, skip_reason = ?, completed_at = ?
			WHERE id = ? AND status = 'processing' AND claimed_by = ?`,
			string(item.Status), item.InputHash, string(item.QAVerdict), string(item.LayerAVerdict),
			verdictArg(item.LayerBVerdict), issues, item.SeverityScore, item.Attempts, item.CostUSD,
			item.LatencyMS, item.PromptVersion, item.Model, item.ErrorMessage, item.SkipReason,
			s.tsPtr(item.CompletedAt), item.ID, item.ClaimedBy)
		if err != nil {
			return fmt.Errorf("record item: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("item %s for %s: %w", item.ID, item.ClaimedBy, ErrClaimLost)
		}

		if update != nil {
			if err := s.updateSubjectQA(ctx, tx, update); err != nil {
				return err
			}
		}
		for _, rev := range revisions {
			if err := s.insertRevision(ctx, tx, rev); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqlStore) updateSubjectQA(ctx context.Context, q querier, u *SubjectUpdate) error {
	issues, err := marshalJSON(nonNilIssues(u.QA.Issues))
	if err != nil {
		return fmt.Errorf("update subject qa: %w", err)
	}
	var summary any
	if u.SummaryText != nil {
		summary = *u.SummaryText
	}
	res, err := s.exec(ctx, q,
		`UPDATE subjects SET summary_text = COALESCE(?, summary_text), qa_verdict = ?, qa_layer_b_verdict = ?,
			qa_issues = ?, qa_severity_score = ?, qa_input_hash = ?, qa_prompt_version = ?, qa_model = ?,
			qa_ran_at = ?, publish_state = ?
		WHERE content_id = ?`,
		summary, string(u.QA.Verdict), verdictArg(u.QA.LayerBVerdict), issues, u.QA.SeverityScore,
		u.QA.InputHash, u.QA.PromptVersion, u.QA.Model, s.tsPtr(u.QA.RanAt), string(u.QA.PublishState),
		u.ContentID)
	if err != nil {
		return fmt.Errorf("update subject qa: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subject %s: %w", u.ContentID, ErrNotFound)
	}
	return nil
}

// --- Overrides and revisions ---

// ApplyOverride replaces the subject's verdict only if it still equals
// o.OriginalVerdict, then records the override and its revision.
func (s *sqlStore) ApplyOverride(ctx context.Context, o *models.Override, qa models.QAState, rev *models.Revision) error {
	if o.ID == "" {
		o.ID = newULID()
	}
	o.CreatedAt = s.now().UTC()
	dismissed, err := marshalJSON(nonNilStrings(o.DismissedIssues))
	if err != nil {
		return fmt.Errorf("apply override: %w", err)
	}
	issues, err := marshalJSON(nonNilIssues(qa.Issues))
	if err != nil {
		return fmt.Errorf("apply override: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx,
			`UPDATE subjects SET qa_verdict = ?, qa_issues = ?, qa_severity_score = ?, publish_state = ?
			WHERE content_id = ? AND qa_verdict = ?`,
			string(o.OverrideVerdict), issues, qa.SeverityScore, string(qa.PublishState),
			o.ContentID, string(o.OriginalVerdict))
		if err != nil {
			return fmt.Errorf("apply override: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var count int
			if err := s.queryRow(ctx, tx, `SELECT COUNT(*) FROM subjects WHERE content_id = ?`, o.ContentID).Scan(&count); err != nil {
				return fmt.Errorf("apply override: %w", err)
			}
			if count == 0 {
				return fmt.Errorf("subject %s: %w", o.ContentID, ErrNotFound)
			}
			return fmt.Errorf("subject %s verdict is no longer %s: %w", o.ContentID, o.OriginalVerdict, ErrConflict)
		}

		_, err = s.exec(ctx, tx,
			`INSERT INTO overrides (id, content_id, original_verdict, override_verdict, override_reason, dismissed_issues, add_to_gold_set, actor, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID, o.ContentID, string(o.OriginalVerdict), string(o.OverrideVerdict), o.OverrideReason,
			dismissed, o.AddToGoldSet, o.Actor, s.ts(o.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert override: %w", err)
		}

		if rev != nil {
			if rev.TriggerID == "" {
				rev.TriggerID = o.ID
			}
			return s.insertRevision(ctx, tx, rev)
		}
		return nil
	})
}

func (s *sqlStore) ListOverrides(ctx context.Context, contentID string) ([]*models.Override, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT id, content_id, original_verdict, override_verdict, override_reason, dismissed_issues, add_to_gold_set, actor, created_at
		FROM overrides WHERE content_id = ? ORDER BY created_at DESC, id DESC`, contentID)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Override
	for rows.Next() {
		o := &models.Override{}
		var created nullTime
		if err := rows.Scan(&o.ID, &o.ContentID, &o.OriginalVerdict, &o.OverrideVerdict, &o.OverrideReason,
			jsonCol{&o.DismissedIssues}, &o.AddToGoldSet, &o.Actor, &created); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		o.CreatedAt = created.Time
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *sqlStore) insertRevision(ctx context.Context, q querier, rev *models.Revision) error {
	if rev.ID == "" {
		rev.ID = newULID()
	}
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = s.now().UTC()
	}
	fields, err := marshalJSON(nonNilStrings(rev.ChangedFields))
	if err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}
	snapshot := "{}"
	if rev.Snapshot != nil {
		if snapshot, err = marshalJSON(rev.Snapshot); err != nil {
			return fmt.Errorf("insert revision: %w", err)
		}
	}
	_, err = s.exec(ctx, q,
		`INSERT INTO revisions (id, content_id, trigger_source, trigger_id, changed_fields, actor_type, actor_id, change_summary, snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rev.ID, rev.ContentID, string(rev.TriggerSource), rev.TriggerID, fields, string(rev.ActorType),
		rev.ActorID, rev.ChangeSummary, snapshot, s.ts(rev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}
	return nil
}

// ListRevisions returns a subject's revisions, newest first.
func (s *sqlStore) ListRevisions(ctx context.Context, contentID string, limit int) ([]*models.Revision, error) {
	q := `SELECT id, content_id, trigger_source, trigger_id, changed_fields, actor_type, actor_id, change_summary, snapshot, created_at
		FROM revisions WHERE content_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{contentID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.query(ctx, s.db, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Revision
	for rows.Next() {
		r := &models.Revision{}
		var created nullTime
		if err := rows.Scan(&r.ID, &r.ContentID, &r.TriggerSource, &r.TriggerID, jsonCol{&r.ChangedFields},
			&r.ActorType, &r.ActorID, &r.ChangeSummary, jsonCol{&r.Snapshot}, &created); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		r.CreatedAt = created.Time
		out = append(out, r)
	}
	return out, rows.Err()
}
