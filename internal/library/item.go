package library

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// mapSQLiteError converts SQLite errors to custom error types.
func mapSQLiteError(err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	// modernc.org/sqlite wraps errors; check error message for constraint violations
	errStr := err.Error()
	if strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "PRIMARY KEY constraint failed") {
		return ErrDuplicate
	}
	if strings.Contains(errStr, "FOREIGN KEY constraint failed") ||
		strings.Contains(errStr, "CHECK constraint failed") {
		return ErrConstraint
	}
	return err
}

// encodeList stores a string slice as a JSON text column.
func encodeList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(list)
	return string(b)
}

func decodeList(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil
	}
	return list
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

const itemColumns = `id, title, synonyms, synopsis, episode_count, episode_length,
	cover_url, airing_status, series_type, age_rating, community_score,
	date_start, date_end, genres, delisted, last_modified, added_at, updated_at,
	in_list, watch_status, score, progress, rewatch_count, rewatching,
	user_updated_at, dirty_since`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	i := &Item{}
	var (
		synonyms, genres string
		lastModified     sql.NullTime
		inList           bool
		watchStatus      string
		score            float64
		progress         int
		rewatchCount     int
		rewatching       bool
		userUpdatedAt    sql.NullTime
		dirtySince       sql.NullTime
	)
	err := row.Scan(&i.ID, &i.Title, &synonyms, &i.Synopsis, &i.EpisodeCount,
		&i.EpisodeLength, &i.CoverURL, &i.AiringStatus, &i.Type, &i.AgeRating,
		&i.CommunityScore, &i.StartDate, &i.EndDate, &genres, &i.Delisted,
		&lastModified, &i.AddedAt, &i.UpdatedAt,
		&inList, &watchStatus, &score, &progress, &rewatchCount, &rewatching,
		&userUpdatedAt, &dirtySince)
	if err != nil {
		return nil, err
	}
	i.Synonyms = decodeList(synonyms)
	i.Genres = decodeList(genres)
	if lastModified.Valid {
		i.LastModified = lastModified.Time
	}
	if inList {
		u := &UserEntry{
			Status:       WatchStatus(watchStatus),
			Score:        score,
			Progress:     progress,
			RewatchCount: rewatchCount,
			Rewatching:   rewatching,
		}
		if userUpdatedAt.Valid {
			u.UpdatedAt = userUpdatedAt.Time
		}
		if dirtySince.Valid {
			t := dirtySince.Time
			u.DirtySince = &t
		}
		i.User = u
	}
	return i, nil
}

// userFields flattens the optional user entry into column values.
func userFields(i *Item) (inList bool, status string, score float64, progress, rewatchCount int, rewatching bool, updatedAt, dirtySince any) {
	if i.User == nil {
		return false, "", 0, 0, 0, false, nil, nil
	}
	u := i.User
	return true, string(u.Status), u.Score, u.Progress, u.RewatchCount, u.Rewatching,
		nullTime(u.UpdatedAt), nullTimePtr(u.DirtySince)
}

func addItem(q querier, i *Item) error {
	now := time.Now()
	inList, status, score, progress, rewatchCount, rewatching, userUpdatedAt, dirtySince := userFields(i)
	result, err := q.Exec(`
		INSERT INTO items (title, synonyms, synopsis, episode_count, episode_length,
			cover_url, airing_status, series_type, age_rating, community_score,
			date_start, date_end, genres, delisted, last_modified, added_at, updated_at,
			in_list, watch_status, score, progress, rewatch_count, rewatching,
			user_updated_at, dirty_since)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.Title, encodeList(i.Synonyms), i.Synopsis, i.EpisodeCount, i.EpisodeLength,
		i.CoverURL, i.AiringStatus, i.Type, i.AgeRating, i.CommunityScore,
		i.StartDate, i.EndDate, encodeList(i.Genres), i.Delisted, nullTime(i.LastModified), now, now,
		inList, status, score, progress, rewatchCount, rewatching,
		userUpdatedAt, dirtySince,
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", mapSQLiteError(err))
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	i.ID = id
	i.AddedAt = now
	i.UpdatedAt = now

	for provider, externalID := range i.ExternalIDs {
		if err := setExternalID(q, i.ID, provider, externalID); err != nil {
			return err
		}
	}
	return nil
}

// AddItem inserts a new library item, including its external IDs.
// Sets ID, AddedAt, and UpdatedAt on the struct.
func (s *Store) AddItem(i *Item) error { return addItem(s.db, i) }

// AddItem inserts a new library item within a transaction.
func (t *Tx) AddItem(i *Item) error { return addItem(t.tx, i) }

func getItem(q querier, id int64) (*Item, error) {
	i, err := scanItem(q.QueryRow("SELECT "+itemColumns+" FROM items WHERE id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("get item %d: %w", id, mapSQLiteError(err))
	}
	if err := loadExternalIDs(q, i); err != nil {
		return nil, err
	}
	return i, nil
}

// GetItem retrieves a library item by internal ID.
// Returns ErrNotFound if the item does not exist.
func (s *Store) GetItem(id int64) (*Item, error) { return getItem(s.db, id) }

// GetItem retrieves a library item by internal ID within a transaction.
func (t *Tx) GetItem(id int64) (*Item, error) { return getItem(t.tx, id) }

func getByExternalID(q querier, provider ProviderID, externalID string) (*Item, error) {
	var itemID int64
	err := q.QueryRow(
		"SELECT item_id FROM external_ids WHERE provider = ? AND external_id = ?",
		provider, externalID,
	).Scan(&itemID)
	if err != nil {
		return nil, fmt.Errorf("lookup %s id %q: %w", provider, externalID, mapSQLiteError(err))
	}
	return getItem(q, itemID)
}

// GetByExternalID retrieves the item carrying the given provider ID.
// Returns ErrNotFound if no item has that ID.
func (s *Store) GetByExternalID(provider ProviderID, externalID string) (*Item, error) {
	return getByExternalID(s.db, provider, externalID)
}

// GetByExternalID retrieves an item by provider ID within a transaction.
func (t *Tx) GetByExternalID(provider ProviderID, externalID string) (*Item, error) {
	return getByExternalID(t.tx, provider, externalID)
}

func loadExternalIDs(q querier, i *Item) error {
	rows, err := q.Query("SELECT provider, external_id FROM external_ids WHERE item_id = ?", i.ID)
	if err != nil {
		return fmt.Errorf("load external ids for %d: %w", i.ID, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var provider, externalID string
		if err := rows.Scan(&provider, &externalID); err != nil {
			return fmt.Errorf("scan external id: %w", err)
		}
		i.SetExternalID(ProviderID(provider), externalID)
	}
	return rows.Err()
}

func setExternalID(q querier, itemID int64, provider ProviderID, externalID string) error {
	_, err := q.Exec(`
		INSERT INTO external_ids (item_id, provider, external_id) VALUES (?, ?, ?)
		ON CONFLICT (item_id, provider) DO UPDATE SET external_id = excluded.external_id`,
		itemID, provider, externalID,
	)
	if err != nil {
		return fmt.Errorf("set %s id for item %d: %w", provider, itemID, mapSQLiteError(err))
	}
	return nil
}

// SetExternalID records or replaces the item's ID on a provider.
// Returns ErrDuplicate if another item already claims that provider ID.
func (s *Store) SetExternalID(itemID int64, provider ProviderID, externalID string) error {
	return setExternalID(s.db, itemID, provider, externalID)
}

// SetExternalID records a provider ID within a transaction.
func (t *Tx) SetExternalID(itemID int64, provider ProviderID, externalID string) error {
	return setExternalID(t.tx, itemID, provider, externalID)
}

func listItems(q querier, f Filter) ([]*Item, int, error) {
	var conditions []string
	var args []any

	if f.InList != nil {
		conditions = append(conditions, "in_list = ?")
		args = append(args, *f.InList)
	}
	if f.WatchStatus != nil {
		conditions = append(conditions, "watch_status = ?")
		args = append(args, *f.WatchStatus)
	}
	if f.Delisted != nil {
		conditions = append(conditions, "delisted = ?")
		args = append(args, *f.Delisted)
	}
	if f.Title != nil {
		conditions = append(conditions, "title = ?")
		args = append(args, *f.Title)
	}
	if f.Provider != nil {
		conditions = append(conditions, "id IN (SELECT item_id FROM external_ids WHERE provider = ?)")
		args = append(args, *f.Provider)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := q.QueryRow("SELECT COUNT(*) FROM items "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}

	query := "SELECT " + itemColumns + " FROM items " + whereClause + " ORDER BY id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*Item
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan item: %w", err)
		}
		results = append(results, i)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate items: %w", err)
	}

	for _, i := range results {
		if err := loadExternalIDs(q, i); err != nil {
			return nil, 0, err
		}
	}

	return results, total, nil
}

// ListItems returns items matching the filter with pagination.
// Returns (results, totalCount, error).
func (s *Store) ListItems(f Filter) ([]*Item, int, error) { return listItems(s.db, f) }

// ListItems returns items matching the filter within a transaction.
func (t *Tx) ListItems(f Filter) ([]*Item, int, error) { return listItems(t.tx, f) }

func updateItem(q querier, i *Item) error {
	now := time.Now()
	inList, status, score, progress, rewatchCount, rewatching, userUpdatedAt, dirtySince := userFields(i)
	result, err := q.Exec(`
		UPDATE items SET title = ?, synonyms = ?, synopsis = ?, episode_count = ?,
			episode_length = ?, cover_url = ?, airing_status = ?, series_type = ?,
			age_rating = ?, community_score = ?, date_start = ?, date_end = ?,
			genres = ?, delisted = ?, last_modified = ?, updated_at = ?,
			in_list = ?, watch_status = ?, score = ?, progress = ?,
			rewatch_count = ?, rewatching = ?, user_updated_at = ?, dirty_since = ?
		WHERE id = ?`,
		i.Title, encodeList(i.Synonyms), i.Synopsis, i.EpisodeCount,
		i.EpisodeLength, i.CoverURL, i.AiringStatus, i.Type,
		i.AgeRating, i.CommunityScore, i.StartDate, i.EndDate,
		encodeList(i.Genres), i.Delisted, nullTime(i.LastModified), now,
		inList, status, score, progress,
		rewatchCount, rewatching, userUpdatedAt, dirtySince,
		i.ID,
	)
	if err != nil {
		return fmt.Errorf("update item %d: %w", i.ID, mapSQLiteError(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update item %d: %w", i.ID, ErrNotFound)
	}
	i.UpdatedAt = now

	for provider, externalID := range i.ExternalIDs {
		if err := setExternalID(q, i.ID, provider, externalID); err != nil {
			return err
		}
	}
	return nil
}

// UpdateItem updates an existing item and its external IDs.
// Sets UpdatedAt on the struct.
// Returns ErrNotFound if the item does not exist.
func (s *Store) UpdateItem(i *Item) error { return updateItem(s.db, i) }

// UpdateItem updates an existing item within a transaction.
func (t *Tx) UpdateItem(i *Item) error { return updateItem(t.tx, i) }

func markDelisted(q querier, provider ProviderID, externalID string) error {
	result, err := q.Exec(`
		UPDATE items SET delisted = 1, updated_at = ?
		WHERE id = (SELECT item_id FROM external_ids WHERE provider = ? AND external_id = ?)`,
		time.Now(), provider, externalID,
	)
	if err != nil {
		return fmt.Errorf("mark delisted %s/%s: %w", provider, externalID, mapSQLiteError(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("mark delisted %s/%s: %w", provider, externalID, ErrNotFound)
	}
	return nil
}

// MarkDelisted flags the item tracked under the given provider ID as no
// longer available upstream. The item itself is kept.
func (s *Store) MarkDelisted(provider ProviderID, externalID string) error {
	return markDelisted(s.db, provider, externalID)
}

// MarkDelisted flags an item as delisted within a transaction.
func (t *Tx) MarkDelisted(provider ProviderID, externalID string) error {
	return markDelisted(t.tx, provider, externalID)
}

func deleteItem(q querier, id int64) error {
	_, err := q.Exec("DELETE FROM items WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete item %d: %w", id, mapSQLiteError(err))
	}
	return nil
}

// DeleteItem removes an item by internal ID. External IDs cascade.
// This operation is idempotent - no error is returned if the item does not exist.
func (s *Store) DeleteItem(id int64) error { return deleteItem(s.db, id) }

// DeleteItem removes an item by internal ID within a transaction.
func (t *Tx) DeleteItem(id int64) error { return deleteItem(t.tx, id) }
