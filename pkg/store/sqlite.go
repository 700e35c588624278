package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/cadenabitcoin/dlcoracle/pkg/event"
)

const latestSchemaVersion = 2

// SQLite is the durable Store. A single *sql.DB is shared; writes are
// serialized behind a mutex since SQLite allows one writer at a time.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex // held for all writes
}

// OpenSQLite opens (creating if needed) the database at path and runs
// any pending schema migrations.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := "file:" + url.PathEscape(path) +
		"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// SchemaVersion reports the current on-disk version.
func (s *SQLite) SchemaVersion() (int, error) { return s.version() }

func (s *SQLite) version() (int, error) {
	var exists int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'VERSION'",
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}
	var v int
	if err := s.db.QueryRow("SELECT Version FROM VERSION").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func (s *SQLite) migrate() error {
	from, err := s.version()
	if err != nil {
		return err
	}
	if from > latestSchemaVersion {
		return fmt.Errorf("%w: version %d, supported %d", ErrDowngrade, from, latestSchemaVersion)
	}
	if from == latestSchemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer tx.Rollback()

	if from < 1 {
		if err := migrate0to1(tx); err != nil {
			return fmt.Errorf("migrate 0 to 1: %w", err)
		}
	}
	if from < 2 {
		if err := migrate1to2(tx); err != nil {
			return fmt.Errorf("migrate 1 to 2: %w", err)
		}
	}
	if _, err := tx.Exec("UPDATE VERSION SET Version = ?", latestSchemaVersion); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return tx.Commit()
}

func migrate0to1(tx *sql.Tx) error {
	stmts := []string{
		"CREATE TABLE VERSION (Version INTEGER)",
		"INSERT INTO VERSION (Version) VALUES (1)",
		`CREATE TABLE EVENTCLASS (
			Id VARCHAR(100) PRIMARY KEY,
			CreateTime INTEGER,
			Definition VARCHAR(100),
			RangeDigits INTEGER,
			RangeDigitsLowPos INTEGER,
			StringTemplate VARCHAR(100),
			RepeatFirstTime INTEGER,
			RepeatPeriod INTEGER,
			RepeatOffset INTEGER,
			RepeatLastTime INTEGER,
			SignerPublicKey VARCHAR(100)
		)`,
		"CREATE INDEX EcId ON EVENTCLASS (Id)",
		"CREATE INDEX EcDefinition ON EVENTCLASS (Definition)",
		`CREATE TABLE PUBKEY (
			Id INTEGER PRIMARY KEY AUTOINCREMENT,
			Pubkey VARCHAR(100)
		)`,
		"CREATE INDEX PubkeyId ON PUBKEY (Id)",
		"CREATE INDEX PubkeyPubkey ON PUBKEY (Pubkey)",
		`CREATE TABLE EVENT (
			EventId VARCHAR(100) PRIMARY KEY,
			ClassId VARCHAR(100),
			Definition VARCHAR(100),
			Time INTEGER,
			StringTemplate VARCHAR(100),
			PublicKeyId INTEGER,
			FOREIGN KEY (ClassId) REFERENCES EVENTCLASS(Id)
			FOREIGN KEY (PublicKeyId) REFERENCES PUBKEY(Id)
		)`,
		"CREATE INDEX EvEventId ON EVENT (EventId)",
		"CREATE INDEX EvClassId ON EVENT (ClassId)",
		"CREATE INDEX EvDefinition ON EVENT (Definition)",
		"CREATE INDEX EvTime ON EVENT (Time)",
		`CREATE TABLE NONCE (
			EventId VARCHAR(100),
			DigitIndex INTEGER,
			NoncePub VARCHAR(100),
			NonceSec VARCHAR(100)
		)`,
		"CREATE INDEX NonceEventId ON NONCE (EventId)",
		"CREATE UNIQUE INDEX NonceEventDigit ON NONCE (EventId, DigitIndex)",
		`CREATE TABLE DIGITOUTCOME (
			EventId VARCHAR(100),
			Idx INTEGER,
			Value INTEGER,
			Nonce VARCHAR(100),
			Signature VARCHAR(100),
			MsgStr VARCHAR(100)
		)`,
		"CREATE INDEX DOEventId ON DIGITOUTCOME (EventId)",
		`CREATE TABLE OUTCOME (
			EventId VARCHAR(100),
			Value INTEGER,
			CreatedTime INTEGER
		)`,
		"CREATE INDEX OutcEventId ON OUTCOME (EventId)",
	}
	for _, q := range stmts {
		if _, err := tx.Exec(q); err != nil {
			return fmt.Errorf("%q: %w", q, err)
		}
	}
	return nil
}

func migrate1to2(tx *sql.Tx) error {
	stmts := []string{
		"ALTER TABLE OUTCOME ADD COLUMN SourceDesc VARCHAR(200) DEFAULT ''",
		`CREATE TABLE PENDINGSIGN (
			EventId VARCHAR(100),
			Idx INTEGER,
			Value INTEGER,
			MsgStr VARCHAR(100),
			OutcomeValue VARCHAR(100),
			CreatedTime INTEGER,
			SourceDesc VARCHAR(200)
		)`,
		"CREATE INDEX PendingEventId ON PENDINGSIGN (EventId)",
	}
	for _, q := range stmts {
		if _, err := tx.Exec(q); err != nil {
			return fmt.Errorf("%q: %w", q, err)
		}
	}
	return nil
}

// ==================== Classes ====================

const classColumns = `Id, CreateTime, Definition, RangeDigits, RangeDigitsLowPos, StringTemplate,
	RepeatFirstTime, RepeatPeriod, RepeatOffset, RepeatLastTime, SignerPublicKey`

func scanClass(row interface{ Scan(...any) error }) (event.Class, error) {
	var c event.Class
	err := row.Scan(
		&c.ID, &c.CreateTime, &c.Definition, &c.RangeDigits, &c.RangeLowPos, &c.StringTemplate,
		&c.FirstEventTime, &c.PeriodSec, &c.OffsetSec, &c.LastEventTime, &c.SignerPublicKey,
	)
	return c, err
}

func (s *SQLite) InsertClassIfMissing(c event.Class) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT INTO EVENTCLASS (`+classColumns+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM EVENTCLASS WHERE Id = ?)`,
		c.ID, c.CreateTime, c.Definition, c.RangeDigits, c.RangeLowPos, c.StringTemplate,
		c.FirstEventTime, c.PeriodSec, c.OffsetSec, c.LastEventTime, c.SignerPublicKey,
		c.ID,
	)
	if err != nil {
		return false, fmt.Errorf("insert event class %s: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLite) ClassByID(id string) (event.Class, error) {
	c, err := scanClass(s.db.QueryRow(
		"SELECT "+classColumns+" FROM EVENTCLASS WHERE Id = ?", id,
	))
	if err == sql.ErrNoRows {
		return event.Class{}, ErrNotFound
	}
	if err != nil {
		return event.Class{}, fmt.Errorf("get event class %s: %w", id, err)
	}
	return c, nil
}

func (s *SQLite) LatestClassByDef(definition string) (event.Class, error) {
	c, err := scanClass(s.db.QueryRow(
		"SELECT "+classColumns+" FROM EVENTCLASS WHERE Definition = ? ORDER BY CreateTime DESC LIMIT 1",
		strings.ToUpper(definition),
	))
	if err == sql.ErrNoRows {
		return event.Class{}, ErrNotFound
	}
	if err != nil {
		return event.Class{}, fmt.Errorf("get latest event class %s: %w", definition, err)
	}
	return c, nil
}

func (s *SQLite) classesWhere(where string, args ...any) ([]event.Class, error) {
	rows, err := s.db.Query("SELECT "+classColumns+" FROM EVENTCLASS "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query event classes: %w", err)
	}
	defer rows.Close()

	var out []event.Class
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLite) ClassesByDef(definition string) ([]event.Class, error) {
	return s.classesWhere("WHERE Definition = ?", strings.ToUpper(definition))
}

func (s *SQLite) AllClasses() ([]event.Class, error) {
	return s.classesWhere("")
}

// ==================== Events ====================

func pubkeyInsertIfMissing(tx *sql.Tx, pubkey string) (int64, error) {
	var id int64
	err := tx.QueryRow("SELECT Id FROM PUBKEY WHERE Pubkey = ? LIMIT 1", pubkey).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	res, err := tx.Exec("INSERT INTO PUBKEY (Pubkey) VALUES (?)", pubkey)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func eventInsertIfMissing(tx *sql.Tx, e event.Event, pubkeyID int64) (bool, error) {
	res, err := tx.Exec(
		`INSERT INTO EVENT (EventId, ClassId, Definition, Time, StringTemplate, PublicKeyId)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM EVENT WHERE EventId = ?)`,
		e.EventID, e.ClassID, e.Definition, e.EventTime, e.StringTemplate, pubkeyID,
		e.EventID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLite) InsertEventIfMissing(e event.Event, signerPubKey string) (bool, error) {
	n, err := s.AppendEventsIfMissing([]event.Event{e}, signerPubKey)
	return n > 0, err
}

func (s *SQLite) AppendEventsIfMissing(evs []event.Event, signerPubKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("insert events: %w", err)
	}
	defer tx.Rollback()

	pubkeyID, err := pubkeyInsertIfMissing(tx, signerPubKey)
	if err != nil {
		return 0, fmt.Errorf("intern pubkey: %w", err)
	}
	added := 0
	for _, e := range evs {
		ok, err := eventInsertIfMissing(tx, e, pubkeyID)
		if err != nil {
			return 0, fmt.Errorf("insert event %s: %w", e.EventID, err)
		}
		if ok {
			added++
		}
	}
	return added, tx.Commit()
}

func (s *SQLite) EventByID(eventID string) (event.Event, error) {
	var e event.Event
	err := s.db.QueryRow(
		`SELECT EVENT.EventId, EVENT.ClassId, EVENT.Definition, EVENT.Time, EVENT.StringTemplate, PUBKEY.Pubkey
		FROM EVENT
		LEFT OUTER JOIN PUBKEY ON PUBKEY.Id = EVENT.PublicKeyId
		WHERE EVENT.EventId = ?`,
		eventID,
	).Scan(&e.EventID, &e.ClassID, &e.Definition, &e.EventTime, &e.StringTemplate, &e.PubKey)
	if err == sql.ErrNoRows {
		return event.Event{}, ErrNotFound
	}
	if err != nil {
		return event.Event{}, fmt.Errorf("get event %s: %w", eventID, err)
	}
	return e, nil
}

func (s *SQLite) EventsPastWithoutOutcome(now int64) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT EVENT.EventId
		FROM EVENT
		LEFT OUTER JOIN OUTCOME ON EVENT.EventId = OUTCOME.EventId
		WHERE Time <= ? AND OUTCOME.EventId IS NULL
		ORDER BY EVENT.Time ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("query past events: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (s *SQLite) EarliestTimeWithoutOutcome(cutoff int64) (int64, error) {
	var t sql.NullInt64
	err := s.db.QueryRow(
		`SELECT MIN(EVENT.Time)
		FROM EVENT
		LEFT OUTER JOIN OUTCOME ON EVENT.EventId = OUTCOME.EventId
		WHERE EVENT.Time >= ? AND OUTCOME.EventId IS NULL`,
		cutoff,
	).Scan(&t)
	if err != nil {
		return 0, fmt.Errorf("query earliest event: %w", err)
	}
	if !t.Valid {
		return 0, nil
	}
	return t.Int64, nil
}

func (s *SQLite) LatestEventTime(classID string) (int64, error) {
	var t sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(Time) FROM EVENT WHERE ClassId = ?", classID).Scan(&t)
	if err != nil {
		return 0, fmt.Errorf("query latest event time %s: %w", classID, err)
	}
	if !t.Valid {
		return 0, nil
	}
	return t.Int64, nil
}

func (s *SQLite) CountFutureEvents(now int64) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM EVENT WHERE Time > ?", now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count future events: %w", err)
	}
	return n, nil
}

func (s *SQLite) CountEvents() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM EVENT").Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func (s *SQLite) FilterEventIDs(start, end int64, definition string, limit int) ([]string, error) {
	var conds []string
	var args []any
	if start != 0 {
		conds = append(conds, "Time >= ?")
		args = append(args, start)
	}
	if end != 0 {
		conds = append(conds, "Time <= ?")
		args = append(args, end)
	}
	if definition != "" {
		conds = append(conds, "Definition = ?")
		args = append(args, strings.ToUpper(definition))
	}
	query := "SELECT EventId FROM EVENT"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY Time ASC"
	if limit != 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("filter events: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (s *SQLite) EventsWithoutNonces(limit int) ([]string, error) {
	query := `SELECT EventId FROM EVENT
		WHERE NOT EXISTS (SELECT 1 FROM NONCE WHERE NONCE.EventId = EVENT.EventId)
		ORDER BY Time ASC`
	var args []any
	if limit != 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events without nonces: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ==================== Nonces ====================

func (s *SQLite) InsertNonces(ns []event.Nonce) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("insert nonces: %w", err)
	}
	defer tx.Rollback()

	for _, n := range ns {
		_, err := tx.Exec(
			`INSERT INTO NONCE (EventId, DigitIndex, NoncePub, NonceSec)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (EventId, DigitIndex) DO NOTHING`,
			n.EventID, n.DigitIndex, n.Pub, n.Sec,
		)
		if err != nil {
			return fmt.Errorf("insert nonce %s/%d: %w", n.EventID, n.DigitIndex, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) Nonces(eventID string) ([]event.Nonce, error) {
	rows, err := s.db.Query(
		`SELECT EventId, DigitIndex, NoncePub, NonceSec
		FROM NONCE WHERE EventId = ? ORDER BY DigitIndex ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("query nonces %s: %w", eventID, err)
	}
	defer rows.Close()

	var out []event.Nonce
	for rows.Next() {
		var n event.Nonce
		if err := rows.Scan(&n.EventID, &n.DigitIndex, &n.Pub, &n.Sec); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ==================== Outcomes ====================

func (s *SQLite) Outcome(eventID string) (event.Outcome, error) {
	var o event.Outcome
	err := s.db.QueryRow(
		"SELECT EventId, Value, CreatedTime, SourceDesc FROM OUTCOME WHERE EventId = ? LIMIT 1",
		eventID,
	).Scan(&o.EventID, &o.Value, &o.CreatedTime, &o.SourceDesc)
	if err == sql.ErrNoRows {
		return event.Outcome{}, ErrNotFound
	}
	if err != nil {
		return event.Outcome{}, fmt.Errorf("get outcome %s: %w", eventID, err)
	}
	return o, nil
}

func (s *SQLite) DigitOutcomes(eventID string) ([]event.DigitOutcome, error) {
	rows, err := s.db.Query(
		`SELECT EventId, Idx, Value, Nonce, Signature, MsgStr
		FROM DIGITOUTCOME WHERE EventId = ? ORDER BY Idx ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("query digit outcomes %s: %w", eventID, err)
	}
	defer rows.Close()

	var out []event.DigitOutcome
	for rows.Next() {
		var d event.DigitOutcome
		if err := rows.Scan(&d.EventID, &d.DigitIndex, &d.Digit, &d.Nonce, &d.Signature, &d.MsgStr); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLite) OutcomeExists(eventID string) (bool, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM OUTCOME WHERE EventId = ?", eventID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check outcome %s: %w", eventID, err)
	}
	return n > 0, nil
}

func (s *SQLite) InsertOutcome(o event.Outcome, ds []event.DigitOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO OUTCOME (EventId, Value, CreatedTime, SourceDesc) VALUES (?, ?, ?, ?)",
		o.EventID, o.Value, o.CreatedTime, o.SourceDesc,
	)
	if err != nil {
		return fmt.Errorf("insert outcome %s: %w", o.EventID, err)
	}
	for _, d := range ds {
		_, err := tx.Exec(
			`INSERT INTO DIGITOUTCOME (EventId, Idx, Value, Nonce, Signature, MsgStr)
			VALUES (?, ?, ?, ?, ?, ?)`,
			d.EventID, d.DigitIndex, d.Digit, d.Nonce, d.Signature, d.MsgStr,
		)
		if err != nil {
			return fmt.Errorf("insert digit outcome %s/%d: %w", d.EventID, d.DigitIndex, err)
		}
	}
	if _, err := tx.Exec("DELETE FROM PENDINGSIGN WHERE EventId = ?", o.EventID); err != nil {
		return fmt.Errorf("clear pending sign %s: %w", o.EventID, err)
	}
	return tx.Commit()
}

// ==================== Pending signs ====================

func (s *SQLite) PutPendingSign(p PendingOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("put pending sign: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM PENDINGSIGN WHERE EventId = ?", p.EventID); err != nil {
		return fmt.Errorf("put pending sign %s: %w", p.EventID, err)
	}
	for _, d := range p.Digits {
		_, err := tx.Exec(
			`INSERT INTO PENDINGSIGN (EventId, Idx, Value, MsgStr, OutcomeValue, CreatedTime, SourceDesc)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.EventID, d.DigitIndex, d.Digit, d.MsgStr, p.Value, p.CreatedTime, p.SourceDesc,
		)
		if err != nil {
			return fmt.Errorf("put pending sign %s/%d: %w", p.EventID, d.DigitIndex, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) PendingSign(eventID string) (PendingOutcome, error) {
	rows, err := s.db.Query(
		`SELECT Idx, Value, MsgStr, OutcomeValue, CreatedTime, SourceDesc
		FROM PENDINGSIGN WHERE EventId = ? ORDER BY Idx ASC`,
		eventID,
	)
	if err != nil {
		return PendingOutcome{}, fmt.Errorf("query pending sign %s: %w", eventID, err)
	}
	defer rows.Close()

	p := PendingOutcome{EventID: eventID}
	for rows.Next() {
		var d event.PendingDigit
		d.EventID = eventID
		if err := rows.Scan(&d.DigitIndex, &d.Digit, &d.MsgStr, &p.Value, &p.CreatedTime, &p.SourceDesc); err != nil {
			return PendingOutcome{}, err
		}
		p.Digits = append(p.Digits, d)
	}
	if err := rows.Err(); err != nil {
		return PendingOutcome{}, err
	}
	if len(p.Digits) == 0 {
		return PendingOutcome{}, ErrNotFound
	}
	return p, nil
}

// ==================== Stats ====================

func (s *SQLite) Stats() (Stats, error) {
	var st Stats
	counts := []struct {
		table string
		dst   *int
	}{
		{"EVENTCLASS", &st.Classes},
		{"PUBKEY", &st.PubKeys},
		{"EVENT", &st.Events},
		{"NONCE", &st.Nonces},
		{"DIGITOUTCOME", &st.DigitOutcomes},
		{"OUTCOME", &st.Outcomes},
		{"PENDINGSIGN", &st.PendingSigns},
	}
	for _, c := range counts {
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + c.table).Scan(c.dst); err != nil {
			return Stats{}, fmt.Errorf("count %s: %w", c.table, err)
		}
	}
	return st, nil
}
