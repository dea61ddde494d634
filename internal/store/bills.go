package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/aih/billsim/internal/billpath"
)

// ErrNoSectionID rejects sections without an id attribute; such
// sections are skipped from persistence.
var ErrNoSectionID = errors.New("section has no id attribute")

// UpsertBill inserts or updates a bill by (billnumber, version) and
// returns the row id. Nil fields leave existing values untouched.
func (s *Store) UpsertBill(b Bill) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.withRetry(func() error {
		return s.db.QueryRow(`
			INSERT INTO bill (billnumber, version, length, sections_num)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(billnumber, version) DO UPDATE SET
				length = COALESCE(excluded.length, bill.length),
				sections_num = COALESCE(excluded.sections_num, bill.sections_num)
			RETURNING id`,
			b.Billnumber, b.Version, b.Length, b.SectionsNum).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert bill %s%s: %w", b.Billnumber, b.Version, err)
	}
	return id, nil
}

// GetBill fetches a bill by its billnumber_version identifier.
func (s *Store) GetBill(bnv string) (*Bill, error) {
	bn, err := billpath.ParseBillnumber(bnv)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var b Bill
	err = s.db.QueryRow(`
		SELECT id, billnumber, version, length, sections_num
		FROM bill WHERE billnumber = ? AND version = ?`,
		bn.String(), bn.Version).
		Scan(&b.ID, &b.Billnumber, &b.Version, &b.Length, &b.SectionsNum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bill %s: not found", bnv)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bill %s: %w", bnv, err)
	}
	return &b, nil
}

// ensureBillIDs resolves the bill row ids for a set of
// billnumber_version identifiers in one lookup, creating missing rows.
// Caller holds the mutex.
func (s *Store) ensureBillIDs(tx *sql.Tx, bnvs map[string]bool) (map[string]int64, error) {
	ids := make(map[string]int64, len(bnvs))
	if len(bnvs) == 0 {
		return ids, nil
	}

	placeholders := make([]string, 0, len(bnvs))
	args := make([]any, 0, len(bnvs))
	for _, bnv := range sortedKeys(bnvs) {
		placeholders = append(placeholders, "?")
		args = append(args, bnv)
	}

	rows, err := tx.Query(`
		SELECT id, billnumber || version FROM bill
		WHERE billnumber || version IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bill ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var bnv string
		if err := rows.Scan(&id, &bnv); err != nil {
			return nil, err
		}
		ids[bnv] = id
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Bill rows are created lazily on first reference.
	for _, bnv := range sortedKeys(bnvs) {
		if _, ok := ids[bnv]; ok {
			continue
		}
		bn, err := billpath.ParseBillnumber(bnv)
		if err != nil {
			return nil, fmt.Errorf("cannot create bill row: %w", err)
		}
		var id int64
		err = tx.QueryRow(`
			INSERT INTO bill (billnumber, version) VALUES (?, ?)
			ON CONFLICT(billnumber, version) DO UPDATE SET version = excluded.version
			RETURNING id`,
			bn.String(), bn.Version).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to create bill %s: %w", bnv, err)
		}
		ids[bnv] = id
	}
	return ids, nil
}

// UpsertSectionItem inserts or updates a section by
// (billnumber_version, section_id_attr) and returns the row id.
// Sections without an id attribute are rejected with ErrNoSectionID.
func (s *Store) UpsertSectionItem(sec SectionItem) (int64, error) {
	if sec.SectionIDAttr == "" {
		return 0, ErrNoSectionID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.withRetry(func() error {
		return s.db.QueryRow(`
			INSERT INTO section_item (billnumber_version, section_id_attr, label, header, length)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(billnumber_version, section_id_attr) DO UPDATE SET
				label = excluded.label,
				header = excluded.header,
				length = COALESCE(excluded.length, section_item.length)
			RETURNING id`,
			sec.BillnumberVersion, sec.SectionIDAttr, sec.Label, sec.Header, sec.Length).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert section %s/%s: %w",
			sec.BillnumberVersion, sec.SectionIDAttr, err)
	}
	return id, nil
}

// sectionKey identifies a section row for bulk id resolution.
type sectionKey struct {
	BillnumberVersion string
	SectionIDAttr     string
}

// ensureSectionIDs resolves section row ids in one lookup, creating
// missing rows. Caller holds the mutex.
func (s *Store) ensureSectionIDs(tx *sql.Tx, keys map[sectionKey]bool) (map[sectionKey]int64, error) {
	ids := make(map[sectionKey]int64, len(keys))
	if len(keys) == 0 {
		return ids, nil
	}

	ordered := make([]sectionKey, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}

	placeholders := make([]string, 0, len(ordered))
	args := make([]any, 0, 2*len(ordered))
	for _, k := range ordered {
		placeholders = append(placeholders, "(?, ?)")
		args = append(args, k.BillnumberVersion, k.SectionIDAttr)
	}

	rows, err := tx.Query(`
		SELECT id, billnumber_version, section_id_attr FROM section_item
		WHERE (billnumber_version, section_id_attr) IN (VALUES `+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve section ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var k sectionKey
		if err := rows.Scan(&id, &k.BillnumberVersion, &k.SectionIDAttr); err != nil {
			return nil, err
		}
		ids[k] = id
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, k := range ordered {
		if _, ok := ids[k]; ok {
			continue
		}
		if k.SectionIDAttr == "" {
			return nil, ErrNoSectionID
		}
		var id int64
		err := tx.QueryRow(`
			INSERT INTO section_item (billnumber_version, section_id_attr)
			VALUES (?, ?)
			ON CONFLICT(billnumber_version, section_id_attr) DO UPDATE SET
				section_id_attr = excluded.section_id_attr
			RETURNING id`,
			k.BillnumberVersion, k.SectionIDAttr).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to create section %s/%s: %w",
				k.BillnumberVersion, k.SectionIDAttr, err)
		}
		ids[k] = id
	}
	return ids, nil
}
