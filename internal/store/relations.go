package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// SaveRelations upserts bill-to-bill relations and their section edges
// in a single transaction, so a relation row is never visible without
// the section edges written alongside it. Bill and section rows for
// both sides are created lazily. Non-nil fields overwrite stored
// values; reasons are set-union merged with the stored reasonsstring.
func (s *Store) SaveRelations(relations []BillToBill, sections []SectionToSection) error {
	if len(relations) == 0 && len(sections) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if len(relations) > 0 {
			if err := s.saveBillToBillTx(tx, relations); err != nil {
				return err
			}
		}
		if len(sections) > 0 {
			if err := s.saveSectionToSectionTx(tx, sections); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// SaveBillToBill upserts one bill-to-bill relation.
func (s *Store) SaveBillToBill(b2b BillToBill) error {
	return s.SaveRelations([]BillToBill{b2b}, nil)
}

// SaveBillToBillWithSections upserts a bill-to-bill relation and its
// section-to-section edges together.
func (s *Store) SaveBillToBillWithSections(b2b BillToBill, sections []SectionToSection) error {
	return s.SaveRelations([]BillToBill{b2b}, sections)
}

// SaveBillToBillBulk upserts many relations in one transaction.
func (s *Store) SaveBillToBillBulk(relations []BillToBill) error {
	return s.SaveRelations(relations, nil)
}

// SaveSectionToSectionBulk upserts many section edges in one
// transaction.
func (s *Store) SaveSectionToSectionBulk(sections []SectionToSection) error {
	return s.SaveRelations(nil, sections)
}

// billPair keys a bill_to_bill row by its resolved ids.
type billPair struct {
	from, to int64
}

func (s *Store) saveBillToBillTx(tx *sql.Tx, relations []BillToBill) error {
	bnvs := make(map[string]bool)
	for _, r := range relations {
		bnvs[r.BillnumberVersion] = true
		bnvs[r.BillnumberVersionTo] = true
	}
	billIDs, err := s.ensureBillIDs(tx, bnvs)
	if err != nil {
		return err
	}

	// reasonsstring is the only merged column; one lookup fetches the
	// stored value for every pair.
	existing, err := existingReasons(tx, relations, billIDs)
	if err != nil {
		return err
	}

	placeholders := make([]string, 0, len(relations))
	args := make([]any, 0, 10*len(relations))
	for _, r := range relations {
		from := billIDs[r.BillnumberVersion]
		to := billIDs[r.BillnumberVersionTo]

		reasons := MergeReasons(existing[billPair{from, to}], JoinReasons(r.Reasons))
		var reasonsArg any
		if reasons != "" {
			reasonsArg = reasons
		}
		var identifiedBy any
		if r.IdentifiedBy != "" {
			identifiedBy = r.IdentifiedBy
		}

		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, from, to, r.ScoreES, r.Score, r.ScoreTo,
			reasonsArg, identifiedBy, r.SectionsNum, r.SectionsMatch, r.CurrencyID)
	}

	_, err = tx.Exec(`
		INSERT INTO bill_to_bill
			(bill_id, bill_to_id, score_es, score, score_to,
			 reasonsstring, identified_by, sections_num, sections_match, currency_id)
		VALUES `+strings.Join(placeholders, ",")+`
		ON CONFLICT(bill_id, bill_to_id) DO UPDATE SET
			score_es = COALESCE(excluded.score_es, bill_to_bill.score_es),
			score = COALESCE(excluded.score, bill_to_bill.score),
			score_to = COALESCE(excluded.score_to, bill_to_bill.score_to),
			reasonsstring = COALESCE(excluded.reasonsstring, bill_to_bill.reasonsstring),
			identified_by = COALESCE(excluded.identified_by, bill_to_bill.identified_by),
			sections_num = COALESCE(excluded.sections_num, bill_to_bill.sections_num),
			sections_match = COALESCE(excluded.sections_match, bill_to_bill.sections_match),
			currency_id = excluded.currency_id`, args...)
	if err != nil {
		return fmt.Errorf("failed to upsert %d relations: %w", len(relations), err)
	}
	return nil
}

// existingReasons reads the stored reasonsstring for every relation
// pair in one query.
func existingReasons(tx *sql.Tx, relations []BillToBill, billIDs map[string]int64) (map[billPair]string, error) {
	placeholders := make([]string, 0, len(relations))
	args := make([]any, 0, 2*len(relations))
	for _, r := range relations {
		placeholders = append(placeholders, "(?, ?)")
		args = append(args, billIDs[r.BillnumberVersion], billIDs[r.BillnumberVersionTo])
	}

	rows, err := tx.Query(`
		SELECT bill_id, bill_to_id, reasonsstring FROM bill_to_bill
		WHERE (bill_id, bill_to_id) IN (VALUES `+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read existing relations: %w", err)
	}
	defer rows.Close()

	existing := make(map[billPair]string)
	for rows.Next() {
		var p billPair
		var reasons sql.NullString
		if err := rows.Scan(&p.from, &p.to, &reasons); err != nil {
			return nil, err
		}
		existing[p] = reasons.String
	}
	return existing, rows.Err()
}

func (s *Store) saveSectionToSectionTx(tx *sql.Tx, sections []SectionToSection) error {
	bnvs := make(map[string]bool)
	secKeys := make(map[sectionKey]bool)
	for _, e := range sections {
		bnvs[e.BillnumberVersion] = true
		bnvs[e.BillnumberVersionTo] = true
		secKeys[sectionKey{e.BillnumberVersion, e.SectionIDAttr}] = true
		secKeys[sectionKey{e.BillnumberVersionTo, e.SectionIDAttrTo}] = true
	}

	billIDs, err := s.ensureBillIDs(tx, bnvs)
	if err != nil {
		return err
	}
	sectionIDs, err := s.ensureSectionIDs(tx, secKeys)
	if err != nil {
		return err
	}

	placeholders := make([]string, 0, len(sections))
	args := make([]any, 0, 6*len(sections))
	for _, e := range sections {
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?)")
		args = append(args,
			sectionIDs[sectionKey{e.BillnumberVersion, e.SectionIDAttr}],
			sectionIDs[sectionKey{e.BillnumberVersionTo, e.SectionIDAttrTo}],
			billIDs[e.BillnumberVersion], billIDs[e.BillnumberVersionTo],
			e.Score, e.CurrencyID)
	}

	_, err = tx.Exec(`
		INSERT INTO section_to_section
			(section_id, section_to_id, bill_id, bill_to_id, score, currency_id)
		VALUES `+strings.Join(placeholders, ",")+`
		ON CONFLICT(section_id, section_to_id) DO UPDATE SET
			score = COALESCE(excluded.score, section_to_section.score),
			currency_id = excluded.currency_id`, args...)
	if err != nil {
		return fmt.Errorf("failed to upsert %d section edges: %w", len(sections), err)
	}
	return nil
}

// GetBillToBill returns the stored relations for a query bill, most
// similar first.
func (s *Store) GetBillToBill(bnv string) ([]BillToBill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT b.billnumber || b.version,
		       bt.billnumber || bt.version,
		       r.score_es, r.score, r.score_to,
		       r.reasonsstring, r.identified_by,
		       r.sections_num, r.sections_match, r.currency_id
		FROM bill_to_bill r
		JOIN bill b ON b.id = r.bill_id
		JOIN bill bt ON bt.id = r.bill_to_id
		WHERE b.billnumber || b.version = ?
		ORDER BY r.score_es DESC`, bnv)
	if err != nil {
		return nil, fmt.Errorf("failed to query relations for %s: %w", bnv, err)
	}
	defer rows.Close()

	var out []BillToBill
	for rows.Next() {
		var r BillToBill
		var reasons, identifiedBy sql.NullString
		if err := rows.Scan(&r.BillnumberVersion, &r.BillnumberVersionTo,
			&r.ScoreES, &r.Score, &r.ScoreTo,
			&reasons, &identifiedBy,
			&r.SectionsNum, &r.SectionsMatch, &r.CurrencyID); err != nil {
			return nil, err
		}
		r.Reasons = SplitReasons(reasons.String)
		r.IdentifiedBy = identifiedBy.String
		out = append(out, r)
	}
	return out, rows.Err()
}
