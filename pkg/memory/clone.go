package memory

import "time"

// Clone returns a deep copy of the item so callers may hand it to concurrent
// scoring passes without sharing slices or maps.
func (it Item) Clone() Item {
	c := it
	if it.Tags != nil {
		c.Tags = append([]string(nil), it.Tags...)
	}
	if it.RelatedTo != nil {
		c.RelatedTo = append([]string(nil), it.RelatedTo...)
	}
	if it.Timestamp != nil {
		c.Timestamp = timePtr(*it.Timestamp)
	}
	if it.ExpiresAt != nil {
		c.ExpiresAt = timePtr(*it.ExpiresAt)
	}
	if it.ImportanceScore != nil {
		v := *it.ImportanceScore
		c.ImportanceScore = &v
	}
	if it.Similarity != nil {
		v := *it.Similarity
		c.Similarity = &v
	}
	if it.Extra != nil {
		c.Extra = make(map[string]string, len(it.Extra))
		for k, v := range it.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

func timePtr(t time.Time) *time.Time { return &t }

// Float returns a pointer to v, for optional numeric fields.
func Float(v float64) *float64 { return &v }

// Time returns a pointer to t, for optional time fields.
func Time(t time.Time) *time.Time { return &t }
